// Package hangmon implements a background hang monitor. The monitor runs on
// its own goroutine, next to the components it watches, and raises escalating
// alerts when a component stops reporting activity within its grace periods.
// A hung component can therefore never hang its own watchdog.
package hangmon

import (
	"time"
)

// A ComponentID identifies a component that is being watched. IDs are
// assigned by the owner of the monitor; the registry only requires that they
// are unique.
type ComponentID string

// A HangAnnotation is an opaque payload that a component attaches to its most
// recent activity report. It is carried unchanged into alerts for diagnostic
// context.
type HangAnnotation any

// MsgType tells what a component is reporting.
type MsgType int

const (
	// MsgNotifyActivity reports that the component made progress.
	MsgNotifyActivity MsgType = iota

	// MsgNotifyWait reports that the component is intentionally idle and
	// must not be evaluated for hangs until its next activity report.
	MsgNotifyWait
)

// A Msg is one report from a monitored component. Annotation is only
// meaningful for MsgNotifyActivity.
type Msg struct {
	Component  ComponentID
	Type       MsgType
	Annotation HangAnnotation
}

// AlertKind classifies a hang alert.
type AlertKind int

const (
	// AlertTransient marks inactivity past the transient timeout but not
	// yet past the permanent one.
	AlertTransient AlertKind = iota

	// AlertPermanent marks inactivity past the permanent timeout. It
	// supersedes the transient classification.
	AlertPermanent
)

// String returns the name of the alert kind.
func (k AlertKind) String() string {
	switch k {
	case AlertTransient:
		return "transient"
	case AlertPermanent:
		return "permanent"
	}

	return "unknown"
}

// An Alert reports one hang escalation for one component. The annotation is
// the one attached to the component's last observed activity.
type Alert struct {
	ID         string         `json:"id"`
	Kind       AlertKind      `json:"kind"`
	Component  ComponentID    `json:"component"`
	Annotation HangAnnotation `json:"annotation"`
	Time       time.Time      `json:"time"`
}
