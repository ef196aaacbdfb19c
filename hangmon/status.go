package hangmon

import (
	"sort"
	"time"
)

// A ComponentStatus is a read-only copy of the hang state of one component.
type ComponentStatus struct {
	Component            ComponentID   `json:"component"`
	LastActivity         time.Time     `json:"last_activity"`
	IsWaiting            bool          `json:"is_waiting"`
	SentTransientAlert   bool          `json:"sent_transient_alert"`
	SentPermanentAlert   bool          `json:"sent_permanent_alert"`
	TransientHangTimeout time.Duration `json:"transient_hang_timeout"`
	PermanentHangTimeout time.Duration `json:"permanent_hang_timeout"`
}

// Snapshot copies the state of every registered component, sorted by ID so
// that the output is stable.
func (r *Registry) Snapshot() []ComponentStatus {
	statuses := make([]ComponentStatus, 0, len(r.components))

	for id, c := range r.components {
		statuses = append(statuses, ComponentStatus{
			Component:            id,
			LastActivity:         c.lastActivity,
			IsWaiting:            c.isWaiting,
			SentTransientAlert:   c.sentTransientAlert,
			SentPermanentAlert:   c.sentPermanentAlert,
			TransientHangTimeout: c.transientHangTimeout,
			PermanentHangTimeout: c.permanentHangTimeout,
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Component < statuses[j].Component
	})

	return statuses
}
