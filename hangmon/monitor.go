package hangmon

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/xid"
)

// defaultPollInterval bounds detection latency: a hang is reported within one
// interval plus the duration of one checkpoint pass.
const defaultPollInterval = 100 * time.Millisecond

// A BackgroundHangMonitor tracks the liveness of registered components and
// escalates a transient and then a permanent alert when a component stops
// reporting activity within its grace periods. It detects and reports only;
// deciding remedial action is the consumer's job.
type BackgroundHangMonitor struct {
	HookableBase

	registry     *Registry
	port         <-chan Msg
	alerts       AlertSink
	pollInterval time.Duration
	timeTeller   TimeTeller
	logger       *log.Logger
}

// NewBackgroundHangMonitor creates a monitor that reads component reports
// from port and delivers alerts to sink. The given component is registered
// immediately, in the waiting state. Registering a component twice fails
// with ErrDuplicateComponent.
func NewBackgroundHangMonitor(
	port <-chan Msg,
	sink AlertSink,
	id ComponentID,
	transientHangTimeout time.Duration,
	permanentHangTimeout time.Duration,
) (*BackgroundHangMonitor, error) {
	m := new(BackgroundHangMonitor)
	m.port = port
	m.alerts = sink
	m.pollInterval = defaultPollInterval
	m.timeTeller = wallClock{}
	m.registry = NewRegistry(m.timeTeller)
	m.logger = log.New(os.Stderr, "hangmon: ", log.LstdFlags)

	err := m.registry.Register(id, transientHangTimeout, permanentHangTimeout)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// WithPollInterval sets how often the monitor re-evaluates components when no
// message arrives.
func (m *BackgroundHangMonitor) WithPollInterval(
	interval time.Duration,
) *BackgroundHangMonitor {
	m.pollInterval = interval
	return m
}

// WithTimeTeller sets the clock the monitor reads. Mainly useful in tests.
func (m *BackgroundHangMonitor) WithTimeTeller(
	timeTeller TimeTeller,
) *BackgroundHangMonitor {
	m.timeTeller = timeTeller
	m.registry.timeTeller = timeTeller
	return m
}

// WithLogger sets the logger used to report dispatch errors.
func (m *BackgroundHangMonitor) WithLogger(
	logger *log.Logger,
) *BackgroundHangMonitor {
	m.logger = logger
	return m
}

// RegisterComponent adds one more component to watch. Must be called before
// Run; the registry is owned by the monitor goroutine afterwards.
func (m *BackgroundHangMonitor) RegisterComponent(
	id ComponentID,
	transientHangTimeout time.Duration,
	permanentHangTimeout time.Duration,
) error {
	return m.registry.Register(id, transientHangTimeout, permanentHangTimeout)
}

// Run drives the monitor until the inbound port is closed, which is the only
// way monitoring ends. Each iteration waits for a message or for the poll
// interval, whichever comes first, then runs exactly one checkpoint pass.
// The checkpoint runs whether or not a message arrived, so hangs are caught
// even with no message traffic.
func (m *BackgroundHangMonitor) Run() error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-m.port:
			if !ok {
				return nil
			}

			if err := m.handleMsg(msg); err != nil {
				// A malformed or late message must not take down
				// hang detection for the other components.
				m.logger.Print(err)
				m.InvokeHook(HookCtx{
					Domain: m,
					Pos:    HookPosMsgError,
					Item:   err,
				})
			}
		case <-ticker.C:
		}

		m.checkpoint()
	}
}

func (m *BackgroundHangMonitor) handleMsg(msg Msg) error {
	c, err := m.registry.lookup(msg.Component)
	if err != nil {
		return err
	}

	switch msg.Type {
	case MsgNotifyActivity:
		c.lastActivity = m.timeTeller.CurrentTime()
		c.lastAnnotation = msg.Annotation
		c.isWaiting = false
		// The alert-sent flags stay as they are. A component that keeps
		// reporting activity while already past a threshold does not
		// re-trigger an alert; only the next wait cycle regains
		// eligibility.
	case MsgNotifyWait:
		c.lastActivity = m.timeTeller.CurrentTime()
		c.sentTransientAlert = false
		c.sentPermanentAlert = false
		c.isWaiting = true
	default:
		return fmt.Errorf("component %q: unknown message type %d",
			string(msg.Component), msg.Type)
	}

	return nil
}

// checkpoint evaluates every registered component once. Waiting components
// are never evaluated. The permanent threshold is checked first and
// supersedes the transient one.
func (m *BackgroundHangMonitor) checkpoint() {
	now := m.timeTeller.CurrentTime()

	for id, c := range m.registry.components {
		if c.isWaiting {
			continue
		}

		elapsed := now.Sub(c.lastActivity)

		if elapsed > c.permanentHangTimeout {
			if !c.sentPermanentAlert {
				m.emit(AlertPermanent, id, c.lastAnnotation, now)
				c.sentPermanentAlert = true
			}

			continue
		}

		if elapsed > c.transientHangTimeout && !c.sentTransientAlert {
			m.emit(AlertTransient, id, c.lastAnnotation, now)
			c.sentTransientAlert = true
		}
	}

	if len(m.Hooks) > 0 {
		m.InvokeHook(HookCtx{
			Domain: m,
			Pos:    HookPosCheckpoint,
			Item:   m.registry.Snapshot(),
		})
	}
}

func (m *BackgroundHangMonitor) emit(
	kind AlertKind,
	id ComponentID,
	annotation HangAnnotation,
	now time.Time,
) {
	alert := Alert{
		ID:         xid.New().String(),
		Kind:       kind,
		Component:  id,
		Annotation: annotation,
		Time:       now,
	}

	// Alert delivery is telemetry. A rejected alert is dropped, not
	// retried, and must never become a failure of the monitor itself.
	_ = m.alerts.Send(alert)

	m.InvokeHook(HookCtx{Domain: m, Pos: HookPosAlert, Item: alert})
}
