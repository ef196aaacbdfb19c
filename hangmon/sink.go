package hangmon

import "fmt"

// An AlertSink accepts the alerts the monitor emits. Implementations decide
// how alerts reach the supervisor; the monitor treats delivery as
// best-effort and ignores the returned error.
type AlertSink interface {
	Send(alert Alert) error
}

// A ChannelSink delivers alerts to a Go channel without blocking. An alert
// that does not fit in the channel buffer is dropped.
type ChannelSink struct {
	ch chan<- Alert
}

// NewChannelSink creates a sink backed by ch. The channel must stay open for
// as long as the monitor runs.
func NewChannelSink(ch chan<- Alert) *ChannelSink {
	return &ChannelSink{ch: ch}
}

// Send places the alert in the channel, or drops it if the channel is full
// or closed. Delivery failures must never propagate out of the monitor, so a
// send on a closed channel is converted into the returned error.
func (s *ChannelSink) Send(alert Alert) (err error) {
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("alert channel closed, dropping %s alert for %q",
				alert.Kind, string(alert.Component))
		}
	}()

	select {
	case s.ch <- alert:
		return nil
	default:
		return fmt.Errorf("alert channel full, dropping %s alert for %q",
			alert.Kind, string(alert.Component))
	}
}
