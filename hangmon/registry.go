package hangmon

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateComponent is returned when a component is registered twice.
// A silently ignored duplicate would hide a configuration bug, so callers
// must treat this error as fatal to monitor construction.
var ErrDuplicateComponent = errors.New("component already registered")

// ErrUnknownComponent is returned when a message references a component that
// was never registered.
var ErrUnknownComponent = errors.New("component not registered")

// A monitoredComponent is the hang state of one component. It is created at
// registration and mutated in place for the life of the monitor; components
// are never removed.
type monitoredComponent struct {
	lastActivity         time.Time
	lastAnnotation       HangAnnotation
	transientHangTimeout time.Duration
	permanentHangTimeout time.Duration
	sentTransientAlert   bool
	sentPermanentAlert   bool
	isWaiting            bool
}

// A Registry maps component IDs to their hang state. The monitor goroutine
// owns the registry end to end, so it needs no locking.
type Registry struct {
	timeTeller TimeTeller
	components map[ComponentID]*monitoredComponent
}

// NewRegistry creates an empty Registry that reads time from timeTeller.
func NewRegistry(timeTeller TimeTeller) *Registry {
	r := new(Registry)
	r.timeTeller = timeTeller
	r.components = make(map[ComponentID]*monitoredComponent)
	return r
}

// Register inserts a new component in the waiting state, with its last
// activity set to the current time and no alert sent. A duplicate ID fails
// with ErrDuplicateComponent and leaves the registry untouched.
func (r *Registry) Register(
	id ComponentID,
	transientHangTimeout time.Duration,
	permanentHangTimeout time.Duration,
) error {
	if _, ok := r.components[id]; ok {
		return fmt.Errorf("registering %q: %w", string(id), ErrDuplicateComponent)
	}

	r.components[id] = &monitoredComponent{
		lastActivity:         r.timeTeller.CurrentTime(),
		transientHangTimeout: transientHangTimeout,
		permanentHangTimeout: permanentHangTimeout,
		isWaiting:            true,
	}

	return nil
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	return len(r.components)
}

func (r *Registry) lookup(id ComponentID) (*monitoredComponent, error) {
	c, ok := r.components[id]
	if !ok {
		return nil, fmt.Errorf("component %q: %w", string(id), ErrUnknownComponent)
	}

	return c, nil
}
