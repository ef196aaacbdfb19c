package hangmon

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookPosAlert is a hook position that triggers after an alert is emitted.
// The Item of the context is the Alert.
var HookPosAlert = &HookPos{Name: "Alert"}

// HookPosCheckpoint is a hook position that triggers after each checkpoint
// pass. The Item of the context is a []ComponentStatus snapshot of the
// registry.
var HookPosCheckpoint = &HookPos{Name: "Checkpoint"}

// HookPosMsgError is a hook position that triggers when an inbound message
// cannot be dispatched. The Item of the context is the dispatch error.
var HookPosMsgError = &HookPos{Name: "MsgError"}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
}

// Hookable defines an object that accepts Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)
}

// Hook is a short piece of program that can be invoked by a hookable object.
// Hooks registered with a monitor run on the monitor goroutine.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// A HookableBase provides some utility function for other types that
// implement the Hookable interface.
type HookableBase struct {
	Hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// InvokeHook triggers the registered Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
