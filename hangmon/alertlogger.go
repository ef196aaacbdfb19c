package hangmon

import (
	"log"
)

// AlertLogger is a hook that prints emitted alerts.
type AlertLogger struct {
	*log.Logger
}

// NewAlertLogger returns a new AlertLogger which will write into the logger.
func NewAlertLogger(logger *log.Logger) *AlertLogger {
	h := new(AlertLogger)
	h.Logger = logger
	return h
}

// Func writes the alert information into the logger.
func (h *AlertLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosAlert {
		return
	}

	alert := ctx.Item.(Alert)
	h.Printf("%s hang, %s, annotation %v",
		alert.Kind, string(alert.Component), alert.Annotation)
}
