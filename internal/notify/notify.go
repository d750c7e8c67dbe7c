// Package notify carries user-facing notifications out of the sync engine.
// The engine never renders anything; a UI plugs in by implementing Notifier.
package notify

import "log/slog"

// Level indicates toast urgency.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Toast is one user-facing notification. LinkURL/LinkText optionally carry
// an action link, e.g. a direct-open URL for a provisioned org or a
// downloadable log for a failed one.
type Toast struct {
	Level    Level
	Summary  string
	Detail   string
	LinkURL  string
	LinkText string
}

// Notifier receives toasts and connectivity changes. Implementations must
// not block; the engine calls from its event-handling path.
type Notifier interface {
	Notify(t Toast)
	// Connectivity reports channel up/down as a passive indicator. Fired
	// after the close grace period, never as a blocking error.
	Connectivity(up bool)
}

// LogNotifier writes notifications to a slog logger. Used by the CLI watch
// command and as a default when no UI is attached.
type LogNotifier struct {
	Log *slog.Logger
}

// Notify logs the toast at a level matching its urgency.
func (n LogNotifier) Notify(t Toast) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"detail", t.Detail}
	if t.LinkURL != "" {
		attrs = append(attrs, "link", t.LinkURL)
	}
	switch t.Level {
	case LevelError:
		log.Error(t.Summary, attrs...)
	default:
		log.Info(t.Summary, attrs...)
	}
}

// Connectivity logs the indicator change.
func (n LogNotifier) Connectivity(up bool) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	if up {
		log.Info("connection restored")
	} else {
		log.Warn("connection lost")
	}
}
