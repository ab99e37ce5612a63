// Package observability provides signal reporting for the runtime core.
// Every fault and lifecycle transition in the store, autorun engine,
// schedulers, and service runtime is reported as exactly one Event to the
// configured Observer, so no fault is ever absorbed without a visible trace.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// Level represents signal severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the severity name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// SlogLevel maps this level to the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies the kind of signal. Each subsystem defines its own
// constants using this type (e.g. "store.reducer_fault", "service.running").
type EventType string

// Event is a single observability signal.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Observer receives signals from runtime subsystems.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// Emit builds an Event with the current timestamp and delivers it to obs.
// A nil observer is a no-op, so subsystems can emit unconditionally.
func Emit(ctx context.Context, obs Observer, typ EventType, level Level, source string, data map[string]any) {
	if obs == nil {
		return
	}
	obs.OnEvent(ctx, Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	})
}
