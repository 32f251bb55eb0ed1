package events

import (
	"log/slog"
	"sort"

	"pegvault/core/types"
)

// Recorder is implemented by events that can render themselves as a typed
// record with string attributes for logs and external subscribers.
type Recorder interface {
	Event() *types.Event
}

// LogEmitter publishes every event to a structured logger. It is the default
// subscriber wired by the daemon so state changes show up in the log stream.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter builds an emitter writing to logger, or to the default logger
// when nil.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{log: logger}
}

// Emit implements the Emitter interface.
func (e *LogEmitter) Emit(evt Event) {
	if e == nil || evt == nil {
		return
	}
	args := []any{slog.String("type", evt.EventType())}
	if recorder, ok := evt.(Recorder); ok {
		if record := recorder.Event(); record != nil {
			keys := make([]string, 0, len(record.Attributes))
			for key := range record.Attributes {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				args = append(args, slog.String(key, record.Attributes[key]))
			}
		}
	}
	e.log.Info("event", args...)
}
