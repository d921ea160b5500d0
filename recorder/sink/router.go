package sink

import (
	"context"
	"log/slog"
)

// Router delivers every event to all its sinks. A failing sink is logged
// and does not keep the event from the others.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a Router over sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink. It must not race with Send.
func (r *Router) Add(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

// Send returns the first sink error.
func (r *Router) Send(ctx context.Context, ev Event) error {
	var first error
	for i, s := range r.sinks {
		err := s.Send(ctx, ev)
		if err == nil {
			continue
		}
		r.logger.Warn("sink: delivery failed", "sink", i, "type", ev.Type, "session_id", ev.SessionID, "error", err)
		if first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink and returns the first error.
func (r *Router) Close() error {
	var first error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// filtered passes on the listed event types only.
type filtered struct {
	Sink
	types map[string]bool
}

// Filter wraps s so that it receives only the given event types. No types
// means all events.
func Filter(s Sink, types ...string) Sink {
	if len(types) == 0 {
		return s
	}
	f := &filtered{Sink: s, types: make(map[string]bool, len(types))}
	for _, t := range types {
		f.types[t] = true
	}
	return f
}

func (f *filtered) Send(ctx context.Context, ev Event) error {
	if !f.types[ev.Type] {
		return nil
	}
	return f.Sink.Send(ctx, ev)
}
