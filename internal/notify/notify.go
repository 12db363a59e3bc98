// Package notify publishes enforcement events to other services.
package notify

import (
	"context"
	"sync"
	"time"
)

// Event types
const (
	EventEnforcementChanged = "enforcement.changed"
	EventGrantIssued        = "grant.issued"
	EventSessionStarted     = "session.started"
	EventSessionSuperseded  = "session.superseded"
	EventSessionEnded       = "session.ended"
)

// Event is a single published notification
type Event struct {
	Type       string         `json:"type"`
	ProfileID  string         `json:"profile_id"`
	SessionID  string         `json:"session_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close is a no-op
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events, optionally filtered by type
func (r *Recorder) Events(types ...string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		if len(types) == 0 || contains(types, ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
