// Package events defines the lifecycle event stream consumed by the
// supervising UI. The engine treats sinks as pure observers: publish
// failures never alter loop behavior.
package events

import (
	"context"
	"sync"
	"time"
)

// Type enumerates the lifecycle events a session emits.
type Type string

const (
	CycleStarted      Type = "cycle_started"
	AssistantMessage  Type = "assistant_message"
	ToolRequested     Type = "tool_requested"
	PermissionPending Type = "permission_pending"
	ToolCompleted     Type = "tool_completed"
	CycleFinished     Type = "cycle_finished"
	CompactionDone    Type = "compaction_done"
	SessionFinished   Type = "session_finished"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type
	SessionID string
	Cycle     int
	Tool      string
	RequestID string
	GrantKey  string
	Content   string
	IsError   bool
	At        time.Time
}

// Sink receives lifecycle events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }

// MemorySink records events in order; used by tests and transcript export.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType filters recorded events.
func (s *MemorySink) ByType(t Type) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, e Event) error {
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
