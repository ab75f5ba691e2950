package session

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LoopState is the agent loop's position in its cycle state machine.
type LoopState string

const (
	StateIdle        LoopState = "idle"
	StateReasoning   LoopState = "reasoning"
	StateDispatching LoopState = "dispatching"
	StateObserving   LoopState = "observing"
	StateCompacting  LoopState = "compacting"
	StateAnswered    LoopState = "answered"
	StateCancelled   LoopState = "cancelled"
	StateFailed      LoopState = "failed"
)

// IsTerminal reports whether the loop can make no further progress.
func (s LoopState) IsTerminal() bool {
	return s == StateAnswered || s == StateCancelled || s == StateFailed
}

// Session is one supervised run over a working directory. The turn list is
// append-only; ordering is the source of truth for replay and compaction.
// Sessions live only for the process lifetime unless exported through a store.
type Session struct {
	ID        string
	Root      string // absolute, immutable for the session
	StartedAt time.Time

	mu      sync.Mutex
	turns   []Turn
	summary *Turn // synthesized turn covering turns[:marker]
	marker  int   // compaction boundary, monotonically non-decreasing
	queued  []string
	state   LoopState
}

// New creates a session rooted at the given directory. The root is resolved
// to an absolute path once and never changes afterwards.
func New(root string) (*Session, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve session root: %w", err)
	}
	return &Session{
		ID:        NewID(),
		Root:      abs,
		StartedAt: time.Now().UTC(),
		state:     StateIdle,
	}, nil
}

// NewID generates a ULID string for sessions and notices.
func NewID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Append adds a turn to the transcript and returns its index.
func (s *Session) Append(t Turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	s.turns = append(s.turns, t)
	return len(s.turns) - 1
}

// Turns returns a copy of the full transcript, including compacted turns.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns appended so far.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Live returns the turns that participate in prompt assembly: the summary
// turn (when a compaction has happened) followed by all turns at or above
// the compaction marker.
func (s *Session) Live() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Turn
	if s.summary != nil {
		out = append(out, *s.summary)
	}
	out = append(out, s.turns[s.marker:]...)
	return out
}

// Marker returns the current compaction boundary.
func (s *Session) Marker() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker
}

// Summary returns the current summary turn, or nil before any compaction.
func (s *Session) Summary() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return nil
	}
	cp := *s.summary
	return &cp
}

// Compact installs a summary turn covering everything below boundary and
// advances the marker. The marker never moves backwards; a boundary at or
// below the current marker is rejected.
func (s *Session) Compact(boundary int, summary Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if boundary <= s.marker {
		return fmt.Errorf("compaction boundary %d does not advance marker %d", boundary, s.marker)
	}
	if boundary > len(s.turns) {
		return fmt.Errorf("compaction boundary %d beyond transcript length %d", boundary, len(s.turns))
	}
	if summary.At.IsZero() {
		summary.At = time.Now().UTC()
	}
	s.summary = &summary
	s.marker = boundary
	return nil
}

// QueueInput stores user input that arrived while a cycle was in flight.
// It is drained into the conversation before the next model call.
func (s *Session) QueueInput(input string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, input)
}

// DrainInputs returns and clears all queued user inputs.
func (s *Session) DrainInputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queued
	s.queued = nil
	return out
}

// State returns the current loop state.
func (s *Session) State() LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState records a loop state transition. Terminal states are sticky.
func (s *Session) SetState(state LoopState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = state
}
