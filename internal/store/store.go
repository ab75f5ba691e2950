// Package store persists finished sessions, their transcripts, and the
// permission audit trail.
package store

import (
	"context"
	"time"
)

// SessionRecord is the persisted header for one session.
type SessionRecord struct {
	ID         string
	Root       string
	State      string
	TurnCount  int
	StartedAt  time.Time
	FinishedAt time.Time
}

// TurnRecord is one persisted transcript entry. Requests and Result hold
// the JSON encoding of the in-memory structures.
type TurnRecord struct {
	SessionID string
	Idx       int
	Kind      string
	Content   string
	Requests  string
	Result    string
	At        time.Time
}

// PermissionEntry is one audit-log row: a grant key and how it resolved.
type PermissionEntry struct {
	ID        string
	SessionID string
	Tool      string
	GrantKey  string
	Decision  string
	At        time.Time
}

// Store defines the persistence interface for pilot.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, rec *SessionRecord, turns []TurnRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)
	ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error)

	// Permission audit
	RecordPermission(ctx context.Context, entry *PermissionEntry) error
	ListPermissions(ctx context.Context, sessionID string) ([]*PermissionEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
