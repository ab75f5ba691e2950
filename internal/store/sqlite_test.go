package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilotdev/pilot/internal/session"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSaveAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{
		ID:        session.NewID(),
		Root:      "/work/project",
		State:     "answered",
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	turns := []TurnRecord{
		{SessionID: rec.ID, Idx: 0, Kind: "user", Content: "fix the bug", At: time.Now().UTC()},
		{SessionID: rec.ID, Idx: 1, Kind: "assistant", Content: "done", At: time.Now().UTC()},
	}
	require.NoError(t, s.SaveSession(ctx, rec, turns))

	got, err := s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Root, got.Root)
	assert.Equal(t, "answered", got.State)
	assert.Equal(t, 2, got.TurnCount)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestSaveSession_ResaveReplacesTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{ID: session.NewID(), Root: "/w", State: "reasoning", StartedAt: time.Now().UTC()}
	require.NoError(t, s.SaveSession(ctx, rec, []TurnRecord{
		{SessionID: rec.ID, Idx: 0, Kind: "user", Content: "hi", At: time.Now().UTC()},
	}))

	rec.State = "answered"
	require.NoError(t, s.SaveSession(ctx, rec, []TurnRecord{
		{SessionID: rec.ID, Idx: 0, Kind: "user", Content: "hi", At: time.Now().UTC()},
		{SessionID: rec.ID, Idx: 1, Kind: "assistant", Content: "hello", At: time.Now().UTC()},
	}))

	got, err := s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "answered", got.State)
	assert.Equal(t, 2, got.TurnCount)

	turns, err := s.ListTurns(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello", turns[1].Content)
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListSessions_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := &SessionRecord{
			ID:        session.NewID(),
			Root:      "/w",
			State:     "answered",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveSession(ctx, rec, nil))
	}

	all, err := s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.After(all[2].StartedAt), "newest first")

	limited, err := s.ListSessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTurns_RequestsAndResultsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := session.New(t.TempDir())
	require.NoError(t, err)
	sess.Append(session.UserTurn("read the config"))
	sess.Append(session.AssistantTurn("reading", []session.ToolRequest{
		{ID: "t1", Tool: "read", Args: map[string]any{"path": "config.yaml"}},
	}))
	sess.Append(session.ObservationTurn(session.ToolResult{
		RequestID: "t1", Tool: "read", Content: "version: 1",
	}))

	rec, turns, err := SnapshotSession(sess)
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, rec, turns))

	stored, err := s.ListTurns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	var requests []session.ToolRequest
	require.NoError(t, json.Unmarshal([]byte(stored[1].Requests), &requests))
	require.Len(t, requests, 1)
	assert.Equal(t, "read", requests[0].Tool)

	var result session.ToolResult
	require.NoError(t, json.Unmarshal([]byte(stored[2].Result), &result))
	assert.Equal(t, "t1", result.RequestID)
	assert.Equal(t, "version: 1", result.Content)
}

func TestPermissionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sessionID := session.NewID()
	require.NoError(t, s.RecordPermission(ctx, &PermissionEntry{
		SessionID: sessionID,
		Tool:      "write",
		GrantKey:  "write(main.go)",
		Decision:  "user-approved",
	}))
	require.NoError(t, s.RecordPermission(ctx, &PermissionEntry{
		SessionID: sessionID,
		Tool:      "bash",
		GrantKey:  "bash(rm:*)",
		Decision:  "user-denied",
	}))

	entries, err := s.ListPermissions(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "write(main.go)", entries[0].GrantKey)
	assert.Equal(t, "user-denied", entries[1].Decision)
	assert.NotEmpty(t, entries[0].ID)

	other, err := s.ListPermissions(ctx, "other-session")
	require.NoError(t, err)
	assert.Empty(t, other)
}
