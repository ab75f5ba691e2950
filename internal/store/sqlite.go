package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pilotdev/pilot/internal/session"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

// SaveSession upserts the session header and replaces its transcript.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord, turns []TurnRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	rec.TurnCount = len(turns)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, root, state, turn_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state,
			turn_count = excluded.turn_count, finished_at = excluded.finished_at`,
		rec.ID, rec.Root, rec.State, rec.TurnCount, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", rec.ID); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	for _, turn := range turns {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, idx, kind, content, requests, result, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, turn.Idx, turn.Kind, turn.Content, turn.Requests, turn.Result, turn.At,
		)
		if err != nil {
			return fmt.Errorf("save turn %d: %w", turn.Idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	rec := &SessionRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, root, state, turn_count, started_at, finished_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Root, &rec.State, &rec.TurnCount, &rec.StartedAt, &rec.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, root, state, turn_count, started_at, finished_at
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec := &SessionRecord{}
		if err := rows.Scan(&rec.ID, &rec.Root, &rec.State, &rec.TurnCount, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, idx, kind, content, requests, result, at
		FROM turns WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var turn TurnRecord
		if err := rows.Scan(&turn.SessionID, &turn.Idx, &turn.Kind, &turn.Content, &turn.Requests, &turn.Result, &turn.At); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

// --- Permission audit ---

func (s *SQLiteStore) RecordPermission(ctx context.Context, entry *PermissionEntry) error {
	if entry.ID == "" {
		entry.ID = session.NewID()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permission_log (id, session_id, tool, grant_key, decision, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Tool, entry.GrantKey, entry.Decision, entry.At,
	)
	if err != nil {
		return fmt.Errorf("record permission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPermissions(ctx context.Context, sessionID string) ([]*PermissionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tool, grant_key, decision, at
		FROM permission_log WHERE session_id = ? ORDER BY at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []*PermissionEntry
	for rows.Next() {
		entry := &PermissionEntry{}
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Tool, &entry.GrantKey, &entry.Decision, &entry.At); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// --- Conversion helpers ---

// SnapshotSession flattens an in-memory session into store records.
func SnapshotSession(sess *session.Session) (*SessionRecord, []TurnRecord, error) {
	rec := &SessionRecord{
		ID:        sess.ID,
		Root:      sess.Root,
		State:     string(sess.State()),
		StartedAt: sess.StartedAt,
	}

	turns := sess.Turns()
	out := make([]TurnRecord, 0, len(turns))
	for i, turn := range turns {
		tr := TurnRecord{
			SessionID: sess.ID,
			Idx:       i,
			Kind:      string(turn.Kind),
			Content:   turn.Content,
			At:        turn.At,
		}
		if len(turn.Requests) > 0 {
			data, err := json.Marshal(turn.Requests)
			if err != nil {
				return nil, nil, fmt.Errorf("encode requests for turn %d: %w", i, err)
			}
			tr.Requests = string(data)
		}
		if turn.Result != nil {
			data, err := json.Marshal(turn.Result)
			if err != nil {
				return nil, nil, fmt.Errorf("encode result for turn %d: %w", i, err)
			}
			tr.Result = string(data)
		}
		out = append(out, tr)
	}
	return rec, out, nil
}
