// Package freshness tracks per-file read/modify bookkeeping so mutating
// tools never overwrite changes the engine has not seen.
package freshness

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Status is the outcome of a freshness check.
type Status string

const (
	// Fresh means the on-disk content matches the last engine observation.
	Fresh Status = "fresh"
	// Stale means the content changed outside the engine since it was last
	// observed, with no intervening engine write explaining the change.
	Stale Status = "stale"
	// Unknown means the path has never been observed through the engine.
	Unknown Status = "unknown"
)

// Record is the bookkeeping for one absolute path. Records are created on
// first observation and updated, never deleted, for the session's lifetime.
type Record struct {
	Path        string
	Fingerprint string // content hash at last observation, "" if absent
	LastRead    time.Time
	LastWrite   time.Time // last engine-driven mutation
	ReadCount   int
}

// Tracker keeps freshness records keyed by absolute path. Updates to a
// single path are serialized; distinct paths proceed concurrently.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	locks   map[string]*sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		locks:   make(map[string]*sync.Mutex),
	}
}

// pathLock returns the single-writer lock for a path, creating it on demand.
func (t *Tracker) pathLock(path string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[path]
	if !ok {
		l = &sync.Mutex{}
		t.locks[path] = l
	}
	return l
}

func (t *Tracker) record(path string) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[path]
	return r, ok
}

func (t *Tracker) upsert(path string) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[path]
	if !ok {
		r = &Record{Path: path}
		t.records[path] = r
	}
	return r
}

// ObserveRead records that the engine read the path, capturing the current
// content fingerprint as the freshness baseline.
func (t *Tracker) ObserveRead(path string) error {
	l := t.pathLock(path)
	l.Lock()
	defer l.Unlock()

	fp, err := fingerprint(path)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", path, err)
	}
	r := t.upsert(path)
	t.mu.Lock()
	r.Fingerprint = fp
	r.LastRead = time.Now().UTC()
	r.ReadCount++
	t.mu.Unlock()
	return nil
}

// ObserveWrite records an engine-driven mutation of the path. The on-disk
// content after the write becomes the new freshness baseline, so a write to
// a never-read file is allowed and baselines the record rather than being
// flagged stale.
func (t *Tracker) ObserveWrite(path string) error {
	l := t.pathLock(path)
	l.Lock()
	defer l.Unlock()

	fp, err := fingerprint(path)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", path, err)
	}
	r := t.upsert(path)
	t.mu.Lock()
	r.Fingerprint = fp
	r.LastWrite = time.Now().UTC()
	t.mu.Unlock()
	return nil
}

// Check compares the on-disk fingerprint against the last observation.
// Content hashing is used rather than mtime so clock skew cannot produce
// false negatives. Check never blocks reads; only the scheduler's write
// path acts on a Stale result.
func (t *Tracker) Check(path string) (Status, error) {
	r, ok := t.record(path)
	if !ok {
		return Unknown, nil
	}

	current, err := fingerprint(path)
	if err != nil {
		return Stale, fmt.Errorf("fingerprint %s: %w", path, err)
	}

	t.mu.RLock()
	recorded := r.Fingerprint
	t.mu.RUnlock()

	if current != recorded {
		return Stale, nil
	}
	return Fresh, nil
}

// Snapshot returns a copy of the record for a path, if one exists.
func (t *Tracker) Snapshot(path string) (Record, bool) {
	r, ok := t.record(path)
	if !ok {
		return Record{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return *r, true
}

// Stats summarizes tracker activity for diagnostics.
type Stats struct {
	TrackedFiles int
	TotalReads   int
	FilesWritten int
}

// Summarize computes aggregate stats over all records.
func (t *Tracker) Summarize() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{TrackedFiles: len(t.records)}
	for _, r := range t.records {
		s.TotalReads += r.ReadCount
		if !r.LastWrite.IsZero() {
			s.FilesWritten++
		}
	}
	return s
}

// fingerprint hashes the file content. A missing file hashes to the empty
// string so deletion registers as a content change.
func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
