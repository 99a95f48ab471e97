// Package tempstore holds large converted files under generated IDs with
// an expiry, for out-of-band download. The registry lives in SQLite so
// download links survive a restart; the bytes live on disk next to it.
//
// Invariant: a registry row implies the backing file exists. Every access
// that observes a violation erases the row (self-healing, not just
// time-based cleanup).
package tempstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/docrelay/dbopen"
	"github.com/hazyhaar/docrelay/idgen"
)

var (
	// ErrNotFound reports an unknown ID or a registry row whose backing
	// file has vanished.
	ErrNotFound = errors.New("tempstore: file not found")

	// ErrExpired reports an entry past its expiry. The lookup that hits
	// it also deletes it.
	ErrExpired = errors.New("tempstore: file expired")
)

// Schema is the registry table. Applied idempotently on New.
const Schema = `
CREATE TABLE IF NOT EXISTS stored_files (
    id                TEXT PRIMARY KEY,
    path              TEXT NOT NULL,
    original_filename TEXT NOT NULL,
    size_mb           REAL NOT NULL,
    created_at        TEXT NOT NULL,
    expires_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stored_files_expires_at ON stored_files(expires_at);
`

// Entry is one stored file.
type Entry struct {
	ID               string
	Path             string
	OriginalFilename string
	SizeMB           float64
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Config configures a Store.
type Config struct {
	// Dir holds the backing files. Created if missing.
	Dir string

	// Retention is how long entries live (default 24h).
	Retention time.Duration

	// IDs generates stored-file identifiers (default idgen.Default).
	IDs idgen.Generator

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.IDs == nil {
		c.IDs = idgen.Default
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the temporary result store. Put, Fetch, and SweepExpired run
// concurrently across requests; one mutex covers each registry+file
// mutation as a single critical section.
type Store struct {
	db     *sql.DB
	dir    string
	ret    time.Duration
	ids    idgen.Generator
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New creates a Store over db, applying the registry schema and creating
// the file directory.
func New(db *sql.DB, cfg Config) (*Store, error) {
	cfg.defaults()
	if cfg.Dir == "" {
		return nil, errors.New("tempstore: Dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("tempstore: mkdir: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("tempstore: schema: %w", err)
	}
	return &Store{
		db:     db,
		dir:    cfg.Dir,
		ret:    cfg.Retention,
		ids:    cfg.IDs,
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// Put writes data under a fresh ID and registers it with
// expiry = now + retention.
func (s *Store) Put(ctx context.Context, data []byte, originalName string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.ids()
	base := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	path := filepath.Join(s.dir, id+"_"+base+".docx")

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("tempstore: write: %w", err)
	}

	now := s.now().UTC()
	e := &Entry{
		ID:               id,
		Path:             path,
		OriginalFilename: base + ".docx",
		SizeMB:           float64(len(data)) / (1024 * 1024),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ret),
	}

	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO stored_files (id, path, original_filename, size_mb, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.OriginalFilename, e.SizeMB,
		e.CreatedAt.Format(time.RFC3339Nano), e.ExpiresAt.Format(time.RFC3339Nano))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("tempstore: register: %w", err)
	}
	return e, nil
}

// Fetch looks up id. Expired entries are removed and reported as
// ErrExpired; unknown IDs and rows whose backing file is gone are
// ErrNotFound (stale rows removed on the way out).
func (s *Store) Fetch(ctx context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchLocked(ctx, id)
}

func (s *Store) fetchLocked(ctx context.Context, id string) (*Entry, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.now().UTC().After(e.ExpiresAt) {
		s.remove(ctx, e)
		return nil, ErrExpired
	}
	if _, err := os.Stat(e.Path); err != nil {
		s.deleteRow(ctx, e.ID)
		return nil, ErrNotFound
	}
	return e, nil
}

// Open fetches id and opens the backing file for streaming.
func (s *Store) Open(ctx context.Context, id string) (*os.File, *Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.fetchLocked(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(e.Path)
	if err != nil {
		s.deleteRow(ctx, e.ID)
		return nil, nil, ErrNotFound
	}
	return f, e, nil
}

// SweepExpired removes all expired entries and any row whose backing file
// has vanished. Idempotent. Returns the number of rows removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, original_filename, size_mb, created_at, expires_at FROM stored_files`)
	if err != nil {
		return 0, fmt.Errorf("tempstore: sweep query: %w", err)
	}
	var all []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("tempstore: sweep rows: %w", err)
	}

	now := s.now().UTC()
	removed := 0
	for _, e := range all {
		if now.After(e.ExpiresAt) {
			s.remove(ctx, e)
			removed++
			continue
		}
		if _, err := os.Stat(e.Path); err != nil {
			s.deleteRow(ctx, e.ID)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("tempstore: sweep removed entries", "count", removed)
	}
	return removed, nil
}

// Count returns the number of registered entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stored_files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("tempstore: count: %w", err)
	}
	return n, nil
}

// Retention reports the configured retention window.
func (s *Store) Retention() time.Duration { return s.ret }

func (s *Store) lookup(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, original_filename, size_mb, created_at, expires_at
		 FROM stored_files WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *Store) remove(ctx context.Context, e *Entry) {
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("tempstore: remove file", "id", e.ID, "error", err)
	}
	s.deleteRow(ctx, e.ID)
}

func (s *Store) deleteRow(ctx context.Context, id string) {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM stored_files WHERE id = ?`, id); err != nil {
		s.logger.Warn("tempstore: delete row", "id", id, "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var e Entry
	var created, expires string
	if err := r.Scan(&e.ID, &e.Path, &e.OriginalFilename, &e.SizeMB, &created, &expires); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("tempstore: parse created_at: %w", err)
	}
	if e.ExpiresAt, err = time.Parse(time.RFC3339Nano, expires); err != nil {
		return nil, fmt.Errorf("tempstore: parse expires_at: %w", err)
	}
	return &e, nil
}
