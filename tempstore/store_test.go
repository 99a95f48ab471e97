package tempstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/hazyhaar/docrelay/dbopen"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := New(db, Config{Dir: t.TempDir(), Retention: 24 * time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutFetchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("PK\x03\x04 docx payload")

	e, err := s.Put(ctx, data, "report.docx")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if e.ID == "" {
		t.Fatal("empty ID")
	}
	if e.OriginalFilename != "report.docx" {
		t.Fatalf("original filename = %q", e.OriginalFilename)
	}
	if e.ExpiresAt.Sub(e.CreatedAt) != 24*time.Hour {
		t.Fatalf("expiry window = %v", e.ExpiresAt.Sub(e.CreatedAt))
	}

	got, err := s.Fetch(ctx, e.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	onDisk, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Fatalf("round trip mismatch: %q != %q", onDisk, data)
	}
}

func TestOpenStreams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("PK-bytes")

	e, err := s.Put(ctx, data, "big.docx")
	if err != nil {
		t.Fatal(err)
	}
	f, entry, err := s.Open(ctx, e.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if entry.ID != e.ID {
		t.Fatalf("entry ID = %q, want %q", entry.ID, e.ID)
	}
	got, _ := io.ReadAll(f)
	if !bytes.Equal(got, data) {
		t.Fatalf("streamed %q, want %q", got, data)
	}
}

func TestFetchUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Fetch(context.Background(), "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFetchExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Put(ctx, []byte("data"), "old.docx")
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	if _, err := s.Fetch(ctx, e.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("error = %v, want ErrExpired", err)
	}
	// The expired row and file are gone; a second fetch is NotFound.
	if _, err := s.Fetch(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second fetch error = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(e.Path); !os.IsNotExist(err) {
		t.Fatal("expired backing file still on disk")
	}
}

func TestFetchSelfHealsMissingFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Put(ctx, []byte("data"), "gone.docx")
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(e.Path)

	if _, err := s.Fetch(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("count = %d, want 0 after self-heal", n)
	}
}

func TestSweepExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh, err := s.Put(ctx, []byte("fresh"), "fresh.docx")
	if err != nil {
		t.Fatal(err)
	}
	old, err := s.Put(ctx, []byte("old"), "old.docx")
	if err != nil {
		t.Fatal(err)
	}
	orphan, err := s.Put(ctx, []byte("orphan"), "orphan.docx")
	if err != nil {
		t.Fatal(err)
	}

	// Age only the "old" entry by rewriting its expiry.
	if _, err := s.db.Exec(`UPDATE stored_files SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano), old.ID); err != nil {
		t.Fatal(err)
	}
	// Orphan the third entry.
	os.Remove(orphan.Path)

	removed, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	if _, err := s.Fetch(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh entry swept: %v", err)
	}
	if _, err := s.Fetch(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old entry: error = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(old.Path); !os.IsNotExist(err) {
		t.Fatal("old backing file still on disk")
	}

	// Idempotent.
	removed, err = s.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("second sweep removed = %d, want 0", removed)
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for range 3 {
		if _, err := s.Put(ctx, []byte("x"), "f.docx"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestSizeMB(t *testing.T) {
	s := newTestStore(t)
	e, err := s.Put(context.Background(), make([]byte, 1024*1024), "one-mb.docx")
	if err != nil {
		t.Fatal(err)
	}
	if e.SizeMB != 1.0 {
		t.Fatalf("size = %v MB, want 1.0", e.SizeMB)
	}
}
