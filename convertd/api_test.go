package convertd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/docrelay/convert"
	"github.com/hazyhaar/docrelay/dbopen"
	"github.com/hazyhaar/docrelay/tempstore"
	_ "modernc.org/sqlite"
)

type fakeBackend struct {
	out   []byte
	err   error
	calls int
}

func (f *fakeBackend) Convert(_ context.Context, req *convert.Request) (*convert.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &convert.Result{Inline: f.out}, nil
}

func (f *fakeBackend) Name() string { return "fake" }

const testKey = "sekrit"

func newTestService(t *testing.T, backend convert.Backend) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := tempstore.New(db, tempstore.Config{Dir: t.TempDir(), Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{APIKey: testKey, MaxInlineMB: 1, DataDir: t.TempDir()}, store, logger)
	if err != nil {
		t.Fatal(err)
	}
	if backend != nil {
		s.backend = backend
	}
	return s
}

func doUpload(t *testing.T, s *Service, target, filename string, pdf []byte, key string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(pdf)
	mw.Close()

	req := httptest.NewRequest("POST", target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	Routes(s).ServeHTTP(rec, req)
	return rec
}

func TestConvertInline(t *testing.T) {
	s := newTestService(t, &fakeBackend{out: []byte("PKdocx-bytes")})

	rec := doUpload(t, s, "/convert", "report final.pdf", []byte("%PDF-1.4"), testKey)
	if rec.Code != 200 {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != docxContentType {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `report_final.docx`) {
		t.Fatalf("disposition = %q", cd)
	}
	if rec.Body.String() != "PKdocx-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestConvertOversizeReturnsDescriptor(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 1<<20+1)
	s := newTestService(t, &fakeBackend{out: big})

	rec := doUpload(t, s, "/convert", "big.pdf", []byte("%PDF-1.4"), testKey)
	if rec.Code != 200 {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}

	var ref convert.StoredRef
	if err := json.Unmarshal(rec.Body.Bytes(), &ref); err != nil {
		t.Fatal(err)
	}
	if ref.FileID == "" || ref.DownloadURL != "/download/"+ref.FileID {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.OriginalFilename != "big.docx" {
		t.Fatalf("original filename = %q", ref.OriginalFilename)
	}

	// The descriptor must be redeemable.
	rec = doGet(t, s, ref.DownloadURL)
	if rec.Code != 200 {
		t.Fatalf("download code = %d", rec.Code)
	}
	if rec.Body.Len() != len(big) {
		t.Fatalf("download size = %d, want %d", rec.Body.Len(), len(big))
	}
}

func TestConvertRejectsNonPDF(t *testing.T) {
	s := newTestService(t, &fakeBackend{out: []byte("PK")})

	rec := doUpload(t, s, "/convert", "notes.txt", []byte("hello"), testKey)
	if rec.Code != 400 {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "must be a PDF") {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestConvertAuth(t *testing.T) {
	backend := &fakeBackend{out: []byte("PK")}
	s := newTestService(t, backend)

	for _, key := range []string{"", "wrong"} {
		rec := doUpload(t, s, "/convert", "a.pdf", []byte("%PDF"), key)
		if rec.Code != 403 {
			t.Fatalf("key %q: code = %d", key, rec.Code)
		}
	}
	if backend.calls != 0 {
		t.Fatal("unauthenticated requests must not reach the backend")
	}
}

func TestConvertTimeout(t *testing.T) {
	s := newTestService(t, &fakeBackend{err: convert.ErrTimeout})

	rec := doUpload(t, s, "/convert", "slow.pdf", []byte("%PDF"), testKey)
	if rec.Code != 504 {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "conversion timed out") {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestConvertBackendFailure(t *testing.T) {
	s := newTestService(t, &fakeBackend{err: &convert.BackendError{Backend: "local", ExitCode: 77, Stderr: "soffice exploded"}})

	rec := doUpload(t, s, "/convert", "bad.pdf", []byte("%PDF"), testKey)
	if rec.Code != 500 {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "soffice exploded") {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestConvertAndStore(t *testing.T) {
	s := newTestService(t, &fakeBackend{out: []byte("PKsmall")})

	rec := doUpload(t, s, "/convert-and-store", "contract.pdf", []byte("%PDF"), testKey)
	if rec.Code != 200 {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "success" {
		t.Fatalf("status = %v", resp["status"])
	}
	if resp["original_filename"] != "contract.docx" {
		t.Fatalf("original_filename = %v", resp["original_filename"])
	}
	id, _ := resp["file_id"].(string)
	if id == "" {
		t.Fatal("missing file_id")
	}
	if resp["download_url"] != "/download/"+id {
		t.Fatalf("download_url = %v", resp["download_url"])
	}
	if _, ok := resp["expires_at"].(string); !ok {
		t.Fatal("missing expires_at")
	}

	rec = doGet(t, s, "/download/"+id)
	if rec.Code != 200 {
		t.Fatalf("download code = %d", rec.Code)
	}
	if rec.Body.String() != "PKsmall" {
		t.Fatalf("download body = %q", rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "contract.docx") {
		t.Fatalf("disposition = %q", cd)
	}
}

func TestDownloadUnknown(t *testing.T) {
	s := newTestService(t, nil)

	rec := doGet(t, s, "/download/no-such-id")
	if rec.Code != 404 {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestService(t, &fakeBackend{out: []byte("PK")})

	doUpload(t, s, "/convert-and-store", "a.pdf", []byte("%PDF"), testKey)
	doUpload(t, s, "/convert-and-store", "b.pdf", []byte("%PDF"), testKey)

	req := httptest.NewRequest("GET", "/admin/cleanup", nil)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	Routes(s).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "Cleanup completed" {
		t.Fatalf("status = %v", resp["status"])
	}
	if n, _ := resp["active_files"].(float64); n != 2 {
		t.Fatalf("active_files = %v", resp["active_files"])
	}
}

func TestRootLiveness(t *testing.T) {
	s := newTestService(t, nil)

	rec := doGet(t, s, "/")
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "conversion service running") {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestHealthShape(t *testing.T) {
	s := newTestService(t, nil)
	s.cfg.SofficeBin = "definitely-not-installed-binary"

	rec := doGet(t, s, "/health")
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}

	var resp struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"libreoffice", "memory", "disk", "temp_files"} {
		if _, ok := resp.Checks[name]; !ok {
			t.Fatalf("missing check %q", name)
		}
	}
	// The stub binary cannot exist, so the aggregate must degrade.
	if resp.Status != "error" {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Checks["temp_files"]["status"] != "ok" {
		t.Fatalf("temp_files = %v", resp.Checks["temp_files"])
	}
}

func doGet(t *testing.T, s *Service, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Routes(s).ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}
