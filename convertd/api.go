package convertd

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docrelay/convert"
	"github.com/hazyhaar/docrelay/tempstore"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// maxUploadBytes caps one multipart upload held in memory.
const maxUploadBytes = 64 << 20

// Routes returns the conversion service HTTP API.
func Routes(s *Service) chi.Router {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "pdf to docx conversion service running"})
	})
	r.Get("/health", s.handleHealth)
	r.Get("/download/{fileID}", s.handleDownload)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/convert", s.handleConvert)
		r.Post("/convert-and-store", s.handleConvertAndStore)
		r.Get("/admin/cleanup", s.handleCleanup)
	})
	return r
}

// requireAPIKey guards conversion routes with a constant-time key compare.
func (s *Service) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if s.cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeJSON(w, 403, map[string]string{"error": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleConvert(w http.ResponseWriter, r *http.Request) {
	filename, pdf, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	docx, base, err := s.convertUpload(r.Context(), filename, pdf)
	if err != nil {
		s.writeConvertError(w, err)
		return
	}

	// Oversized results go through the store so the response stays a
	// small JSON descriptor instead of a huge attachment body.
	if len(docx) > s.maxInlineBytes() {
		ref, err := s.storeResult(r.Context(), docx, base)
		if err != nil {
			s.logger.Error("store after convert failed", "error", err)
			writeJSON(w, 500, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, 200, ref)
		return
	}

	w.Header().Set("Content-Type", docxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+base+`.docx"`)
	w.WriteHeader(200)
	w.Write(docx)
}

func (s *Service) handleConvertAndStore(w http.ResponseWriter, r *http.Request) {
	// Opportunistic sweep keeps the registry small between timer ticks.
	if n, err := s.store.SweepExpired(r.Context()); err != nil {
		s.logger.Warn("pre-store sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("pre-store sweep", "removed", n)
	}

	filename, pdf, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	docx, base, err := s.convertUpload(r.Context(), filename, pdf)
	if err != nil {
		s.writeConvertError(w, err)
		return
	}

	ref, err := s.storeResult(r.Context(), docx, base)
	if err != nil {
		s.logger.Error("store failed", "error", err)
		writeJSON(w, 500, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, 200, map[string]any{
		"status":            "success",
		"message":           "file converted and stored temporarily",
		"file_id":           ref.FileID,
		"download_url":      ref.DownloadURL,
		"original_filename": ref.OriginalFilename,
		"size_mb":           ref.SizeMB,
		"expires_at":        ref.ExpiresAt,
	})
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileID")

	f, entry, err := s.store.Open(r.Context(), id)
	switch {
	case errors.Is(err, tempstore.ErrExpired):
		writeJSON(w, 404, map[string]string{"error": "file expired"})
		return
	case errors.Is(err, tempstore.ErrNotFound):
		writeJSON(w, 404, map[string]string{"error": "file not found"})
		return
	case err != nil:
		s.logger.Error("download failed", "id", id, "error", err)
		writeJSON(w, 500, map[string]string{"error": "internal error"})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", docxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+entry.OriginalFilename+`"`)
	w.WriteHeader(200)
	io.Copy(w, f)
}

func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.SweepExpired(r.Context()); err != nil {
		writeJSON(w, 500, map[string]string{"error": err.Error()})
		return
	}
	n, err := s.store.Count(r.Context())
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 200, map[string]any{"status": "Cleanup completed", "active_files": n})
}

// readUpload pulls the PDF out of the multipart form. Writes the error
// response itself and reports ok=false when the request is unusable.
func (s *Service) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid multipart form"})
		return "", nil, false
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, 400, map[string]string{"error": "missing file field"})
		return "", nil, false
	}
	defer f.Close()

	if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".pdf") {
		writeJSON(w, 400, map[string]string{"error": "file must be a PDF"})
		return "", nil, false
	}

	pdf, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, 400, map[string]string{"error": "failed to read upload"})
		return "", nil, false
	}
	return hdr.Filename, pdf, true
}

func (s *Service) writeConvertError(w http.ResponseWriter, err error) {
	if errors.Is(err, convert.ErrTimeout) {
		s.logger.Warn("conversion timed out")
		writeJSON(w, 504, map[string]string{"error": "conversion timed out"})
		return
	}
	s.logger.Error("conversion failed", "error", err)
	writeJSON(w, 500, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
