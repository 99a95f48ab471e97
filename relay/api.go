package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docrelay/mailparse"
)

// emailFields are the form field names the inbound-parse webhook may use
// for the raw MIME payload, tried in order.
var emailFields = []string{"email", "message", "raw_message"}

// Routes returns the relay's HTTP API: the webhook and a liveness probe.
func Routes(s *Service) chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Post("/api/convert", s.handleWebhook)
	return r
}

// handleWebhook accepts the inbound-parse POST. The provider delivers the
// full MIME message as a form field, sometimes as a text value and
// sometimes as an attached file part, under one of several names.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := rawEmail(r)
	if err != nil {
		writeJSON(w, 400, map[string]string{"error": "No email content found in form data"})
		return
	}

	outcome, err := s.ProcessInbound(r.Context(), raw)
	switch {
	case errors.Is(err, mailparse.ErrNoSender):
		writeJSON(w, 400, map[string]string{"error": "No from email found"})
	case err != nil:
		s.logger.Error("webhook processing failed", "error", err)
		writeJSON(w, 500, map[string]string{"error": err.Error()})
	default:
		s.logger.Info("webhook done", "outcome", outcome.Kind, "reason", outcome.Reason)
		w.WriteHeader(200)
		w.Write([]byte("OK"))
	}
}

func rawEmail(r *http.Request) ([]byte, error) {
	// 64MB in memory before spilling; bodies carry whole PDF attachments.
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
	}

	for _, field := range emailFields {
		if v := r.FormValue(field); v != "" {
			return []byte(v), nil
		}
		if r.MultipartForm == nil {
			continue
		}
		if files := r.MultipartForm.File[field]; len(files) > 0 {
			f, err := files[0].Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return io.ReadAll(f)
		}
	}
	return nil, errors.New("relay: no email field in form")
}

// recoverer turns a handler panic into a 500 JSON body instead of a
// dropped connection.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeJSON(w, 500, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
