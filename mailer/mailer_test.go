package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/docrelay/convert"
)

func captureMailer(t *testing.T, status int) (*Mailer, *sgMail) {
	t.Helper()
	var captured sgMail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing bearer auth")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	m := New("sg-key", "noreply@example.com", nil)
	m.Endpoint = srv.URL
	return m, &captured
}

func TestSendAttachment(t *testing.T) {
	m, captured := captureMailer(t, 202)

	docx := []byte("PK\x03\x04docx")
	if err := m.SendAttachment(context.Background(), "user@example.com", "report.pdf", docx); err != nil {
		t.Fatalf("SendAttachment: %v", err)
	}

	if captured.Subject != "Your converted file: report.docx" {
		t.Errorf("subject = %q", captured.Subject)
	}
	if got := captured.Personalizations[0].To[0].Email; got != "user@example.com" {
		t.Errorf("to = %q", got)
	}
	if len(captured.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(captured.Attachments))
	}
	att := captured.Attachments[0]
	if att.Filename != "report.docx" {
		t.Errorf("attachment filename = %q", att.Filename)
	}
	decoded, err := base64.StdEncoding.DecodeString(att.Content)
	if err != nil || string(decoded) != string(docx) {
		t.Errorf("attachment content mismatch: %q, %v", decoded, err)
	}
	if att.Type != docxContentType {
		t.Errorf("attachment type = %q", att.Type)
	}
}

func TestSendDownloadLink(t *testing.T) {
	m, captured := captureMailer(t, 202)

	ref := &convert.StoredRef{
		FileID:      "abc",
		DownloadURL: "/download/abc",
		SizeMB:      31.25,
		ExpiresAt:   "2026-09-01T12:00:00Z",
	}
	err := m.SendDownloadLink(context.Background(), "user@example.com", "big file.pdf", ref, "https://convert.example.com/")
	if err != nil {
		t.Fatalf("SendDownloadLink: %v", err)
	}

	if len(captured.Attachments) != 0 {
		t.Error("link variant must not attach the file")
	}
	body := captured.Content[0].Value
	if !strings.Contains(body, "https://convert.example.com/download/abc") {
		t.Errorf("body lacks absolute download link: %q", body)
	}
	if !strings.Contains(body, "31.25 MB") {
		t.Errorf("body lacks size: %q", body)
	}
}

func TestSendDelayNotice(t *testing.T) {
	m, captured := captureMailer(t, 202)

	if err := m.SendDelayNotice(context.Background(), "user@example.com", "slow.pdf"); err != nil {
		t.Fatalf("SendDelayNotice: %v", err)
	}
	if captured.Subject != "Your conversion is still processing" {
		t.Errorf("subject = %q", captured.Subject)
	}
	if !strings.Contains(captured.Content[0].Value, "longer than usual") {
		t.Errorf("body = %q", captured.Content[0].Value)
	}
}

func TestSendFailureIsErrDelivery(t *testing.T) {
	m, _ := captureMailer(t, 401)

	err := m.SendDelayNotice(context.Background(), "user@example.com", "x.pdf")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("error = %v, want ErrDelivery", err)
	}
}

func TestHTMLInjectionStripped(t *testing.T) {
	m, captured := captureMailer(t, 202)

	evil := `<script>alert(1)</script>pwn.pdf`
	if err := m.SendAttachment(context.Background(), "user@example.com", evil, []byte("PK")); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(captured.Content[0].Value, "<script>") {
		t.Fatalf("script tag leaked into body: %q", captured.Content[0].Value)
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.docx"},
		{"archive.tar.pdf", "archive.tar.docx"},
		{"noext", "noext.docx"},
		{".pdf", "document.docx"},
	}
	for _, tt := range tests {
		if got := outputName(tt.in); got != tt.want {
			t.Errorf("outputName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
