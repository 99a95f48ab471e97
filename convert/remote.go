package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// RemoteBackend converts through a self-hosted HTTP conversion service.
//
// The service answers one of two ways on the same endpoint, distinguished
// by content type: a binary DOCX body for small results, or a JSON stored
// file descriptor when the service already parked the result behind a
// download link.
type RemoteBackend struct {
	URL            string // the /convert endpoint
	APIKey         string
	MaxInlineBytes int64 // inline results above this are re-stored remotely

	client *http.Client
}

// NewRemoteBackend creates a backend for the conversion service at url.
// maxInlineMB caps inline results (25 when <= 0).
func NewRemoteBackend(url, apiKey string, maxInlineMB int) *RemoteBackend {
	if maxInlineMB <= 0 {
		maxInlineMB = 25
	}
	return &RemoteBackend{
		URL:            url,
		APIKey:         apiKey,
		MaxInlineBytes: int64(maxInlineMB) * mb,
		client:         &http.Client{},
	}
}

func (b *RemoteBackend) Name() string { return "remote" }

// Convert POSTs the PDF and interprets the dual-mode response. An inline
// result larger than MaxInlineBytes is re-submitted to the sibling
// convert-and-store endpoint so the caller gets a download link instead of
// an attachment no mail provider would accept.
func (b *RemoteBackend) Convert(ctx context.Context, req *Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	resp, err := b.post(ctx, b.URL, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{Backend: b.Name(), Status: resp.StatusCode, Body: string(body)}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var ref StoredRef
		if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
			return nil, &BackendError{Backend: b.Name(), Err: fmt.Errorf("decode descriptor: %w", err)}
		}
		return &Result{Stored: &ref}, nil
	}

	docx, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, b.classify(ctx, err)
	}
	if len(docx) == 0 {
		return nil, ErrEmptyResult
	}
	if int64(len(docx)) > b.MaxInlineBytes {
		return b.convertAndStore(ctx, req)
	}
	return &Result{Inline: docx}, nil
}

// convertAndStore re-submits the PDF to the store variant endpoint, which
// always answers with a JSON descriptor.
func (b *RemoteBackend) convertAndStore(ctx context.Context, req *Request) (*Result, error) {
	storeURL := strings.Replace(b.URL, "/convert", "/convert-and-store", 1)
	resp, err := b.post(ctx, storeURL, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{Backend: b.Name(), Status: resp.StatusCode, Body: string(body)}
	}

	var ref StoredRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, &BackendError{Backend: b.Name(), Err: fmt.Errorf("decode store descriptor: %w", err)}
	}
	return &Result{Stored: &ref}, nil
}

func (b *RemoteBackend) post(ctx context.Context, url string, req *Request) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	hdr.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("convert: multipart: %w", err)
	}
	if _, err := part.Write(req.PDF); err != nil {
		return nil, fmt.Errorf("convert: multipart write: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("convert: multipart close: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("convert: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("X-API-Key", b.APIKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, b.classify(ctx, err)
	}
	return resp, nil
}

// classify separates a deadline hit from transport failures so callers can
// tell the sender the conversion is still running rather than broken.
func (b *RemoteBackend) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return &BackendError{Backend: b.Name(), Err: err}
}
