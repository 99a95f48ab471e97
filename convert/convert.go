// Package convert turns PDF bytes into DOCX output through one or more
// pluggable backends with an ordered fallback policy.
//
// A conversion produces either inline bytes small enough to attach to an
// email, or a stored-file descriptor pointing at a time-limited download.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Request is one conversion attempt. The dispatcher fills Filename with the
// sanitized name and Timeout with the estimated budget before handing it to
// a backend.
type Request struct {
	Filename string
	PDF      []byte
	Timeout  time.Duration
}

// StoredRef describes a converted file held by the backend's temporary
// store, referenced by a download link instead of returned inline.
type StoredRef struct {
	FileID           string  `json:"file_id"`
	DownloadURL      string  `json:"download_url"`
	OriginalFilename string  `json:"original_filename"`
	SizeMB           float64 `json:"size_mb"`
	ExpiresAt        string  `json:"expires_at"`
}

// Result is a successful conversion. Exactly one of Inline/Stored is set;
// Backend names the backend that produced it.
type Result struct {
	Inline  []byte
	Stored  *StoredRef
	Backend string
}

// Backend is one conversion strategy. Implementations must honor
// req.Timeout and return ErrTimeout when it is exceeded.
type Backend interface {
	Convert(ctx context.Context, req *Request) (*Result, error)
	Name() string
}

// Dispatcher tries backends in order until one succeeds. Backend order is a
// deployment decision taken at construction, never per-input.
type Dispatcher struct {
	backends []Backend
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given backends.
// A nil logger falls back to slog.Default().
func NewDispatcher(logger *slog.Logger, backends ...Backend) (*Dispatcher, error) {
	if len(backends) == 0 {
		return nil, errors.New("convert: at least one backend required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{backends: backends, logger: logger}, nil
}

// Convert sanitizes the filename, estimates the time budget from the
// payload size, and runs the backend chain. A timeout is terminal: the
// next backend would burn the same wall clock against the same input, so
// the chain stops and ErrTimeout surfaces to the caller.
func (d *Dispatcher) Convert(ctx context.Context, filename string, pdf []byte) (*Result, error) {
	req := &Request{
		Filename: Sanitize(filename),
		PDF:      pdf,
		Timeout:  EstimateTimeout(int64(len(pdf))),
	}

	var attempts []error
	for _, b := range d.backends {
		start := time.Now()
		res, err := b.Convert(ctx, req)
		if err == nil {
			res.Backend = b.Name()
			d.logger.Info("conversion done",
				"backend", b.Name(),
				"filename", req.Filename,
				"elapsed", time.Since(start).Round(time.Millisecond))
			return res, nil
		}
		if errors.Is(err, ErrTimeout) {
			d.logger.Warn("conversion timed out",
				"backend", b.Name(),
				"filename", req.Filename,
				"budget", req.Timeout)
			return nil, err
		}
		d.logger.Warn("backend failed",
			"backend", b.Name(),
			"filename", req.Filename,
			"error", err)
		attempts = append(attempts, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return nil, fmt.Errorf("convert: all backends failed: %w", errors.Join(attempts...))
}
