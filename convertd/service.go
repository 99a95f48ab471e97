// Package convertd is the self-hosted conversion backend: it accepts PDF
// uploads over HTTP, shells out to LibreOffice for the DOCX conversion, and
// keeps oversized results in a temporary download store.
package convertd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docrelay/convert"
	"github.com/hazyhaar/docrelay/tempstore"
)

// Service wires the local conversion backend to the temporary store.
type Service struct {
	cfg     Config
	backend convert.Backend
	store   *tempstore.Store
	logger  *slog.Logger
}

// New creates the service. The store is required; the backend defaults to
// a LibreOffice LocalBackend over cfg.SofficeBin.
func New(cfg Config, store *tempstore.Store, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("convertd: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Service{
		cfg:     cfg,
		backend: convert.NewLocalBackend(cfg.SofficeBin),
		store:   store,
		logger:  logger,
	}, nil
}

// convertUpload runs one upload through the backend with a sanitized name
// and a size-proportional deadline.
func (s *Service) convertUpload(ctx context.Context, filename string, pdf []byte) ([]byte, string, error) {
	clean := convert.Sanitize(filepath.Base(filename))
	req := &convert.Request{
		Filename: clean,
		PDF:      pdf,
		Timeout:  convert.EstimateTimeout(int64(len(pdf))),
	}

	s.logger.Info("converting upload", "filename", clean, "size", len(pdf), "timeout", req.Timeout)
	res, err := s.backend.Convert(ctx, req)
	if err != nil {
		return nil, "", err
	}

	base := strings.TrimSuffix(clean, filepath.Ext(clean))
	return res.Inline, base, nil
}

// storeResult puts a converted document in the temporary store and returns
// the descriptor sent back to clients.
func (s *Service) storeResult(ctx context.Context, docx []byte, base string) (*convert.StoredRef, error) {
	entry, err := s.store.Put(ctx, docx, base+".docx")
	if err != nil {
		return nil, fmt.Errorf("convertd: store result: %w", err)
	}
	return &convert.StoredRef{
		FileID:           entry.ID,
		DownloadURL:      "/download/" + entry.ID,
		OriginalFilename: entry.OriginalFilename,
		SizeMB:           roundMB(entry.SizeMB),
		ExpiresAt:        entry.ExpiresAt.Format("2006-01-02T15:04:05"),
	}, nil
}

func (s *Service) maxInlineBytes() int {
	return s.cfg.MaxInlineMB * 1024 * 1024
}

func roundMB(mb float64) float64 {
	return float64(int64(mb*100+0.5)) / 100
}
