// Package relay implements the inbound email webhook: parse the raw MIME
// message, decide whether the sender asked for a Word conversion, run the
// conversion, and reply by email with either the document or a download
// link.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/docrelay/convert"
	"github.com/hazyhaar/docrelay/mailparse"
	"github.com/hazyhaar/docrelay/pdfinfo"
)

// Converter runs one conversion. Satisfied by *convert.Dispatcher.
type Converter interface {
	Convert(ctx context.Context, filename string, pdf []byte) (*convert.Result, error)
}

// Notifier delivers outbound replies. Satisfied by *mailer.Mailer.
type Notifier interface {
	SendAttachment(ctx context.Context, to, originalName string, docx []byte) error
	SendDownloadLink(ctx context.Context, to, originalName string, ref *convert.StoredRef, base string) error
	SendDelayNotice(ctx context.Context, to, originalName string) error
}

// Outcome classifies one processed inbound message.
type Outcome struct {
	Kind    OutcomeKind
	Reason  string // set for skips: why nothing was done
	Backend string // backend that produced the result, when one did
}

type OutcomeKind string

const (
	// OutcomeConverted: document converted and attached to the reply.
	OutcomeConverted OutcomeKind = "converted"
	// OutcomeStored: result too large to attach, reply carries a link.
	OutcomeStored OutcomeKind = "stored"
	// OutcomeSkipped: deliberate silent no-op (gate miss, no attachment,
	// broken PDF). Not an error; unrelated emails must not bounce.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeNotified: conversion outlived its budget, sender got a
	// delay notice instead of a result.
	OutcomeNotified OutcomeKind = "notified"
)

// Config configures the relay service.
type Config struct {
	// DownloadBase is the conversion service's public base URL, joined
	// with relative download paths in link emails. Derived from the
	// /convert endpoint URL when empty.
	DownloadBase string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the relay pipeline.
type Service struct {
	cfg     Config
	conv    Converter
	mail    Notifier
	monitor Monitor
	probe   ProbeFunc
	logger  *slog.Logger
}

// ProbeFunc validates a PDF payload. The default is pdfinfo.Probe.
type ProbeFunc func(pdf []byte) (*pdfinfo.Info, error)

// Option customises New.
type Option func(*Service)

// WithMonitor attaches an analytics monitor.
func WithMonitor(m Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

// WithProbe replaces the PDF validation probe.
func WithProbe(p ProbeFunc) Option {
	return func(s *Service) { s.probe = p }
}

// New creates the relay service.
func New(cfg Config, conv Converter, mail Notifier, opts ...Option) (*Service, error) {
	if conv == nil {
		return nil, errors.New("relay: converter is required")
	}
	if mail == nil {
		return nil, errors.New("relay: notifier is required")
	}
	cfg.defaults()
	s := &Service{cfg: cfg, conv: conv, mail: mail, probe: pdfinfo.Probe, logger: cfg.Logger}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ProcessInbound runs the full pipeline on one raw email.
//
// Returned errors are terminal request failures (no sender, conversion
// failure, delivery failure). A gate miss or missing attachment is not an
// error: the outcome says Skipped and the webhook acknowledges success.
func (s *Service) ProcessInbound(ctx context.Context, raw []byte) (*Outcome, error) {
	start := time.Now()

	in, err := mailparse.Parse(raw)
	switch {
	case errors.Is(err, mailparse.ErrNoAttachment):
		s.logger.Info("no pdf attachment, skipping")
		return &Outcome{Kind: OutcomeSkipped, Reason: "no pdf attachment"}, nil
	case err != nil:
		return nil, err
	}

	att := in.Attachment
	size := int64(len(att.Data))
	logger := s.logger.With("from", in.From, "filename", att.Filename, "size", size)

	outcome, err := s.process(ctx, logger, in)
	if err == nil && s.monitor != nil {
		s.monitor.ConversionProcessed(in.From, string(outcome.Kind), outcome.Backend, size, time.Since(start))
	}
	return outcome, err
}

func (s *Service) process(ctx context.Context, logger *slog.Logger, in *mailparse.Inbound) (*Outcome, error) {
	att := in.Attachment

	// Validation gate: .pdf name and a subject that asks for Word.
	// A miss is a deliberate silent no-op.
	if !strings.HasSuffix(strings.ToLower(att.Filename), ".pdf") || !in.WantsDocx() {
		logger.Info("validation gate miss, skipping", "subject", in.Subject)
		return &Outcome{Kind: OutcomeSkipped, Reason: "not a conversion request"}, nil
	}

	// Structural probe. A broken or fake PDF is treated like any other
	// unrelated attachment: skip, don't bounce.
	info, err := s.probe(att.Data)
	if err != nil {
		logger.Info("attachment is not a valid pdf, skipping", "error", err)
		return &Outcome{Kind: OutcomeSkipped, Reason: "invalid pdf"}, nil
	}
	logger.Info("converting", "pages", info.PageCount)

	res, err := s.conv.Convert(ctx, att.Filename, att.Data)
	if errors.Is(err, convert.ErrTimeout) {
		if mailErr := s.mail.SendDelayNotice(ctx, in.From, att.Filename); mailErr != nil {
			return nil, fmt.Errorf("relay: delay notice: %w", mailErr)
		}
		return &Outcome{Kind: OutcomeNotified}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relay: conversion: %w", err)
	}

	switch {
	case res.Stored != nil:
		if err := s.mail.SendDownloadLink(ctx, in.From, att.Filename, res.Stored, s.cfg.DownloadBase); err != nil {
			return nil, fmt.Errorf("relay: link reply: %w", err)
		}
		return &Outcome{Kind: OutcomeStored, Backend: res.Backend}, nil
	default:
		if err := s.mail.SendAttachment(ctx, in.From, att.Filename, res.Inline); err != nil {
			return nil, fmt.Errorf("relay: attachment reply: %w", err)
		}
		return &Outcome{Kind: OutcomeConverted, Backend: res.Backend}, nil
	}
}

// DeriveDownloadBase maps a /convert endpoint URL to the service base URL
// download paths are relative to.
func DeriveDownloadBase(convertURL string) string {
	return strings.TrimSuffix(convertURL, "/convert")
}
