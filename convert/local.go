package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// conversionAttempts is the ordered fallback policy for the LibreOffice
// CLI, as data rather than nested control flow. The plain docx target is
// tried first; the explicit PDF import filter catches builds where the
// default filter resolution fails.
var conversionAttempts = [][]string{
	{"--headless", "--convert-to", "docx"},
	{"--headless", "--convert-to", "docx:writer_pdf_import"},
}

// LocalBackend converts by shelling out to a headless LibreOffice.
// Each conversion runs inside its own scoped temporary directory, removed
// when the attempt finishes.
type LocalBackend struct {
	Bin string // soffice binary name or path
}

// NewLocalBackend creates a subprocess backend. An empty bin defaults to
// "soffice"; "libreoffice" works equally on distributions that ship it
// under that name.
func NewLocalBackend(bin string) *LocalBackend {
	if bin == "" {
		bin = "soffice"
	}
	return &LocalBackend{Bin: bin}
}

func (b *LocalBackend) Name() string { return "local" }

// Convert writes the PDF into a fresh temp dir, runs the attempt list
// under a hard process deadline, and locates the produced file. The
// deadline kills the child outright; a timed-out conversion leaves no
// orphaned soffice process behind.
func (b *LocalBackend) Convert(ctx context.Context, req *Request) (*Result, error) {
	dir, err := os.MkdirTemp("", "docrelay-*")
	if err != nil {
		return nil, fmt.Errorf("convert: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	pdfPath := filepath.Join(dir, req.Filename)
	if err := os.WriteFile(pdfPath, req.PDF, 0o600); err != nil {
		return nil, fmt.Errorf("convert: write input: %w", err)
	}
	base := strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var attempts []error
	for _, args := range conversionAttempts {
		out, err := b.runOnce(ctx, dir, pdfPath, args)
		if errors.Is(err, ErrTimeout) {
			return nil, err
		}
		if err != nil {
			attempts = append(attempts, err)
			continue
		}

		path := locateOutput(dir, base, pdfPath)
		if path == "" {
			attempts = append(attempts, fmt.Errorf("%w (args %q, stdout %q)", ErrOutputNotFound, strings.Join(args, " "), truncate(out, 512)))
			continue
		}
		docx, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("convert: read output: %w", err)
		}
		if len(docx) == 0 {
			return nil, ErrEmptyResult
		}
		return &Result{Inline: docx}, nil
	}
	return nil, fmt.Errorf("convert: local attempts exhausted: %w", errors.Join(attempts...))
}

func (b *LocalBackend) runOnce(ctx context.Context, dir, pdfPath string, args []string) (string, error) {
	full := append(append([]string{}, args...), "--outdir", dir, pdfPath)
	cmd := exec.CommandContext(ctx, b.Bin, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", ErrTimeout
	}
	if err != nil {
		be := &BackendError{
			Backend: b.Name(),
			Stderr:  truncate(stderr.String(), 2048),
			Err:     err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			be.ExitCode = exitErr.ExitCode()
		}
		return "", be
	}
	return stdout.String(), nil
}

// locateOutput finds the conversion product in dir: the expected
// "<base>.docx" first, then any ".docx", then any non-PDF file validated
// by the ZIP magic bytes and renamed into place. DOCX is a ZIP container,
// so a two-byte "PK" check is enough to reject stray log or lock files.
func locateOutput(dir, base, inputPath string) string {
	exact := filepath.Join(dir, base+".docx")
	if _, err := os.Stat(exact); err == nil {
		return exact
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".docx") {
			return filepath.Join(dir, e.Name())
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if path == inputPath || strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		if !hasZipSignature(path) {
			continue
		}
		if err := os.Rename(path, exact); err != nil {
			return path
		}
		return exact
	}
	return ""
}

func hasZipSignature(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	sig := make([]byte, 2)
	if _, err := f.Read(sig); err != nil {
		return false
	}
	return sig[0] == 'P' && sig[1] == 'K'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
