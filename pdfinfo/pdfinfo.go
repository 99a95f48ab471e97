// Package pdfinfo probes PDF payloads before they reach a conversion
// backend: structural validation and a page count, nothing more.
package pdfinfo

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Info summarizes a probed PDF.
type Info struct {
	PageCount int
	SizeBytes int64
}

// Probe validates the payload as a PDF and returns its page count.
// A payload pdfcpu cannot parse returns an error; callers decide whether
// that means reject or silently skip.
func Probe(pdf []byte) (*Info, error) {
	if len(pdf) < 5 || !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		return nil, fmt.Errorf("pdfinfo: missing PDF header")
	}

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfinfo: read: %w", err)
	}

	return &Info{
		PageCount: ctx.PageCount,
		SizeBytes: int64(len(pdf)),
	}, nil
}

// LooksLikePDF reports whether the payload starts with the PDF magic.
// Cheap pre-check for callers that only need to reject obvious non-PDFs
// without a full parse.
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}
