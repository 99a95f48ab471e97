// Package mailparse extracts what the relay needs from a raw inbound
// email: the sender, the subject, and the first PDF attachment in
// document order. Everything else in the message is ignored.
package mailparse

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"strings"
)

var (
	// ErrNoSender reports a message without a usable From header.
	ErrNoSender = errors.New("mailparse: no sender address")

	// ErrNoAttachment reports a message with no qualifying PDF attachment.
	ErrNoAttachment = errors.New("mailparse: no pdf attachment")
)

// Attachment is one extracted file part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Inbound is the parsed view of one inbound email.
type Inbound struct {
	From       string
	Subject    string
	Attachment *Attachment
}

// WantsDocx reports whether the subject asks for a Word conversion:
// it contains "word" or "docx", case-insensitive.
func (in *Inbound) WantsDocx() bool {
	s := strings.ToLower(in.Subject)
	return strings.Contains(s, "word") || strings.Contains(s, "docx")
}

// Parse reads a raw MIME email and extracts sender, subject, and the
// first part that is attachment-disposed, PDF-typed, and ".pdf"-named.
// Selection is first-match in document order, not largest.
func Parse(raw []byte) (*Inbound, error) {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("mailparse: read message: %w", err)
	}

	from := senderAddress(msg.Header.Get("From"))
	if from == "" {
		return nil, ErrNoSender
	}

	in := &Inbound{
		From:    from,
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}

	att, err := firstPDF(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Disposition"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, err
	}
	if att == nil {
		return nil, ErrNoAttachment
	}
	in.Attachment = att
	return in, nil
}

// firstPDF walks a part (possibly multipart, possibly nested) and returns
// the first qualifying PDF attachment, or nil.
func firstPDF(contentType, disposition, encoding string, body io.Reader) (*Attachment, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// No or malformed Content-Type on a leaf part: cannot be a PDF.
		return nil, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("mailparse: multipart without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("mailparse: next part: %w", err)
			}
			att, err := firstPDF(
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Disposition"),
				part.Header.Get("Content-Transfer-Encoding"),
				part,
			)
			if err != nil {
				return nil, err
			}
			if att != nil {
				return att, nil
			}
		}
	}

	if !qualifies(mediaType, disposition) {
		return nil, nil
	}
	filename := partFilename(disposition, params)
	if filename == "" || !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, nil
	}

	data, err := decodeBody(body, encoding)
	if err != nil {
		return nil, fmt.Errorf("mailparse: decode %s: %w", filename, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &Attachment{
		Filename:    filepath.Base(filename),
		ContentType: mediaType,
		Data:        data,
	}, nil
}

// qualifies applies the selection rule: attachment disposition and a
// PDF-ish declared type.
func qualifies(mediaType, disposition string) bool {
	return strings.Contains(strings.ToLower(disposition), "attachment") &&
		strings.Contains(strings.ToLower(mediaType), "pdf")
}

// partFilename pulls the filename from Content-Disposition, falling back
// to the Content-Type name parameter, decoding RFC 2047 words either way.
func partFilename(disposition string, typeParams map[string]string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if f := params["filename"]; f != "" {
			return decodeHeader(f)
		}
	}
	return decodeHeader(typeParams["name"])
}

func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, newBase64Cleaner(r)))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// senderAddress normalizes "Name <user@host>" to the bare address.
// Unparseable but non-empty headers pass through as-is so replies still
// have somewhere to go.
func senderAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(header); err == nil {
		return addr.Address
	}
	return header
}

func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// base64Cleaner strips whitespace so line-wrapped base64 bodies decode.
type base64Cleaner struct {
	r io.Reader
}

func newBase64Cleaner(r io.Reader) io.Reader { return &base64Cleaner{r: r} }

func (c *base64Cleaner) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	for {
		n, err := c.r.Read(buf)
		j := 0
		for _, b := range buf[:n] {
			switch b {
			case '\r', '\n', ' ', '\t':
			default:
				p[j] = b
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}
