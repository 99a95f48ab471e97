// Package mailer composes and delivers the relay's outbound notifications
// through the SendGrid v3 API: the converted file as an attachment, a
// download link for oversized results, and a delay notice when a
// conversion outlives its budget.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docrelay/convert"
)

// ErrDelivery reports a failed send. The relay surfaces it as a 500; the
// conversion itself succeeded, only the reply could not go out.
var ErrDelivery = errors.New("mailer: delivery failed")

const (
	defaultEndpoint = "https://api.sendgrid.com/v3/mail/send"
	docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Mailer sends notifications from a fixed sender identity.
type Mailer struct {
	Endpoint string // SendGrid mail-send URL, overridable for tests

	apiKey string
	sender string
	client *http.Client
	policy *bluemonday.Policy
	logger *slog.Logger
}

// New creates a Mailer. Filenames are user-controlled and end up inside
// HTML bodies, so every interpolated string passes a strict sanitizer.
func New(apiKey, sender string, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		Endpoint: defaultEndpoint,
		apiKey:   apiKey,
		sender:   sender,
		client:   &http.Client{},
		policy:   bluemonday.StrictPolicy(),
		logger:   logger,
	}
}

// SendGrid v3 mail-send payload.
type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	Attachments      []sgAttachment      `json:"attachments,omitempty"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgAttachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type"`
	Disposition string `json:"disposition"`
}

// SendAttachment delivers the converted document inline.
func (m *Mailer) SendAttachment(ctx context.Context, to, originalName string, docx []byte) error {
	out := outputName(originalName)
	body := fmt.Sprintf(
		"<strong>Hello,</strong><br>we converted your file <strong>%s</strong> to Word format (.docx).<br>You can download it from the attachment on this email.",
		m.policy.Sanitize(originalName))

	return m.send(ctx, sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
		From:             sgAddress{Email: m.sender},
		Subject:          "Your converted file: " + out,
		Content:          []sgContent{{Type: "text/html", Value: body}},
		Attachments: []sgAttachment{{
			Content:     base64.StdEncoding.EncodeToString(docx),
			Filename:    out,
			Type:        docxContentType,
			Disposition: "attachment",
		}},
	})
}

// SendDownloadLink delivers a time-limited link for a stored result.
// base is the conversion service's public base URL; ref.DownloadURL is
// relative to it.
func (m *Mailer) SendDownloadLink(ctx context.Context, to, originalName string, ref *convert.StoredRef, base string) error {
	out := outputName(originalName)
	link := strings.TrimSuffix(base, "/") + ref.DownloadURL
	body := fmt.Sprintf(`<strong>Hello,</strong><br><br>
we converted your file <strong>%s</strong> to Word format (.docx).<br><br>
<strong>File details:</strong><br>
&bull; Name: %s<br>
&bull; Size: %.2f MB<br>
&bull; Valid until: %s<br><br>
The file is too large to send by email, but you can download it from this link:<br><br>
<a href="%s">Download file</a><br><br>
<small><em>This link expires in 24 hours.</em></small>`,
		m.policy.Sanitize(originalName),
		m.policy.Sanitize(out),
		ref.SizeMB,
		m.policy.Sanitize(ref.ExpiresAt),
		link)

	return m.send(ctx, sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
		From:             sgAddress{Email: m.sender},
		Subject:          "Your converted file: " + out,
		Content:          []sgContent{{Type: "text/html", Value: body}},
	})
}

// SendDelayNotice tells the sender a conversion outlived its budget and
// is still being worked on, instead of a hard failure reply.
func (m *Mailer) SendDelayNotice(ctx context.Context, to, originalName string) error {
	body := fmt.Sprintf(
		"<strong>Hello,</strong><br>converting your file <strong>%s</strong> is taking longer than usual. We are still working on it and will send the result as soon as it is ready.",
		m.policy.Sanitize(originalName))

	return m.send(ctx, sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
		From:             sgAddress{Email: m.sender},
		Subject:          "Your conversion is still processing",
		Content:          []sgContent{{Type: "text/html", Value: body}},
	})
}

func (m *Mailer) send(ctx context.Context, mail sgMail) error {
	payload, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("mailer: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode, body)
	}
	m.logger.Info("mail sent", "to", mail.Personalizations[0].To[0].Email, "subject", mail.Subject)
	return nil
}

// outputName maps "report.pdf" to "report.docx".
func outputName(originalName string) string {
	base := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	if base == "" {
		base = "document"
	}
	return base + ".docx"
}
