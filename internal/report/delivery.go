package report

import (
	"context"
	"html"
	"mime"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
)

const (
	// DateRangePlaceholder is replaced in subjects and bodies with
	// "YYYY-MM-DD to YYYY-MM-DD".
	DateRangePlaceholder = "{{dateRange}}"
	MaxAttachments       = 2
)

type Attachment struct {
	Path        string
	Name        string
	ContentType string
}

type Message struct {
	To          []string
	Cc          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// MailTransport sends a finished message.
type MailTransport interface {
	Send(ctx context.Context, msg Message) error
}

// Envelope is the configured recipients and templates of a delivery.
type Envelope struct {
	To      []string `json:"to" yaml:"to" mapstructure:"to"`
	Cc      []string `json:"cc,omitempty" yaml:"cc,omitempty" mapstructure:"cc"`
	Subject string   `json:"subject" yaml:"subject" mapstructure:"subject"`
	Body    string   `json:"body" yaml:"body" mapstructure:"body"`
}

type Deliverer struct {
	Transport MailTransport
}

func NewDeliverer(t MailTransport) *Deliverer {
	return &Deliverer{Transport: t}
}

// Deliver mails up to MaxAttachments report files. Transport errors are
// returned unchanged and never retried.
func (d *Deliverer) Deliver(ctx context.Context, env Envelope, start, end time.Time, files []string) error {
	msg, err := BuildMessage(env, start, end, files)
	if err != nil {
		return err
	}
	if d.Transport == nil {
		return goerr.New("mail transport is not configured", goerr.T(apperr.TagValidation))
	}
	if err := d.Transport.Send(ctx, msg); err != nil {
		return err
	}

	ctxlog.From(ctx).Info("report delivered",
		"to", len(msg.To),
		"cc", len(msg.Cc),
		"attachments", len(msg.Attachments),
	)
	return nil
}

// BuildMessage validates env and renders the message for the window.
func BuildMessage(env Envelope, start, end time.Time, files []string) (Message, error) {
	if len(env.To) == 0 {
		return Message{}, goerr.New("no email recipients configured", goerr.T(apperr.TagValidation))
	}
	for _, addr := range append(append([]string{}, env.To...), env.Cc...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			return Message{}, goerr.Wrap(err, "invalid email address", goerr.V("address", addr), goerr.T(apperr.TagValidation))
		}
	}
	if len(files) > MaxAttachments {
		return Message{}, goerr.New("too many attachments",
			goerr.V("count", len(files)),
			goerr.V("max", MaxAttachments),
			goerr.T(apperr.TagValidation))
	}

	dateRange := FormatDateRange(start, end)
	text := strings.ReplaceAll(env.Body, DateRangePlaceholder, dateRange)
	msg := Message{
		To:      env.To,
		Cc:      env.Cc,
		Subject: strings.ReplaceAll(env.Subject, DateRangePlaceholder, dateRange),
		Text:    text,
		HTML:    TextToHTML(text),
	}
	for _, path := range files {
		msg.Attachments = append(msg.Attachments, Attachment{
			Path:        path,
			Name:        filepath.Base(path),
			ContentType: ContentType(path),
		})
	}
	return msg, nil
}

// TextToHTML wraps each non-empty line of text in a paragraph.
func TextToHTML(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	return b.String()
}

// ContentType returns the MIME type of a report file by extension.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
