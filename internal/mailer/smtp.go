// Package mailer sends finished reports over SMTP.
package mailer

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/wneessen/go-mail"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
)

const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

type Config struct {
	Host     string        `json:"host" yaml:"host" mapstructure:"host"`
	Port     int           `json:"port" yaml:"port" mapstructure:"port"`
	Username string        `json:"username" yaml:"username" mapstructure:"username"`
	Password string        `json:"password" yaml:"password" mapstructure:"password"`
	From     string        `json:"from" yaml:"from" mapstructure:"from"`
	TLS      string        `json:"tls" yaml:"tls" mapstructure:"tls"`
	SSL      bool          `json:"ssl" yaml:"ssl" mapstructure:"ssl"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// SMTP implements report.MailTransport.
type SMTP struct {
	cfg Config
}

func New(cfg Config) *SMTP {
	return &SMTP{cfg: cfg}
}

var _ report.MailTransport = (*SMTP)(nil)

func (s *SMTP) Send(ctx context.Context, msg report.Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.options()...)
	if err != nil {
		return goerr.Wrap(err, "failed to create SMTP client", goerr.V("host", s.cfg.Host), goerr.T(apperr.TagEmail))
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return goerr.Wrap(err, "failed to send email",
			goerr.V("host", s.cfg.Host),
			goerr.V("port", s.cfg.Port),
			goerr.T(apperr.TagEmail))
	}
	return nil
}

func (s *SMTP) build(msg report.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, goerr.Wrap(err, "invalid sender address", goerr.V("from", s.cfg.From), goerr.T(apperr.TagValidation))
	}
	if err := m.To(msg.To...); err != nil {
		return nil, goerr.Wrap(err, "invalid recipient address", goerr.T(apperr.TagValidation))
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, goerr.Wrap(err, "invalid cc address", goerr.T(apperr.TagValidation))
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, a := range msg.Attachments {
		m.AttachFile(a.Path,
			mail.WithFileName(a.Name),
			mail.WithFileContentType(mail.ContentType(a.ContentType)),
		)
	}
	return m, nil
}

func (s *SMTP) options() []mail.Option {
	opts := []mail.Option{
		mail.WithTLSPolicy(tlsPolicy(s.cfg.TLS)),
	}
	if s.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(s.cfg.Port))
	}
	if s.cfg.SSL {
		opts = append(opts, mail.WithSSL())
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch strings.ToLower(name) {
	case TLSOpportunistic:
		return mail.TLSOpportunistic
	case TLSNone:
		return mail.NoTLS
	}
	return mail.TLSMandatory
}
