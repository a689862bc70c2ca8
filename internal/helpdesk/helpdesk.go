// Package helpdesk forwards reset requests that need a human to the helpdesk
// mailbox over SMTP.
package helpdesk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/service"
	"github.com/wneessen/go-mail"
)

const DefaultTemplate = `A user has requested a password reset.

Name: {{.Name}}
Username: {{.Username}}
PIN: {{.Pin}}
`

const DefaultSubject = "Password reset request"

var ErrNotConfigured = errors.New("helpdesk mail is not configured")

// formatFields rewrites {name}, {username} and {pin} placeholders into
// template actions, so older template files keep working.
var formatFields = strings.NewReplacer(
	"{name}", "{{.Name}}",
	"{username}", "{{.Username}}",
	"{pin}", "{{.Pin}}",
)

type Config struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	Timeout  time.Duration

	From    string
	To      string
	Subject string
	// TemplatePath names a text/template file rendered with the request's
	// Name, Username and Pin. {name}, {username} and {pin} placeholders are
	// accepted too. Empty uses DefaultTemplate.
	TemplatePath string
}

// Notifier implements service.HelpdeskNotifier.
type Notifier struct {
	config   Config
	client   *mail.Client
	template *template.Template
}

func New(config Config) (*Notifier, error) {
	if config.From == "" || config.To == "" {
		return nil, fmt.Errorf("helpdesk notifier requires sender and recipient addresses")
	}
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}

	tmpl, err := loadTemplate(config.TemplatePath)
	if err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(config.Port),
	}
	if config.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(config.Timeout))
	}

	// only authenticate when credentials are configured
	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if config.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		slog.Warn("helpdesk mail is sent without TLS")
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &Notifier{
		config:   config,
		client:   client,
		template: tmpl,
	}, nil
}

func (n *Notifier) NotifyHelpdesk(
	ctx context.Context,
	req service.HelpdeskRequest,
) error {
	msg, err := n.BuildMessage(req)
	if err != nil {
		return err
	}

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		slog.Error("failed to send helpdesk mail", "host", n.config.Host, "port", n.config.Port, "err", err)
		return err
	}

	slog.Info("helpdesk mail sent", "to", n.config.To, "username", req.Username)
	return nil
}

// BuildMessage renders the helpdesk mail for req.
func (n *Notifier) BuildMessage(req service.HelpdeskRequest) (*mail.Msg, error) {
	var body bytes.Buffer
	if err := n.template.Execute(&body, req); err != nil {
		return nil, fmt.Errorf("failed to render helpdesk template: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.config.From); err != nil {
		return nil, fmt.Errorf("failed to set from address: %w", err)
	}
	if err := msg.To(n.config.To); err != nil {
		return nil, fmt.Errorf("failed to set to address: %w", err)
	}
	msg.Subject(n.config.Subject)
	msg.SetBodyString(mail.TypeTextPlain, body.String())
	return msg, nil
}

func loadTemplate(path string) (*template.Template, error) {
	text := DefaultTemplate
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read helpdesk template: %w", err)
		}
		text = formatFields.Replace(string(b))
	}

	tmpl, err := template.New("helpdesk").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse helpdesk template: %w", err)
	}
	return tmpl, nil
}

// Unconfigured rejects every request. It stands in when no mail server is set.
type Unconfigured struct{}

func (Unconfigured) NotifyHelpdesk(context.Context, service.HelpdeskRequest) error {
	return ErrNotConfigured
}
