package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// SMTPConfig configures the email notifier.
type SMTPConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	DashboardURL string
	Timeout      time.Duration
}

// EmailNotifier sends alerts over SMTP with STARTTLS.
type EmailNotifier struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(ctx context.Context, from, to string, msg []byte) error
}

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(cfg SMTPConfig, logger *slog.Logger) *EmailNotifier {
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = n.sendSMTP
	return n
}

// Notify implements Notifier. Without sender credentials it skips and
// reports false.
func (n *EmailNotifier) Notify(ctx context.Context, recipient, ruleName string, summary models.AlertSummary) bool {
	if n.cfg.Username == "" || n.cfg.Password == "" {
		n.logger.Warn("smtp sender not configured; skipping alert email", slog.String("rule", ruleName))
		return false
	}
	if recipient == "" {
		n.logger.Warn("no alert recipient configured; skipping alert email", slog.String("rule", ruleName))
		return false
	}

	msg, err := n.buildMessage(recipient, ruleName, summary)
	if err != nil {
		n.logger.Error("failed to render alert email", slog.String("rule", ruleName), slog.Any("error", err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	if err := n.send(ctx, n.cfg.From, recipient, msg); err != nil {
		n.logger.Error("failed to send alert email", slog.String("rule", ruleName), slog.String("recipient", recipient), slog.Any("error", err))
		return false
	}
	n.logger.Info("alert email sent", slog.String("rule", ruleName), slog.String("recipient", recipient))
	return true
}

var textBody = template.Must(template.New("text").Parse(`Alert Triggered: {{.Rule}}

Incident Details:
- Trace ID: {{.Summary.TraceID}}
- Category: {{.Summary.Category}}
- Priority: {{.Summary.Priority}}
- Summary: {{.Summary.RedactedText}}

Action Required: Please check the incidents dashboard{{if .DashboardURL}} at {{.DashboardURL}}{{end}}.
`))

var htmlBody = htmltemplate.Must(htmltemplate.New("html").Parse(`<html>
  <body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <h2>Alert Triggered: {{.Rule}}</h2>
    <p><strong>Trace ID:</strong> <code>{{.Summary.TraceID}}</code></p>
    <p><strong>Category:</strong> {{.Summary.Category}}</p>
    <p><strong>Priority:</strong> {{.Summary.Priority}}</p>
    <p><strong>Summary:</strong> {{.Summary.RedactedText}}</p>
    {{if .DashboardURL}}<p><a href="{{.DashboardURL}}">View incidents</a></p>{{end}}
  </body>
</html>
`))

type emailData struct {
	Rule         string
	Summary      models.AlertSummary
	DashboardURL string
}

func (n *EmailNotifier) buildMessage(recipient, ruleName string, summary models.AlertSummary) ([]byte, error) {
	data := emailData{Rule: ruleName, Summary: summary, DashboardURL: n.cfg.DashboardURL}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	textPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if err := textBody.Execute(textPart, data); err != nil {
		return nil, err
	}
	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if err := htmlBody.Execute(htmlPart, data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: Incident Engine <%s>\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: CLOUD ALERT: %s\r\n", sanitizeHeader(ruleName))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func (n *EmailNotifier) sendSMTP(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if err := client.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
