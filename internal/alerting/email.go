package alerting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flight-price-alerts/internal/config"
)

// ErrNoRecipient is returned when the email channel has no recipient configured.
var ErrNoRecipient = errors.New("email recipient not configured")

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier delivers alerts over SMTP.
type EmailNotifier struct {
	cfg      config.EmailConfig
	sendMail sendMailFunc
	logger   zerolog.Logger
}

// NewEmailNotifier constructs the SMTP channel.
func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:      cfg,
		sendMail: smtp.SendMail,
		logger:   logger.With().Str("component", "alert_email").Logger(),
	}
}

// Name implements Notifier.
func (e *EmailNotifier) Name() string { return config.ChannelEmail }

// Notify sends a plain-text message to every configured recipient.
func (e *EmailNotifier) Notify(ctx context.Context, alert Alert) error {
	recipients := splitRecipients(e.cfg.To)
	if len(recipients) == 0 {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	msg := buildMessage(e.cfg.From, recipients, alert.Subject, alert.Body, alert.CreatedAt)
	if err := e.sendMail(addr, auth, e.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	e.logger.Info().Str("run_id", alert.RunID).Strs("to", recipients).Msg("alert sent (email)")
	return nil
}

func splitRecipients(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func buildMessage(from string, to []string, subject, body string, at time.Time) []byte {
	if at.IsZero() {
		at = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", at.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

var _ Notifier = (*EmailNotifier)(nil)
