package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/slotline/slotline/internal/config"
)

// EmailNotifier delivers events over SMTP. With credentials configured it
// uses PLAIN auth; without them it speaks to the server directly, which is
// what local relays expect.
type EmailNotifier struct {
	config *config.EmailConfig
	auth   smtp.Auth
}

func NewEmailNotifier(cfg *config.EmailConfig) *EmailNotifier {
	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &EmailNotifier{
		config: cfg,
		auth:   auth,
	}
}

func (n *EmailNotifier) Name() string {
	return "email"
}

func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if len(n.config.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)
	subject := sanitizeHeader(event.Subject())
	to := make([]string, len(n.config.To))
	for i, recipient := range n.config.To {
		to[i] = sanitizeHeader(recipient)
	}

	msg := []string{
		fmt.Sprintf("From: %s", sanitizeHeader(n.config.From)),
		fmt.Sprintf("To: %s", strings.Join(to, ", ")),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		event.Body(),
	}
	body := []byte(strings.Join(msg, "\r\n"))

	if n.auth != nil {
		return smtp.SendMail(addr, n.auth, n.config.From, to, body)
	}

	// No auth - connect directly
	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Mail(n.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, recipient := range to {
		if err := c.Rcpt(recipient); err != nil {
			return fmt.Errorf("rcpt to: %w", err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return c.Quit()
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
