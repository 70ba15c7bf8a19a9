package providers

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"callwatch/internal/config"
	"callwatch/internal/engine"
	"callwatch/internal/models"
)

type emailConfig struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
}

// Email delivers alerts over SMTP.
type Email struct {
	cfg config.Config
}

// NewEmail returns the email transport.
func NewEmail(cfg config.Config) *Email {
	return &Email{cfg: cfg}
}

// Send mails the match context to the action's recipients.
func (e *Email) Send(ctx context.Context, action models.Action, match models.MatchEvent) error {
	var eCfg emailConfig
	if err := decodeConfig(action, &eCfg); err != nil {
		return err
	}
	if len(eCfg.Recipients) == 0 {
		return engine.Permanent(fmt.Errorf("email action %s has no recipients", action.ID))
	}

	smtpServer := e.cfg.Email.SMTPServer
	smtpPort := e.cfg.Email.SMTPPort
	username := e.cfg.Email.Username
	password := e.cfg.Email.Password
	from := e.cfg.Email.FromAddr
	if from == "" {
		from = username
	}
	if smtpServer == "" || smtpPort == 0 || username == "" || password == "" {
		return engine.Permanent(fmt.Errorf("missing SMTP configuration: server, port, username, or password is empty"))
	}

	subject := eCfg.Subject
	if subject == "" {
		subject = alertSubject(match)
	}
	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		from, strings.Join(eCfg.Recipients, ", "), subject, alertBody(match))

	auth := smtp.PlainAuth("", username, password, smtpServer)
	addr := fmt.Sprintf("%s:%d", smtpServer, smtpPort)

	// smtp.SendMail has no context hook; honor cancellation around the call.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, from, eCfg.Recipients, []byte(message))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email to %v: %w", eCfg.Recipients, err)
		}
	}
	return nil
}
