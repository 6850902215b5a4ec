// Package notification delivers operator alerts. User-facing messages go
// through the ledger chat instead; this package is for the humans who run
// the bot.
package notification

import (
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"attestation-core/pkg/config"
	"attestation-core/pkg/logger"
)

// AdminNotifier alerts the operator. Implementations must be safe for
// concurrent use; callers fire and forget.
type AdminNotifier interface {
	NotifyAdmin(subject, body string)
}

// EmailNotifier sends alerts over SMTP. When SMTP is not configured it
// degrades to structured logging so alerts are never silently lost.
type EmailNotifier struct {
	cfg config.SMTPConfig
}

func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	if cfg.Host == "" || cfg.AdminEmail == "" {
		logger.Warn("SMTP not configured, operator alerts will only be logged")
	}
	return &EmailNotifier{cfg: cfg}
}

func (n *EmailNotifier) NotifyAdmin(subject, body string) {
	// alerts always land in the log, mail is best effort on top
	logger.Warn("operator alert", zap.String("subject", subject), zap.String("body", body))

	if n.cfg.Host == "" || n.cfg.AdminEmail == "" {
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.AdminEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.User, n.cfg.Password)
	go func() {
		if err := d.DialAndSend(m); err != nil {
			logger.Error("failed to send operator alert email", zap.Error(err))
		}
	}()
}
