package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/yourusername/dossier-forge/internal/accounts"
	"github.com/yourusername/dossier-forge/internal/config"
	"github.com/yourusername/dossier-forge/internal/jobs"
)

const sendTimeout = 10 * time.Second

// Mailer はMailgun経由でトランザクションメールを送信します。
// 設定が空の場合はすべての送信が no-op になります。
type Mailer struct {
	cfg    *config.Config
	mg     *mailgun.MailgunImpl
	logger *log.Logger
}

// NewMailer は Mailer を作成します。
func NewMailer(cfg *config.Config, logger *log.Logger) *Mailer {
	m := &Mailer{cfg: cfg, logger: logger}
	if cfg.MailgunDomain != "" && cfg.MailgunAPIKey != "" {
		m.mg = mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)
	}
	return m
}

// Enabled は送信可能な設定が揃っているかを返します。
func (m *Mailer) Enabled() bool {
	return m.mg != nil && m.cfg.FromEmail != ""
}

// ReportReady はレポート完成をユーザーに通知します。ベストエフォートで、
// 失敗してもログに残すだけです。
func (m *Mailer) ReportReady(ctx context.Context, user *accounts.User, record *jobs.Record) {
	if !m.Enabled() || user == nil || record == nil {
		return
	}

	subject := fmt.Sprintf("Your research dossier for %q is ready", record.Target)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour %s research dossier for %q has finished.\n\nDownload it here: %s%s\n\n— Dossier Forge",
		user.Name, record.Depth, record.Target, m.cfg.FrontendURL, record.ReportURL,
	)
	m.send(ctx, user.Email, subject, body)
}

// LowCredits は残高が少なくなったことを通知します。
func (m *Mailer) LowCredits(ctx context.Context, user *accounts.User) {
	if !m.Enabled() || user == nil {
		return
	}

	subject := "You're running low on research credits"
	body := fmt.Sprintf(
		"Hi %s,\n\nYour credit balance is down to %d. Top up at %s/billing to keep researching.\n\n— Dossier Forge",
		user.Name, user.Credits, m.cfg.FrontendURL,
	)
	m.send(ctx, user.Email, subject, body)
}

// SendPasswordReset はパスワードリセットの案内を送信します。
func (m *Mailer) SendPasswordReset(ctx context.Context, email, token string) error {
	if !m.Enabled() {
		return nil
	}

	subject := "Reset your Dossier Forge password"
	body := fmt.Sprintf(
		"A password reset was requested for this address.\n\nReset link (valid for 1 hour): %s/reset-password?token=%s\n\nIf you didn't request this, you can ignore this email.\n\n— Dossier Forge",
		m.cfg.FrontendURL, token,
	)

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := m.mg.NewMessage(m.cfg.FromEmail, subject, body, email)
	_, _, err := m.mg.Send(sendCtx, msg)
	return err
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	msg := m.mg.NewMessage(m.cfg.FromEmail, subject, body, to)
	if _, _, err := m.mg.Send(sendCtx, msg); err != nil && m.logger != nil {
		m.logger.Printf("failed to send notification to %s: %v", to, err)
	}
}
