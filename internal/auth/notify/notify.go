// Package notify delivers out-of-band messages to users: magic links and
// warnings about their account.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/shutter/pkg/slogx"
)

const (
	subjectMagicLink      = "Your sign-in link"
	subjectLowBackupCodes = "You are running out of backup codes"
)

func magicLinkBody(link string, expiresAt time.Time) string {
	return fmt.Sprintf(`Hi,

Use the link below to sign in. It works once and
expires at %s.

%s

If you did not ask for this, you can ignore this email.
`, expiresAt.UTC().Format("15:04 MST on 2 Jan 2006"), link)
}

func lowBackupCodesBody(remaining int) string {
	noun := "codes"
	if remaining == 1 {
		noun = "code"
	}
	return fmt.Sprintf(`Hi,

You have %d backup %s left for two-factor sign-in.
Generate a new set from your account settings
before you run out.
`, remaining, noun)
}

// Log writes notifications to the logger instead of sending them. It is
// used when no SMTP server is configured.
type Log struct {
	Logger *slog.Logger
}

func (n Log) logger(ctx context.Context) *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slogx.FromContext(ctx)
}

func (n Log) MagicLink(ctx context.Context, to, link string, expiresAt time.Time) error {
	n.logger(ctx).Info("magic link",
		slog.String("to", to),
		slog.String("link", link),
		slog.Time("expires_at", expiresAt))
	return nil
}

func (n Log) LowBackupCodes(ctx context.Context, to string, remaining int) error {
	n.logger(ctx).Info("low backup codes", slog.String("to", to), slog.Int("remaining", remaining))
	return nil
}
