package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/shutter/pkg/slogx"
)

// Notifier delivers messages to users out of band. Delivery never affects
// the outcome of an auth flow.
type Notifier interface {
	MagicLink(ctx context.Context, to, link string, expiresAt time.Time) error
	LowBackupCodes(ctx context.Context, to string, remaining int) error
}

const notifyTimeout = 30 * time.Second

// dispatch runs send in the background, detached from the request so a
// client hang-up does not cancel delivery. wg tracks the goroutine.
func dispatch(ctx context.Context, wg *sync.WaitGroup, what string, send func(ctx context.Context) error) {
	l := slogx.FromContext(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)

	wg.Go(func() {
		defer cancel()
		if err := send(ctx); err != nil {
			l.Error("notification failed", slog.String("kind", what), slog.Any("error", err))
		}
	})
}
