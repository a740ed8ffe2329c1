package link

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the reconnect attempts made by Connect.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Connect calls EnsureConnected and, on failure, retries up to
// cfg.MaxRetries more times with exponential backoff. MaxRetries of zero
// makes exactly one attempt.
func Connect(ctx context.Context, m *Manager, cfg RetryConfig) (AddressInfo, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = 0

	var retries uint64
	if cfg.MaxRetries > 0 {
		retries = uint64(cfg.MaxRetries)
	}

	var addr AddressInfo
	attempt := 0
	op := func() error {
		attempt++
		a, err := m.EnsureConnected(ctx)
		if err != nil {
			return err
		}
		addr = a
		return nil
	}

	notify := func(err error, next time.Duration) {
		m.log.Warn("link attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", next),
			slog.Any("error", err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx), notify)
	if err != nil {
		return AddressInfo{}, err
	}

	return addr, nil
}
