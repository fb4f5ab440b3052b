package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/avikram/notify-service/internal/model"
)

// Store is the slice of the shared store the limiter needs. The
// increment and window-expiry arming must happen in a single atomic
// operation so concurrent admission paths cannot lose updates.
type Store interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

type Config struct {
	// Limit is the maximum admissions per (user, channel) per window.
	Limit int
	// Window is the fixed window length.
	Window time.Duration
}

// Limiter bounds how many notifications of a channel a user may trigger
// per fixed window. Fixed-window counting: bursts are possible at window
// boundaries; callers needing smoothing compose their own pacing on top.
type Limiter struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{store: store, cfg: cfg}
}

func Key(channel model.Channel, userID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", channel, userID)
}

// Check counts this call against the (user, channel) window and reports
// whether it is allowed. The first increment of a new window arms the
// window expiry.
func (l *Limiter) Check(ctx context.Context, userID string, channel model.Channel) (*Result, error) {
	count, ttl, err := l.store.IncrWindow(ctx, Key(channel, userID), l.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit for %s/%s: %w", channel, userID, err)
	}

	remaining := l.cfg.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   count <= int64(l.cfg.Limit),
		Remaining: remaining,
		ResetIn:   ttl,
	}, nil
}
