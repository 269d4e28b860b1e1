package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const keyPrefix = "purchasegate:rate:verify:"

// WindowStore counts hits in fixed expiring windows
type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter caps verification attempts per payer in a fixed window.
// A Limiter without a store, or with a zero limit, allows everything.
type Limiter struct {
	store  WindowStore
	limit  int
	window time.Duration
}

func NewLimiter(store WindowStore, limit int, window time.Duration) *Limiter {
	if limit < 0 {
		limit = 0
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
	}
}

// Enabled reports whether the limiter enforces anything
func (l *Limiter) Enabled() bool {
	return l != nil && l.store != nil && l.limit > 0
}

// Allow counts one attempt by payerID. When the window is exhausted it returns
// false and the time until the window resets.
func (l *Limiter) Allow(ctx context.Context, payerID string) (time.Duration, bool, error) {
	if !l.Enabled() {
		return 0, true, nil
	}
	payerID = strings.TrimSpace(payerID)
	if payerID == "" {
		return 0, false, fmt.Errorf("payer id is required")
	}

	count, ttl, err := l.store.IncrementWindow(ctx, keyPrefix+payerID, l.window)
	if err != nil {
		return 0, false, err
	}
	if count > int64(l.limit) {
		if ttl <= 0 {
			ttl = l.window
		}
		return ttl, false, nil
	}
	return 0, true, nil
}

// RetryAfterSeconds rounds d up to whole seconds for the Retry-After header
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	return sec
}
