package ratelimit

import (
	"context"
	"time"
)

// Verdict is the outcome of a rate limit or abuse check.  Expected business
// outcomes (throttled, banned) are values here, not errors.
type Verdict struct {
	Allowed    bool
	Banned     bool
	Reason     string
	RetryAfter time.Duration
}

var allowed = Verdict{Allowed: true}

// WindowLimiter counts events per key over a rolling window.  The window
// starts on the first event for a key and the counter expires with the key,
// so a fully elapsed window always admits new traffic.
type WindowLimiter struct {
	store     KeyedStore
	prefix    string
	threshold int64
	window    time.Duration
}

func NewWindowLimiter(store KeyedStore, prefix string, threshold int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		store:     store,
		prefix:    prefix,
		threshold: int64(threshold),
		window:    window,
	}
}

func (wl *WindowLimiter) Allow(ctx context.Context, key string) (Verdict, error) {
	storeKey := wl.prefix + ":" + key

	count, err := wl.store.Increment(ctx, storeKey, wl.window)
	if err != nil {
		return Verdict{}, err
	}

	if count <= wl.threshold {
		return allowed, nil
	}

	retryAfter, err := wl.store.TTL(ctx, storeKey)
	if err != nil {
		retryAfter = wl.window
	}

	return Verdict{
		Allowed:    false,
		Reason:     "rate limit exceeded",
		RetryAfter: retryAfter,
	}, nil
}
