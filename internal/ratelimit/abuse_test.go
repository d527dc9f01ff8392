package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

type fakeClock struct {
	current time.Time
}

func (fc *fakeClock) now() time.Time {
	return fc.current
}

func (fc *fakeClock) advance(d time.Duration) {
	fc.current = fc.current.Add(d)
}

func newTestGuard(t *testing.T) (*AbuseGuard, *fakeClock) {
	t.Helper()

	clock := &fakeClock{current: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	store := NewMemoryKeyedStore()
	store.now = clock.now

	guard := NewAbuseGuard(store, config.GetConfig())
	guard.now = clock.now

	return guard, clock
}

func TestBackoffTable(t *testing.T) {
	guard, _ := newTestGuard(t)

	var backoffTestCases = []struct {
		violations int
		expected   time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{5, 480 * time.Second},
		{8, 3600 * time.Second},
		{20, 3600 * time.Second},
	}

	for _, tc := range backoffTestCases {
		actual := guard.backoffFor(tc.violations)
		if actual != tc.expected {
			t.Fatalf("Expected backoff %s for %d violations, got %s", tc.expected, tc.violations, actual)
		}
	}
}

func TestBackoffIsNonDecreasing(t *testing.T) {
	guard, _ := newTestGuard(t)

	previous := time.Duration(0)
	for violations := 1; violations <= 40; violations++ {
		backoff := guard.backoffFor(violations)
		if backoff < previous {
			t.Fatalf("Backoff decreased from %s to %s at %d violations", previous, backoff, violations)
		}
		if backoff > 3600*time.Second {
			t.Fatalf("Backoff %s exceeds the 3600s cap at %d violations", backoff, violations)
		}
		previous = backoff
	}
}

func TestBanDurationDoubling(t *testing.T) {
	guard, _ := newTestGuard(t)

	var banTestCases = []struct {
		violations int
		expected   time.Duration
	}{
		{5, 300 * time.Second},
		{9, 300 * time.Second},
		{10, 600 * time.Second},
		{15, 1200 * time.Second},
		{100, 86400 * time.Second},
	}

	for _, tc := range banTestCases {
		actual := guard.banDurationFor(tc.violations)
		if actual != tc.expected {
			t.Fatalf("Expected ban duration %s for %d violations, got %s", tc.expected, tc.violations, actual)
		}
	}
}

func TestMessageRateLimitWindow(t *testing.T) {
	guard, clock := newTestGuard(t)

	connectionID := domain.ConnectionID("conn-1")

	for i := 0; i < 60; i++ {
		verdict := guard.CheckMessage(context.TODO(), connectionID, "10.0.0.1", "user-1", 100)
		if !verdict.Allowed {
			t.Fatalf("Expected message %d to be allowed", i+1)
		}
	}

	verdict := guard.CheckMessage(context.TODO(), connectionID, "10.0.0.1", "user-1", 100)
	if verdict.Allowed {
		t.Fatalf("Expected the 61st message in the window to be rejected")
	}
	if verdict.RetryAfter <= 0 {
		t.Fatalf("Expected a positive retry_after, got %s", verdict.RetryAfter)
	}

	clock.advance(61 * time.Second)

	verdict = guard.CheckMessage(context.TODO(), connectionID, "10.0.0.1", "user-1", 100)
	if !verdict.Allowed {
		t.Fatalf("Expected a message in a fresh window to be allowed")
	}
}

func TestOversizedMessageIsRejected(t *testing.T) {
	guard, _ := newTestGuard(t)

	verdict := guard.CheckMessage(context.TODO(), "conn-1", "10.0.0.1", "user-1", 10241)
	if verdict.Allowed {
		t.Fatalf("Expected an oversized message to be rejected")
	}
	if verdict.Reason != "message too large" {
		t.Fatalf("Unexpected rejection reason: %s", verdict.Reason)
	}
}

func TestBanAfterRepeatedViolations(t *testing.T) {
	guard, _ := newTestGuard(t)

	origin := "10.0.0.2"
	user := domain.UserID("user-2")

	for i := 0; i < 5; i++ {
		guard.RecordViolation(context.TODO(), origin, user)
	}

	verdict := guard.CheckConnectionAttempt(context.TODO(), origin, user)
	if verdict.Allowed {
		t.Fatalf("Expected the attempt to be rejected after 5 violations")
	}
	if !verdict.Banned {
		t.Fatalf("Expected the rejection to be a ban")
	}
	if verdict.RetryAfter < 299*time.Second || verdict.RetryAfter > 300*time.Second {
		t.Fatalf("Expected a retry_after of roughly 300s, got %s", verdict.RetryAfter)
	}

	// The ban on the user id applies from other origins too
	verdict = guard.CheckConnectionAttempt(context.TODO(), "10.99.99.99", user)
	if verdict.Allowed || !verdict.Banned {
		t.Fatalf("Expected the user ban to apply from a different origin")
	}
}

func TestReconnectThrottle(t *testing.T) {
	guard, clock := newTestGuard(t)

	origin := "10.0.0.3"
	user := domain.UserID("user-3")

	for i := 0; i < 9; i++ {
		verdict := guard.CheckConnectionAttempt(context.TODO(), origin, user)
		if !verdict.Allowed {
			t.Fatalf("Expected attempt %d to be allowed, got rejection: %s", i+1, verdict.Reason)
		}
		clock.advance(10 * time.Second)
	}

	verdict := guard.CheckConnectionAttempt(context.TODO(), origin, user)
	if verdict.Allowed {
		t.Fatalf("Expected the 10th attempt within the window to be throttled")
	}
	if verdict.Banned {
		t.Fatalf("Expected a throttle, not a ban")
	}
	if verdict.RetryAfter <= 0 {
		t.Fatalf("Expected a positive retry_after, got %s", verdict.RetryAfter)
	}
}

func TestBackoffGateRejectsEarlyReconnect(t *testing.T) {
	guard, clock := newTestGuard(t)

	origin := "10.0.0.4"
	user := domain.UserID("user-4")

	verdict := guard.CheckConnectionAttempt(context.TODO(), origin, user)
	if !verdict.Allowed {
		t.Fatalf("Expected the first attempt to be allowed")
	}

	guard.RecordViolation(context.TODO(), origin, user)

	clock.advance(10 * time.Second)

	verdict = guard.CheckConnectionAttempt(context.TODO(), origin, user)
	if verdict.Allowed {
		t.Fatalf("Expected an attempt inside the 30s backoff to be rejected")
	}
	if verdict.RetryAfter <= 0 || verdict.RetryAfter > 20*time.Second {
		t.Fatalf("Expected roughly 20s of remaining backoff, got %s", verdict.RetryAfter)
	}

	clock.advance(31 * time.Second)

	verdict = guard.CheckConnectionAttempt(context.TODO(), origin, user)
	if !verdict.Allowed {
		t.Fatalf("Expected an attempt after the backoff elapsed to be allowed, got: %s", verdict.Reason)
	}
}

type failingStore struct {
}

func (fs *failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("store unreachable")
}

func (fs *failingStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return errors.New("store unreachable")
}

func (fs *failingStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("store unreachable")
}

func (fs *failingStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, errors.New("store unreachable")
}

func (fs *failingStore) Delete(ctx context.Context, key string) error {
	return errors.New("store unreachable")
}

func (fs *failingStore) GC() {
}

func TestGuardFailsClosedOnStoreOutage(t *testing.T) {
	guard := NewAbuseGuard(&failingStore{}, config.GetConfig())

	verdict := guard.CheckConnectionAttempt(context.TODO(), "10.0.0.5", "user-5")
	if verdict.Allowed {
		t.Fatalf("Expected the guard to fail closed when the store is unreachable")
	}
	if verdict.Reason != storeUnavailableReason {
		t.Fatalf("Unexpected rejection reason: %s", verdict.Reason)
	}
}

func TestGuardFailsOpenInDevelopmentMode(t *testing.T) {
	cfg := config.GetConfig()
	cfg.DevelopmentMode = true

	guard := NewAbuseGuard(&failingStore{}, cfg)

	verdict := guard.CheckConnectionAttempt(context.TODO(), "10.0.0.6", "user-6")
	if !verdict.Allowed {
		t.Fatalf("Expected the guard to fail open in development mode")
	}
}

func TestMemoryStoreGC(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	store := NewMemoryKeyedStore()
	store.now = clock.now

	store.Set(context.TODO(), "short", "v", time.Minute)
	store.Set(context.TODO(), "long", "v", time.Hour)

	clock.advance(2 * time.Minute)
	store.GC()

	if _, err := store.Get(context.TODO(), "short"); err != ErrKeyNotFound {
		t.Fatalf("Expected the expired key to be gone, got: %v", err)
	}

	if _, err := store.Get(context.TODO(), "long"); err != nil {
		t.Fatalf("Expected the live key to survive GC, got: %v", err)
	}
}
