package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

const (
	historyRetention = time.Hour

	connectionLimiterPrefix = "connattempt"
	messageLimiterPrefix    = "msg"

	banReasonViolations = "repeated rate limit violations"

	storeUnavailableReason = "rate limit state unavailable"
)

// connectionHistory tracks the recent behavior of one (origin, user) pair.
// It survives reconnects and, with the Redis store, process restarts.
type connectionHistory struct {
	Attempts       []int64 `json:"attempts"`
	Violations     int     `json:"violations"`
	BackoffSeconds int64   `json:"backoff_seconds"`
	LastAttempt    int64   `json:"last_attempt"`
}

type banRecord struct {
	ExpiresAt  int64  `json:"expires_at"`
	Violations int    `json:"violations"`
	Reason     string `json:"reason"`
}

// AbuseGuard layers reconnection throttling, exponential backoff and
// temporary bans on top of the plain window limiters.
type AbuseGuard struct {
	store             KeyedStore
	connectionLimiter *WindowLimiter
	messageLimiter    *WindowLimiter

	reconnectWindow       time.Duration
	reconnectAttemptLimit int
	banThreshold          int
	baseBackoff           time.Duration
	maxBackoff            time.Duration
	baseBanDuration       time.Duration
	maxBanDuration        time.Duration
	messageSizeLimit      int

	// failClosed rejects when the shared store is unreachable.  Only the
	// development configuration runs with this disabled.
	failClosed bool

	now func() time.Time
}

func NewAbuseGuard(store KeyedStore, cfg *config.Config) *AbuseGuard {
	return &AbuseGuard{
		store:                 store,
		connectionLimiter:     NewWindowLimiter(store, connectionLimiterPrefix, cfg.ConnectionAttemptsPerMinute, time.Minute),
		messageLimiter:        NewWindowLimiter(store, messageLimiterPrefix, cfg.MessagesPerMinute, time.Minute),
		reconnectWindow:       cfg.ReconnectWindow,
		reconnectAttemptLimit: cfg.ReconnectAttemptLimit,
		banThreshold:          cfg.ViolationBanThreshold,
		baseBackoff:           cfg.BaseBackoff,
		maxBackoff:            cfg.MaxBackoff,
		baseBanDuration:       cfg.BaseBanDuration,
		maxBanDuration:        cfg.MaxBanDuration,
		messageSizeLimit:      cfg.MessageSizeAccountingLimit,
		failClosed:            !cfg.DevelopmentMode,
		now:                   time.Now,
	}
}

func historyKey(origin string, user domain.UserID) string {
	return "history:" + origin + "|" + user.String()
}

func originBanKey(origin string) string {
	return "ban:origin:" + origin
}

func userBanKey(user domain.UserID) string {
	return "ban:user:" + user.String()
}

// CheckConnectionAttempt applies the full abuse control chain to one
// connection attempt.  Ban checks run before any other rate logic.
func (ag *AbuseGuard) CheckConnectionAttempt(ctx context.Context, origin string, user domain.UserID) Verdict {

	if verdict, checked := ag.checkBans(ctx, origin, user); !checked || !verdict.Allowed {
		if !verdict.Allowed && verdict.Banned {
			metrics.bannedAttemptsCounter.Inc()
		}
		return verdict
	}

	history, err := ag.loadHistory(ctx, origin, user)
	if err != nil {
		return ag.storeFailureVerdict(err)
	}

	now := ag.now()

	if history.Violations > 0 && history.LastAttempt > 0 {
		backoff := time.Duration(history.BackoffSeconds) * time.Second
		sinceLast := now.Sub(time.Unix(history.LastAttempt, 0))
		if sinceLast < backoff {
			ag.recordAttempt(ctx, origin, user, history)
			metrics.throttledConnectionsCounter.Inc()
			return Verdict{
				Allowed:    false,
				Reason:     "reconnecting too quickly",
				RetryAfter: backoff - sinceLast,
			}
		}
	}

	ag.recordAttempt(ctx, origin, user, history)

	if retryAfter, throttled := ag.reconnectThrottle(history, now); throttled {
		metrics.throttledConnectionsCounter.Inc()
		return Verdict{
			Allowed:    false,
			Reason:     "too many connection attempts",
			RetryAfter: retryAfter,
		}
	}

	verdict, err := ag.connectionLimiter.Allow(ctx, origin)
	if err != nil {
		return ag.storeFailureVerdict(err)
	}

	if !verdict.Allowed {
		metrics.throttledConnectionsCounter.Inc()
		ag.RecordViolation(ctx, origin, user)
		return verdict
	}

	return allowed
}

// CheckMessage enforces the per connection message rate and the rate
// accounting payload size cap.  The transport level frame cap is enforced
// separately, before the payload ever reaches this code.
func (ag *AbuseGuard) CheckMessage(ctx context.Context, connectionID domain.ConnectionID, origin string, user domain.UserID, payloadSize int) Verdict {

	if payloadSize > ag.messageSizeLimit {
		metrics.oversizedMessagesCounter.Inc()
		ag.RecordViolation(ctx, origin, user)
		return Verdict{
			Allowed: false,
			Reason:  "message too large",
		}
	}

	verdict, err := ag.messageLimiter.Allow(ctx, connectionID.String())
	if err != nil {
		return ag.storeFailureVerdict(err)
	}

	if !verdict.Allowed {
		metrics.throttledMessagesCounter.Inc()
		ag.RecordViolation(ctx, origin, user)
	}

	return verdict
}

// RecordViolation bumps the violation counter for the (origin, user) pair,
// recomputes the backoff and issues bans once the threshold is reached.
func (ag *AbuseGuard) RecordViolation(ctx context.Context, origin string, user domain.UserID) {
	metrics.violationsCounter.Inc()

	history, err := ag.loadHistory(ctx, origin, user)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "origin": origin}).Error("Unable to load connection history")
		return
	}

	history.Violations++
	history.BackoffSeconds = int64(ag.backoffFor(history.Violations) / time.Second)

	if err := ag.saveHistory(ctx, origin, user, history); err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "origin": origin}).Error("Unable to save connection history")
	}

	if history.Violations >= ag.banThreshold {
		ag.issueBans(ctx, origin, user, history.Violations)
	}
}

// backoffFor computes min(base * 2^(violations-1), max).
func (ag *AbuseGuard) backoffFor(violations int) time.Duration {
	if violations < 1 {
		return 0
	}

	doublings := violations - 1
	if doublings > 30 {
		doublings = 30
	}

	backoff := ag.baseBackoff << uint(doublings)
	if backoff > ag.maxBackoff || backoff <= 0 {
		backoff = ag.maxBackoff
	}

	return backoff
}

// banDurationFor starts at the base duration and doubles for every extra
// banThreshold worth of violations beyond the threshold, capped at the max.
func (ag *AbuseGuard) banDurationFor(violations int) time.Duration {
	doublings := (violations - ag.banThreshold) / ag.banThreshold
	if doublings < 0 {
		doublings = 0
	}
	if doublings > 30 {
		doublings = 30
	}

	duration := ag.baseBanDuration << uint(doublings)
	if duration > ag.maxBanDuration || duration <= 0 {
		duration = ag.maxBanDuration
	}

	return duration
}

func (ag *AbuseGuard) issueBans(ctx context.Context, origin string, user domain.UserID, violations int) {
	duration := ag.banDurationFor(violations)

	ban := banRecord{
		ExpiresAt:  ag.now().Add(duration).Unix(),
		Violations: violations,
		Reason:     banReasonViolations,
	}

	banJson, err := json.Marshal(ban)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to marshal ban record")
		return
	}

	log := logger.Log.WithFields(logrus.Fields{
		"origin":     origin,
		"user_id":    user,
		"violations": violations,
		"duration":   duration})

	if err := ag.store.Set(ctx, originBanKey(origin), string(banJson), duration); err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("Unable to store origin ban")
	} else {
		metrics.bansIssuedCounter.With(prometheusScopeOrigin).Inc()
	}

	if user != "" {
		if err := ag.store.Set(ctx, userBanKey(user), string(banJson), duration); err != nil {
			log.WithFields(logrus.Fields{"error": err}).Error("Unable to store user ban")
		} else {
			metrics.bansIssuedCounter.With(prometheusScopeUser).Inc()
		}
	}

	log.Warn("Issued a temporary ban")
}

// CheckUserBan looks up an active user scoped ban.  Connection attempts are
// checked before authentication, when only the origin is known, so the
// authentication gate runs this once the user identity is established.
func (ag *AbuseGuard) CheckUserBan(ctx context.Context, user domain.UserID) Verdict {
	if user == "" {
		return allowed
	}

	verdict, active, err := ag.lookupBan(ctx, userBanKey(user))
	if err != nil {
		return ag.storeFailureVerdict(err)
	}

	if active {
		metrics.bannedAttemptsCounter.Inc()
		return verdict
	}

	return allowed
}

// checkBans returns (verdict, true) when the ban state could be read.  A
// store failure returns (failureVerdict, false).
func (ag *AbuseGuard) checkBans(ctx context.Context, origin string, user domain.UserID) (Verdict, bool) {
	keys := []string{originBanKey(origin)}
	if user != "" {
		keys = append(keys, userBanKey(user))
	}

	for _, key := range keys {
		verdict, active, err := ag.lookupBan(ctx, key)
		if err != nil {
			return ag.storeFailureVerdict(err), false
		}
		if active {
			return verdict, true
		}
	}

	return allowed, true
}

func (ag *AbuseGuard) lookupBan(ctx context.Context, key string) (Verdict, bool, error) {
	value, err := ag.store.Get(ctx, key)
	if err == ErrKeyNotFound {
		return allowed, false, nil
	}
	if err != nil {
		return allowed, false, err
	}

	var ban banRecord
	if err := json.Unmarshal([]byte(value), &ban); err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "key": key}).Error("Unable to unmarshal ban record")
		return allowed, false, nil
	}

	remaining := time.Unix(ban.ExpiresAt, 0).Sub(ag.now())
	if remaining <= 0 {
		return allowed, false, nil
	}

	return Verdict{
		Allowed:    false,
		Banned:     true,
		Reason:     ban.Reason,
		RetryAfter: remaining,
	}, true, nil
}

func (ag *AbuseGuard) reconnectThrottle(history *connectionHistory, now time.Time) (time.Duration, bool) {
	windowStart := now.Add(-ag.reconnectWindow).Unix()

	recent := make([]int64, 0, len(history.Attempts))
	for _, attempt := range history.Attempts {
		if attempt >= windowStart {
			recent = append(recent, attempt)
		}
	}

	if len(recent) < ag.reconnectAttemptLimit {
		return 0, false
	}

	oldest := recent[0]
	retryAfter := time.Unix(oldest, 0).Add(ag.reconnectWindow).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}

	return retryAfter, true
}

func (ag *AbuseGuard) loadHistory(ctx context.Context, origin string, user domain.UserID) (*connectionHistory, error) {
	value, err := ag.store.Get(ctx, historyKey(origin, user))
	if err == ErrKeyNotFound {
		return &connectionHistory{}, nil
	}
	if err != nil {
		return nil, err
	}

	var history connectionHistory
	if err := json.Unmarshal([]byte(value), &history); err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "origin": origin}).Error("Unable to unmarshal connection history, starting fresh")
		return &connectionHistory{}, nil
	}

	return &history, nil
}

func (ag *AbuseGuard) saveHistory(ctx context.Context, origin string, user domain.UserID, history *connectionHistory) error {
	historyJson, err := json.Marshal(history)
	if err != nil {
		return err
	}

	return ag.store.Set(ctx, historyKey(origin, user), string(historyJson), historyRetention)
}

// recordAttempt appends the attempt timestamp, prunes anything older than the
// retention window and persists the history.
func (ag *AbuseGuard) recordAttempt(ctx context.Context, origin string, user domain.UserID, history *connectionHistory) {
	now := ag.now()
	cutoff := now.Add(-historyRetention).Unix()

	pruned := make([]int64, 0, len(history.Attempts)+1)
	for _, attempt := range history.Attempts {
		if attempt >= cutoff {
			pruned = append(pruned, attempt)
		}
	}

	history.Attempts = append(pruned, now.Unix())
	history.LastAttempt = now.Unix()

	if err := ag.saveHistory(ctx, origin, user, history); err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "origin": origin}).Error("Unable to save connection history")
	}
}

func (ag *AbuseGuard) storeFailureVerdict(err error) Verdict {
	logger.Log.WithFields(logrus.Fields{"error": err}).Error("Rate limit store failure")

	if !ag.failClosed {
		return allowed
	}

	metrics.failClosedRejectionsCounter.Inc()
	return Verdict{
		Allowed:    false,
		Reason:     storeUnavailableReason,
		RetryAfter: 30 * time.Second,
	}
}
