package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airtable_rate_limit_throttles_total",
		Help: "Total number of 429 responses recorded",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airtable_rate_limit_waits_total",
		Help: "Total number of requests delayed by an active cooldown",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "airtable_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a cooldown to pass",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60},
	})
)

// Tracker keeps rate limit state in Redis so that several processes using
// the same base share one cooldown.
type Tracker struct {
	redis  *redis.Client
	scope  string
	logger zerolog.Logger
}

// NewTracker creates a new Redis-backed tracker for scope.
func NewTracker(redisClient *redis.Client, scope string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		scope:  scope,
		logger: logger,
	}
}

// GetState retrieves the current rate limit state from Redis.
// Returns an unthrottled state if no data exists.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	cooldownMs, err := t.redis.Get(ctx, redisKey(RedisKeyCooldownUntil, t.scope)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	if err == redis.Nil {
		t.logger.Debug().Str("scope", t.scope).Msg("No rate limit state in Redis")
		return &State{LastUpdate: time.Now()}, nil
	}

	lastUpdateMs, err := t.redis.Get(ctx, redisKey(RedisKeyLastUpdate, t.scope)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	return &State{
		CooldownUntil: time.UnixMilli(cooldownMs),
		LastUpdate:    time.UnixMilli(lastUpdateMs),
	}, nil
}

// extendCooldownScript stores a cooldown only if it ends later than the one
// already in Redis, so a short Retry-After from one process never cuts short
// a longer pause reported by another.
//
// KEYS[1] cooldown_until, KEYS[2] last_update
// ARGV[1] until (unix ms), ARGV[2] now (unix ms), ARGV[3] ttl (ms)
var extendCooldownScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if tonumber(ARGV[1]) <= current then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// ReportThrottle stores a cooldown unless a longer one is already active.
// Keys expire with the cooldown so a stale entry never blocks requests.
func (t *Tracker) ReportThrottle(ctx context.Context, retryAfter time.Duration) error {
	cooldown := cooldownFor(retryAfter)
	now := time.Now()
	until := now.Add(cooldown)

	keys := []string{
		redisKey(RedisKeyCooldownUntil, t.scope),
		redisKey(RedisKeyLastUpdate, t.scope),
	}
	stored, err := extendCooldownScript.Run(ctx, t.redis, keys,
		until.UnixMilli(), now.UnixMilli(), cooldown.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitThrottlesTotal.Inc()
	if stored == 0 {
		t.logger.Debug().
			Str("scope", t.scope).
			Dur("cooldown", cooldown).
			Msg("Longer cooldown already active")
		return nil
	}

	t.logger.Warn().
		Str("scope", t.scope).
		Dur("cooldown", cooldown).
		Time("cooldown_until", until).
		Msg("Airtable rate limit hit - pausing requests")

	return nil
}

// Wait blocks while a cooldown is active.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}
	return waitFor(ctx, state, t.logger)
}

// MemoryTracker is a process-local Limiter.
type MemoryTracker struct {
	mu     sync.Mutex
	state  State
	logger zerolog.Logger
}

// NewMemoryTracker creates an in-memory tracker.
func NewMemoryTracker(logger zerolog.Logger) *MemoryTracker {
	return &MemoryTracker{logger: logger}
}

// GetState returns a copy of the current state.
func (m *MemoryTracker) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReportThrottle records a cooldown.
func (m *MemoryTracker) ReportThrottle(_ context.Context, retryAfter time.Duration) error {
	now := time.Now()
	until := now.Add(cooldownFor(retryAfter))

	m.mu.Lock()
	if until.After(m.state.CooldownUntil) {
		m.state.CooldownUntil = until
	}
	m.state.LastUpdate = now
	m.mu.Unlock()

	rateLimitThrottlesTotal.Inc()
	m.logger.Warn().Time("cooldown_until", until).Msg("Airtable rate limit hit - pausing requests")
	return nil
}

// Wait blocks while a cooldown is active.
func (m *MemoryTracker) Wait(ctx context.Context) error {
	state := m.GetState()
	return waitFor(ctx, &state, m.logger)
}

func waitFor(ctx context.Context, state *State, logger zerolog.Logger) error {
	if !state.IsThrottled() {
		return nil
	}

	d := state.TimeUntilReset()
	logger.Info().Dur("wait", d).Msg("Waiting for rate limit cooldown")
	rateLimitWaitsTotal.Inc()

	start := time.Now()
	err := sleep(ctx, d)
	rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	return err
}
