// Package ratelimit implements Airtable rate limit tracking and request gating.
// Airtable allows 5 requests per second per base and answers 429 when the
// limit is exceeded; the client must then pause for 30 seconds before the
// next request succeeds. The tracker records that cooldown so every client
// sharing a base backs off together.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Redis key templates for rate limit state storage. The %s is the scope
// (usually the base/app ID).
const (
	RedisKeyCooldownUntil = "airtable:rate_limit:%s:cooldown_until"
	RedisKeyLastUpdate    = "airtable:rate_limit:%s:last_update"
)

// DefaultCooldown is how long Airtable blocks a client after a 429.
const DefaultCooldown = 30 * time.Second

// Limiter gates outgoing requests on the shared rate limit state.
type Limiter interface {
	// Wait blocks until requests are allowed again or ctx is done.
	Wait(ctx context.Context) error

	// ReportThrottle records a 429 with the server-advised pause
	// (0 selects DefaultCooldown).
	ReportThrottle(ctx context.Context, retryAfter time.Duration) error
}

// State represents the current rate limit state of one scope.
type State struct {
	// CooldownUntil is when requests may resume. Zero when not throttled.
	CooldownUntil time.Time `json:"cooldown_until"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsThrottled returns true while the cooldown is in effect.
func (s *State) IsThrottled() bool {
	return time.Now().Before(s.CooldownUntil)
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the remaining cooldown.
// Returns 0 if the cooldown has already passed.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.CooldownUntil)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads the Retry-After header as delay-seconds or an
// HTTP date. Returns 0 when absent or unparsable.
func ParseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func cooldownFor(retryAfter time.Duration) time.Duration {
	if retryAfter <= 0 {
		return DefaultCooldown
	}
	return retryAfter
}

func redisKey(template, scope string) string {
	return fmt.Sprintf(template, scope)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
