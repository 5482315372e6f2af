package throttle

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/attendance-dispatch/internal/config"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter caps requests per device in a fixed window using Redis counters.
type Limiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
}

// NewLimiter constructs a limiter. A non-positive limit disables throttling.
func NewLimiter(client redis.Cmdable, cfg config.ThrottleConfig) *Limiter {
	l := &Limiter{client: client, limit: cfg.PerDeviceLimit, window: cfg.Window, prefix: cfg.KeyPrefix}
	if l.window <= 0 {
		l.window = time.Minute
	}
	if l.prefix == "" {
		l.prefix = "attendance:throttle"
	}
	return l
}

var windowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local current = redis.call('INCR', key)
if current == 1 then
  redis.call('PEXPIRE', key, window)
end
local ttl = redis.call('PTTL', key)
if ttl < 0 then
  redis.call('PEXPIRE', key, window)
  ttl = window
end
return {current, ttl}
`)

// Allow counts one request for deviceID.
func (l *Limiter) Allow(ctx context.Context, deviceID string) (Decision, error) {
	if l.limit <= 0 || deviceID == "" {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	vals, err := windowScript.Run(ctx, l.client, []string{l.key(deviceID)}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle allow: %w", err)
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("throttle allow: unexpected reply %v", vals)
	}
	return decide(vals[0], vals[1], l.limit), nil
}

func decide(count, ttlMs int64, limit int) Decision {
	if count <= int64(limit) {
		return Decision{Allowed: true, Remaining: limit - int(count)}
	}
	retry := time.Duration(ttlMs) * time.Millisecond
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
}

func (l *Limiter) key(deviceID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, deviceID)
}
