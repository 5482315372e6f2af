package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/attendance-dispatch/internal/config"
)

func TestDecide(t *testing.T) {
	assert.Equal(t, Decision{Allowed: true, Remaining: 2}, decide(1, 60000, 3))
	assert.Equal(t, Decision{Allowed: true, Remaining: 0}, decide(3, 100, 3))
	assert.Equal(t, Decision{Allowed: false, RetryAfter: 42 * time.Second}, decide(4, 42000, 3))
	// Sub-second remainders round up so Retry-After is never zero.
	assert.Equal(t, Decision{Allowed: false, RetryAfter: time.Second}, decide(9, 120, 3))
}

func TestDisabledLimiterAllowsWithoutRedis(t *testing.T) {
	l := NewLimiter(nil, config.ThrottleConfig{})
	d, err := l.Allow(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	l = NewLimiter(nil, config.ThrottleConfig{PerDeviceLimit: 5})
	d, err = l.Allow(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "attendance:throttle:dev-9", l.key("dev-9"))
}
