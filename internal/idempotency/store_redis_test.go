package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/attendance-dispatch/internal/config"
)

func newRedisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, config.IdempotencyConfig{
		KeyPrefix:   "test:idem",
		LockTTL:     30 * time.Second,
		ResponseTTL: time.Hour,
	}), mr
}

func TestStoreBeginClaimsKeyOnce(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	hash := HashBody([]byte(`{"type":"addTRX","data":{"worker":"Budi"}}`))

	d, err := s.Begin(ctx, "dev-1", "key-1", hash)
	require.NoError(t, err)
	assert.Equal(t, Acquired, d.Outcome)
	assert.Equal(t, 30*time.Second, mr.TTL("test:idem:dev-1:key-1"))

	d, err = s.Begin(ctx, "dev-1", "key-1", hash)
	require.NoError(t, err)
	assert.Equal(t, InProgress, d.Outcome)

	d, err = s.Begin(ctx, "dev-1", "key-1", HashBody([]byte(`{"type":"addTRX"}`)))
	require.NoError(t, err)
	assert.Equal(t, Mismatch, d.Outcome)
}

func TestStoreCompleteThenReplay(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	resp := Response{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"confirm":true,"status":"OK"}`)}

	_, err := s.Begin(ctx, "dev-1", "key-2", "h")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "dev-1", "key-2", "h", resp))
	assert.Equal(t, time.Hour, mr.TTL("test:idem:dev-1:key-2"))

	d, err := s.Begin(ctx, "dev-1", "key-2", "h")
	require.NoError(t, err)
	assert.Equal(t, Replay, d.Outcome)
	require.NotNil(t, d.Response)
	assert.Equal(t, resp, *d.Response)
}

func TestStoreAbandonReleasesOnlyOwnClaim(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, "dev-1", "key-3", "mine")
	require.NoError(t, err)

	require.NoError(t, s.Abandon(ctx, "dev-1", "key-3", "theirs"))
	d, err := s.Begin(ctx, "dev-1", "key-3", "mine")
	require.NoError(t, err)
	assert.Equal(t, InProgress, d.Outcome)

	require.NoError(t, s.Abandon(ctx, "dev-1", "key-3", "mine"))
	d, err = s.Begin(ctx, "dev-1", "key-3", "mine")
	require.NoError(t, err)
	assert.Equal(t, Acquired, d.Outcome)
}

func TestStoreAbandonKeepsCompletedResponse(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, "dev-1", "key-4", "h")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "dev-1", "key-4", "h", Response{StatusCode: 200}))
	require.NoError(t, s.Abandon(ctx, "dev-1", "key-4", "h"))

	d, err := s.Begin(ctx, "dev-1", "key-4", "h")
	require.NoError(t, err)
	assert.Equal(t, Replay, d.Outcome)
}

func TestStoreAbandonUnknownKey(t *testing.T) {
	s, _ := newRedisStore(t)
	assert.NoError(t, s.Abandon(context.Background(), "dev-1", "never-seen", "h"))
}

func TestStoreLockExpires(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, "dev-1", "key-5", "h")
	require.NoError(t, err)
	mr.FastForward(31 * time.Second)

	d, err := s.Begin(ctx, "dev-1", "key-5", "h")
	require.NoError(t, err)
	assert.Equal(t, Acquired, d.Outcome)
}

func TestStoreKeysAreScopedByDevice(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, "dev-1", "shared", "h")
	require.NoError(t, err)
	d, err := s.Begin(ctx, "dev-2", "shared", "h")
	require.NoError(t, err)
	assert.Equal(t, Acquired, d.Outcome)
}

func TestStoreBeginReportsRedisFailure(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Begin(context.Background(), "dev-1", "key-6", "h")
	assert.ErrorContains(t, err, "idempotency: begin")
}
