// Package idempotency remembers Idempotency-Key values in Redis so a retried
// submission is answered with the original response instead of running twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/attendance-dispatch/internal/config"
)

// Outcome is what Begin decided for a key.
type Outcome string

const (
	// Acquired means the caller owns the key and must Complete or Abandon it.
	Acquired Outcome = "acquired"
	// Replay means a completed response is stored for the key.
	Replay Outcome = "replay"
	// InProgress means another request with the key is still running.
	InProgress Outcome = "in_progress"
	// Mismatch means the key was used with a different body.
	Mismatch Outcome = "mismatch"
)

const (
	stateInProgress = "in_progress"
	stateDone       = "done"
)

// Response is a stored reply.
type Response struct {
	StatusCode  int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Decision is the result of Begin.
type Decision struct {
	Outcome  Outcome
	Response *Response
}

type record struct {
	State     string    `json:"state"`
	Hash      string    `json:"hash"`
	Response  *Response `json:"response,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

var beginScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
  return current
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return false
`)

var abandonScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  return 0
end
local ok, rec = pcall(cjson.decode, current)
if ok and rec.state == 'in_progress' and rec.hash == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Store is the Redis-backed idempotency store.
type Store struct {
	client      redis.Cmdable
	prefix      string
	lockTTL     time.Duration
	responseTTL time.Duration
}

// NewStore constructs a store.
func NewStore(client redis.Cmdable, cfg config.IdempotencyConfig) *Store {
	s := &Store{client: client, prefix: cfg.KeyPrefix, lockTTL: cfg.LockTTL, responseTTL: cfg.ResponseTTL}
	if s.prefix == "" {
		s.prefix = "attendance:idem"
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 2 * time.Minute
	}
	if s.responseTTL <= 0 {
		s.responseTTL = 24 * time.Hour
	}
	return s
}

// HashBody fingerprints a request body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin claims key for a request whose body hashes to hash, or reports why it
// cannot.
func (s *Store) Begin(ctx context.Context, scope, key, hash string) (Decision, error) {
	lock, err := json.Marshal(record{State: stateInProgress, Hash: hash, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: encode lock: %w", err)
	}

	current, err := beginScript.Run(ctx, s.client, []string{s.key(scope, key)}, lock, s.lockTTL.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return Decision{Outcome: Acquired}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: begin: %w", err)
	}
	return decide([]byte(current), hash)
}

// Complete stores resp as the answer for key.
func (s *Store) Complete(ctx context.Context, scope, key, hash string, resp Response) error {
	value, err := json.Marshal(record{State: stateDone, Hash: hash, Response: &resp, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}
	if err := s.client.Set(ctx, s.key(scope, key), value, s.responseTTL).Err(); err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}

// Abandon releases an in-progress claim so the client's next attempt can run.
func (s *Store) Abandon(ctx context.Context, scope, key, hash string) error {
	if err := abandonScript.Run(ctx, s.client, []string{s.key(scope, key)}, hash).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: abandon: %w", err)
	}
	return nil
}

func (s *Store) key(scope, key string) string {
	if scope == "" {
		scope = "anonymous"
	}
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, key)
}

func decide(stored []byte, hash string) (Decision, error) {
	var rec record
	if err := json.Unmarshal(stored, &rec); err != nil {
		return Decision{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	if rec.Hash != hash {
		return Decision{Outcome: Mismatch}, nil
	}
	if rec.State == stateDone && rec.Response != nil {
		return Decision{Outcome: Replay, Response: rec.Response}, nil
	}
	return Decision{Outcome: InProgress}, nil
}
