package dispatcher

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	maxBackoff = 30 * time.Second
	maxJitter  = time.Second
)

// jitterFunc returns a uniform value in [0, n). n is always positive.
type jitterFunc func(n time.Duration) time.Duration

func randomJitter(n time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(n)))
}

// exponentialDelay is base*2^(attempt-1), capped at maxBackoff.
func exponentialDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// computeBackoff never waits less than the server asked for.
func computeBackoff(attempt int, base, retryAfter time.Duration, jitter jitterFunc) time.Duration {
	delay := exponentialDelay(attempt, base)
	if span := min(maxJitter, base); span > 0 && jitter != nil {
		delay += jitter(span)
	}
	return max(retryAfter, delay)
}

// parseRetryAfter reads Retry-After as delta-seconds, falling back to an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
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
