package dispatcher

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// errAttemptTimeout is the cancellation cause set by the per-attempt timer. It
// separates a timed-out attempt from a caller who cancelled the whole call.
var errAttemptTimeout = errors.New("dispatcher: attempt timed out")

// retryableStatus reports whether an HTTP failure may succeed on a later attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code <= 599
}

// statusFromHTTP classifies a non-retried HTTP failure by status family.
func statusFromHTTP(code int) Status {
	switch {
	case code == http.StatusTooManyRequests:
		return StatusThrottled
	case code == http.StatusRequestTimeout:
		return StatusTimeout
	case code >= 500:
		return StatusServerError
	case code >= 400:
		return StatusClientError
	default:
		return StatusFailed
	}
}

// classifyFault maps a transport error (no HTTP response) to a status.
// Caller cancellation wins over the attempt timer; anything else is blamed on
// connectivity when the probe says we are offline.
func classifyFault(callCtx context.Context, timedOut bool, err error, online func() bool) Status {
	if callCtx.Err() != nil {
		return StatusAborted
	}
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	if errors.Is(err, context.Canceled) {
		return StatusAborted
	}
	if online != nil && !online() {
		return StatusOffline
	}
	return StatusNetworkError
}

func faultMessage(status Status, err error) string {
	switch status {
	case StatusTimeout:
		return "Request timed out. Check your connection."
	case StatusOffline:
		return "Device is offline. Check your connection."
	case StatusNetworkError:
		return "Network error. Check your connection."
	case StatusAborted:
		return "Request cancelled."
	}
	if err != nil {
		return err.Error()
	}
	return "A network error occurred."
}
