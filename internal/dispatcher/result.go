package dispatcher

import "time"

// Status is the terminal classification of a logical call.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusOffline      Status = "OFFLINE"
	StatusAborted      Status = "ABORTED"
	StatusTimeout      Status = "TIMEOUT"
	StatusThrottled    Status = "THROTTLED"
	StatusServerError  Status = "SERVER_ERROR"
	StatusClientError  Status = "CLIENT_ERROR"
	StatusNetworkError Status = "NETWORK_ERROR"
	StatusFailed       Status = "FAILED"
)

// Error codes that are not statuses in their own right.
const (
	CodeParseError = "PARSE_ERROR"
	CodeUnknown    = "UNKNOWN"
)

// ErrorInfo describes a failed call.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries bookkeeping about a logical call.
type Meta struct {
	RequestID    string `json:"requestId"`
	AttemptCount int    `json:"attemptCount"`
	WasRetried   bool   `json:"wasRetried"`
	DurationMs   int64  `json:"durationMs"`
	URL          string `json:"url"`
}

// Result is returned for every logical call, successful or not.
type Result struct {
	Succeeded  bool       `json:"succeeded"`
	Status     Status     `json:"status"`
	HTTPStatus *int       `json:"httpStatus,omitempty"`
	Payload    *Payload   `json:"payload,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	Meta       Meta       `json:"meta"`
}

// Retryable reports whether a caller-level retry (a new logical call) could
// plausibly succeed. Server refusals of the request itself are not retryable.
func (r *Result) Retryable() bool {
	switch r.Status {
	case StatusSuccess, StatusClientError:
		return false
	}
	return true
}

type resultBuilder struct {
	requestID string
	url       string
	start     time.Time
	attempts  int
	retried   bool
}

func (b *resultBuilder) meta() Meta {
	var duration int64
	if !b.start.IsZero() {
		duration = time.Since(b.start).Milliseconds()
	}
	if duration < 0 {
		duration = 0
	}
	return Meta{
		RequestID:    b.requestID,
		AttemptCount: b.attempts,
		WasRetried:   b.retried,
		DurationMs:   duration,
		URL:          b.url,
	}
}

func (b *resultBuilder) success(httpStatus int, payload *Payload) *Result {
	return &Result{
		Succeeded:  true,
		Status:     StatusSuccess,
		HTTPStatus: &httpStatus,
		Payload:    payload,
		Meta:       b.meta(),
	}
}

func (b *resultBuilder) failure(status Status, httpStatus *int, code, message string, payload *Payload) *Result {
	if code == "" {
		code = string(status)
	}
	return &Result{
		Status:     status,
		HTTPStatus: httpStatus,
		Payload:    payload,
		Error:      &ErrorInfo{Code: code, Message: message},
		Meta:       b.meta(),
	}
}
