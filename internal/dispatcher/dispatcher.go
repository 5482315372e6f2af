// Package dispatcher delivers POST requests with bounded retries, exponential
// backoff, per-attempt timeouts and an idempotency token, and reports every
// outcome as a Result instead of an error.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = time.Second
	DefaultTimeout        = 60 * time.Second
	DefaultMaxHiddenDefer = 4 * time.Second

	// maxResponseBytes bounds how much of a response body is buffered.
	maxResponseBytes = 16 << 20
)

// ErrNoBaseURL is returned by Send when no base URL is configured.
var ErrNoBaseURL = fmt.Errorf("%w: dispatcher: base url is not set", apperrors.ErrConfiguration)

// Config is the static, process-wide dispatcher configuration.
type Config struct {
	BaseURL         string
	MaxRetries      int
	RetryDelay      time.Duration
	Timeout         time.Duration
	DeferWhenHidden bool
	MaxHiddenDefer  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 1 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxHiddenDefer <= 0 {
		c.MaxHiddenDefer = DefaultMaxHiddenDefer
	}
	return c
}

// Deps are the collaborators a Dispatcher talks to. Only Transport is required.
type Deps struct {
	Transport    Transport
	Connectivity ConnectivityProbe
	Visibility   VisibilityProbe
	Notifier     Notifier
	Logger       *logger.Logger
}

// Dispatcher is safe for concurrent use; calls share only the static config.
type Dispatcher struct {
	cfg     Config
	baseURL string

	transport    Transport
	connectivity ConnectivityProbe
	visibility   VisibilityProbe
	notifier     Notifier
	logger       *logger.Logger
	tracer       trace.Tracer
	jitter       jitterFunc
}

// New builds a Dispatcher. A missing base URL is not an error here; it is
// reported by Send before any network activity.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("%w: dispatcher: transport is required", apperrors.ErrConfiguration)
	}
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		cfg:          cfg,
		baseURL:      normalizeBaseURL(cfg.BaseURL),
		transport:    deps.Transport,
		connectivity: deps.Connectivity,
		visibility:   deps.Visibility,
		notifier:     deps.Notifier,
		logger:       deps.Logger,
		tracer:       otel.Tracer("attendance.dispatcher"),
		jitter:       randomJitter,
	}
	if d.connectivity == nil {
		d.connectivity = alwaysOnline{}
	}
	if d.visibility == nil {
		d.visibility = alwaysForeground{}
	}
	if d.notifier == nil {
		d.notifier = discardNotifier{}
	}
	if d.logger == nil {
		d.logger = logger.Nop()
	}
	d.logger = d.logger.Component("dispatcher")
	return d, nil
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// BaseURL returns the normalized base URL, or "" if none is configured.
func (d *Dispatcher) BaseURL() string { return d.baseURL }

// Post sends payload to path (relative to the base URL, or absolute).
func (d *Dispatcher) Post(ctx context.Context, path string, payload any, opts ...Option) (*Result, error) {
	return d.Send(ctx, newRequest(path, payload, opts))
}

// PostPayload sends payload to the base URL itself.
func (d *Dispatcher) PostPayload(ctx context.Context, payload any, opts ...Option) (*Result, error) {
	return d.Send(ctx, newRequest("", payload, opts))
}

// Send runs one logical call. The error is non-nil only for configuration or
// caller defects detected before any network attempt; every network, timeout
// and HTTP failure is reported through the Result.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Result, error) {
	if d.baseURL == "" {
		return nil, ErrNoBaseURL
	}

	b := &resultBuilder{
		requestID: uuid.NewString(),
		url:       resolveURL(d.baseURL, req.Path),
	}
	lg := d.logger.WithRequest(b.requestID)

	ctx, span := d.tracer.Start(ctx, "dispatcher.send", trace.WithAttributes(
		attribute.String("request.id", b.requestID),
		attribute.String("http.url", b.url),
		attribute.Int("retry.max", d.cfg.MaxRetries),
	))
	defer span.End()

	if !d.connectivity.IsOnline(ctx) {
		res := b.failure(StatusOffline, nil, string(StatusOffline), "No internet connection.", nil)
		lg.Warn("dispatch skipped: offline", zap.String("url", b.url))
		d.notify(ctx, SeverityError, "Device is offline!")
		return d.finish(span, lg, res), nil
	}

	if d.cfg.DeferWhenHidden && !d.visibility.IsForegrounded() {
		lg.Info("deferring dispatch while backgrounded", zap.Duration("max_wait", d.cfg.MaxHiddenDefer))
		d.waitForeground(ctx)
	}

	out, err := buildOutbound(b.url, b.requestID, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	b.start = time.Now()
	for b.attempts < d.cfg.MaxRetries {
		b.attempts++
		lg.Debug("dispatch attempt", zap.Int("attempt", b.attempts), zap.Int("max", d.cfg.MaxRetries), zap.String("url", b.url))

		o := d.runAttempt(ctx, out)
		last := b.attempts >= d.cfg.MaxRetries

		if o.err == nil {
			code := o.statusCode
			span.AddEvent("attempt", trace.WithAttributes(
				attribute.Int("attempt", b.attempts),
				attribute.Int("http.status_code", code),
			))

			if code >= 200 && code <= 299 {
				if o.decoded.errorCode == CodeParseError {
					lg.Warn("response body could not be decoded", zap.Int("status", code))
				}
				return d.finish(span, lg, b.success(code, o.decoded.payload)), nil
			}

			if !retryableStatus(code) || last {
				message := o.decoded.errorMessage
				if message == "" {
					message = fmt.Sprintf("Request failed (status %d).", code)
				}
				res := b.failure(statusFromHTTP(code), &code, o.decoded.errorCode, message, o.decoded.payload)
				d.notify(ctx, SeverityError, res.Error.Message)
				return d.finish(span, lg, res), nil
			}

			b.retried = true
			delay := computeBackoff(b.attempts, d.cfg.RetryDelay, parseRetryAfter(o.header), d.jitter)
			lg.Info("retrying after http failure", zap.Int("attempt", b.attempts), zap.Int("status", code), zap.Duration("backoff", delay))
			if !sleep(ctx, delay) {
				return d.finish(span, lg, b.failure(StatusAborted, nil, "", faultMessage(StatusAborted, nil), nil)), nil
			}
			continue
		}

		status := classifyFault(ctx, o.timedOut, o.err, func() bool { return d.connectivity.IsOnline(ctx) })
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", b.attempts),
			attribute.String("fault", string(status)),
		))

		if status == StatusAborted {
			return d.finish(span, lg, b.failure(StatusAborted, o.httpStatus(), "", faultMessage(status, o.err), nil)), nil
		}

		if last {
			res := b.failure(status, o.httpStatus(), "", faultMessage(status, o.err), nil)
			d.notify(ctx, SeverityError, res.Error.Message)
			return d.finish(span, lg, res), nil
		}

		b.retried = true
		delay := computeBackoff(b.attempts, d.cfg.RetryDelay, 0, d.jitter)
		lg.Info("retrying after transport fault", zap.Int("attempt", b.attempts), zap.String("fault", string(status)), zap.Error(o.err), zap.Duration("backoff", delay))
		if !sleep(ctx, delay) {
			return d.finish(span, lg, b.failure(StatusAborted, nil, "", faultMessage(StatusAborted, nil), nil)), nil
		}
	}

	// Unreachable while MaxRetries >= 1.
	res := b.failure(StatusFailed, nil, CodeUnknown, "Failed for an unknown reason.", nil)
	return d.finish(span, lg, res), nil
}

type attemptOutcome struct {
	statusCode int
	header     http.Header
	decoded    decoded
	err        error
	timedOut   bool
}

// runAttempt performs one transport call bounded by the per-attempt timer and
// reads the body before the timer is released.
func (d *Dispatcher) runAttempt(ctx context.Context, out *Outbound) attemptOutcome {
	if err := ctx.Err(); err != nil {
		return attemptOutcome{err: err}
	}

	actx, cancel := context.WithTimeoutCause(ctx, d.cfg.Timeout, errAttemptTimeout)
	defer cancel()

	o := attemptOutcome{}
	resp, err := d.transport.Do(actx, out)
	switch {
	case err != nil:
		o.err = err
	case resp == nil:
		o.err = errors.New("dispatcher: transport returned no response")
	default:
		o.statusCode = resp.StatusCode
		o.header = resp.Header
		body, rerr := readBody(resp)
		if rerr != nil {
			o.err = fmt.Errorf("dispatcher: read response: %w", rerr)
			break
		}
		failed := resp.StatusCode < 200 || resp.StatusCode > 299
		o.decoded = decodeBody(resp.Header.Get(headerContentType), body, failed)
	}

	o.timedOut = errors.Is(context.Cause(actx), errAttemptTimeout)
	return o
}

// httpStatus is set when a response arrived, even if its body was lost.
func (o attemptOutcome) httpStatus() *int {
	if o.statusCode == 0 {
		return nil
	}
	code := o.statusCode
	return &code
}

func readBody(resp *Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// waitForeground blocks until the UI is foregrounded, the defer budget runs
// out, or ctx is done. It never consumes an attempt.
func (d *Dispatcher) waitForeground(ctx context.Context) {
	timer := time.NewTimer(d.cfg.MaxHiddenDefer)
	defer timer.Stop()
	select {
	case <-d.visibility.WaitForeground():
	case <-timer.C:
	case <-ctx.Done():
	}
}

// notify isolates the dispatcher from misbehaving sinks.
func (d *Dispatcher) notify(ctx context.Context, severity Severity, message string) {
	if message == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("notifier panicked", zap.Any("panic", r))
		}
	}()
	d.notifier.Notify(ctx, severity, message)
}

func (d *Dispatcher) finish(span trace.Span, lg *logger.Logger, res *Result) *Result {
	span.SetAttributes(
		attribute.String("dispatch.status", string(res.Status)),
		attribute.Int("dispatch.attempts", res.Meta.AttemptCount),
		attribute.Bool("dispatch.retried", res.Meta.WasRetried),
	)
	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int("attempts", res.Meta.AttemptCount),
		zap.Bool("retried", res.Meta.WasRetried),
		zap.Int64("duration_ms", res.Meta.DurationMs),
		zap.String("url", res.Meta.URL),
	}
	if res.HTTPStatus != nil {
		fields = append(fields, zap.Int("http_status", *res.HTTPStatus))
	}
	if res.Succeeded {
		lg.Info("dispatch succeeded", fields...)
		return res
	}
	span.SetStatus(codes.Error, res.Error.Message)
	fields = append(fields, zap.String("error_code", res.Error.Code), zap.String("error", res.Error.Message))
	lg.Warn("dispatch failed", fields...)
	return res
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
