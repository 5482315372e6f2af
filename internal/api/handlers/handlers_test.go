package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/idempotency"
	"github.com/acme/attendance-dispatch/internal/service/throttle"
	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

type fakeIntake struct {
	mu    sync.Mutex
	calls int
	reply domain.Reply
	err   error
}

func (f *fakeIntake) Handle(_ context.Context, _ string, _ domain.Envelope) (domain.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

type memEntry struct {
	hash string
	done bool
	resp idempotency.Response
}

type memIdempotency struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{entries: make(map[string]*memEntry)}
}

func (m *memIdempotency) Begin(_ context.Context, scope, key, hash string) (idempotency.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[scope+":"+key]
	switch {
	case !ok:
		m.entries[scope+":"+key] = &memEntry{hash: hash}
		return idempotency.Decision{Outcome: idempotency.Acquired}, nil
	case e.hash != hash:
		return idempotency.Decision{Outcome: idempotency.Mismatch}, nil
	case !e.done:
		return idempotency.Decision{Outcome: idempotency.InProgress}, nil
	default:
		resp := e.resp
		return idempotency.Decision{Outcome: idempotency.Replay, Response: &resp}, nil
	}
}

func (m *memIdempotency) Complete(_ context.Context, scope, key, _ string, resp idempotency.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[scope+":"+key]
	e.done = true
	e.resp = resp
	return nil
}

func (m *memIdempotency) Abandon(_ context.Context, scope, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, scope+":"+key)
	return nil
}

type fakeThrottle struct {
	decision throttle.Decision
	err      error
}

func (f fakeThrottle) Allow(context.Context, string) (throttle.Decision, error) {
	return f.decision, f.err
}

type memLedger struct {
	mu       sync.Mutex
	receipts []domain.Receipt
}

func (m *memLedger) Append(_ context.Context, r domain.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, r)
	return nil
}

func (m *memLedger) all() []domain.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Receipt(nil), m.receipts...)
}

func newTestApp(h *HandlerSet) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: h.ErrorHandler, DisableStartupMessage: true})
	h.Register(app)
	return app
}

func submitRequest(t *testing.T, key string, body any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}
	return req
}

func submitEnvelope() domain.Envelope {
	return domain.Envelope{
		Type:   domain.RequestSubmit,
		Data:   json.RawMessage(`{"worker":"Budi"}`),
		Device: &domain.Device{ID: "dev-1", Name: "Andi"},
	}
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

func TestEnvelopeSuccess(t *testing.T) {
	intake := &fakeIntake{reply: domain.Reply{Confirm: true, Status: "OK", Msg: "Attendance recorded", Icon: "success"}}
	ledger := &memLedger{}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake, Ledger: ledger}))

	resp, err := app.Test(submitRequest(t, "", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var reply domain.Reply
	require.NoError(t, json.Unmarshal(readBody(t, resp), &reply))
	assert.True(t, reply.Confirm)
	assert.Equal(t, "Attendance recorded", reply.Msg)

	receipts := ledger.all()
	require.Len(t, receipts, 1)
	assert.Equal(t, "dev-1", receipts[0].DeviceID)
	assert.Equal(t, domain.RequestSubmit, receipts[0].Type)
	assert.Equal(t, http.StatusOK, receipts[0].StatusCode)
}

func TestEnvelopeRootRoute(t *testing.T) {
	intake := &fakeIntake{reply: domain.Reply{Confirm: true, Status: "OK"}}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake}))

	payload, err := json.Marshal(domain.Envelope{Type: domain.RequestRoster})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, intake.calls)
}

func TestEnvelopeRejectsMalformedBody(t *testing.T) {
	intake := &fakeIntake{}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance", bytes.NewReader([]byte("{not json")))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, intake.calls)
}

func TestEnvelopeRejectsUnknownType(t *testing.T) {
	intake := &fakeIntake{}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake}))

	resp, err := app.Test(submitRequest(t, "", map[string]any{"type": "dropTables"}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(readBody(t, resp)), "dropTables")
}

func TestEnvelopeReplaysCompletedKey(t *testing.T) {
	intake := &fakeIntake{reply: domain.Reply{Confirm: true, Status: "OK", Msg: "first"}}
	ledger := &memLedger{}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake, Idempotency: newMemIdempotency(), Ledger: ledger}))

	first, err := app.Test(submitRequest(t, "key-1", submitEnvelope()), -1)
	require.NoError(t, err)
	firstBody := readBody(t, first)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Empty(t, first.Header.Get(headerReplayed))

	intake.reply.Msg = "second"
	second, err := app.Test(submitRequest(t, "key-1", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get(headerReplayed))
	assert.JSONEq(t, string(firstBody), string(readBody(t, second)))

	assert.Equal(t, 1, intake.calls)
	receipts := ledger.all()
	require.Len(t, receipts, 2)
	assert.False(t, receipts[0].Replayed)
	assert.True(t, receipts[1].Replayed)
	assert.Equal(t, "key-1", receipts[1].IdempotencyKey)
}

func TestEnvelopeInProgressKeyIsTooEarly(t *testing.T) {
	store := newMemIdempotency()
	env := submitEnvelope()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = store.Begin(context.Background(), "dev-1", "key-2", idempotency.HashBody(body))
	require.NoError(t, err)

	intake := &fakeIntake{}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake, Idempotency: store}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance", bytes.NewReader(body))
	req.Header.Set(headerIdempotencyKey, "key-2")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooEarly, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Zero(t, intake.calls)
}

func TestEnvelopeKeyReusedWithDifferentBody(t *testing.T) {
	intake := &fakeIntake{reply: domain.Reply{Confirm: true, Status: "OK"}}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake, Idempotency: newMemIdempotency()}))

	resp, err := app.Test(submitRequest(t, "key-3", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	other := submitEnvelope()
	other.Data = json.RawMessage(`{"worker":"Citra"}`)
	resp, err = app.Test(submitRequest(t, "key-3", other), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, 1, intake.calls)
}

func TestEnvelopeServerErrorReleasesKey(t *testing.T) {
	intake := &fakeIntake{err: errors.New("database exploded")}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake, Idempotency: newMemIdempotency()}))

	resp, err := app.Test(submitRequest(t, "key-4", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(readBody(t, resp)), "exploded")

	intake.err = nil
	intake.reply = domain.Reply{Confirm: true, Status: "OK"}
	resp, err = app.Test(submitRequest(t, "key-4", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(headerReplayed))
	assert.Equal(t, 2, intake.calls)
}

func TestEnvelopeClientErrorIsStored(t *testing.T) {
	intake := &fakeIntake{err: apperrors.Wrap(apperrors.ErrValidation, "device is required")}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake, Idempotency: newMemIdempotency()}))

	resp, err := app.Test(submitRequest(t, "key-5", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(readBody(t, resp)), "device is required")

	resp, err = app.Test(submitRequest(t, "key-5", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(headerReplayed))
	assert.Equal(t, 1, intake.calls)
}

func TestEnvelopeThrottled(t *testing.T) {
	intake := &fakeIntake{}
	ledger := &memLedger{}
	app := newTestApp(NewHandlerSet(Deps{
		Intake:   intake,
		Throttle: fakeThrottle{decision: throttle.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}},
		Ledger:   ledger,
	}))

	resp, err := app.Test(submitRequest(t, "", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Zero(t, intake.calls)
	require.Len(t, ledger.all(), 1)
	assert.Equal(t, http.StatusTooManyRequests, ledger.all()[0].StatusCode)
}

func TestEnvelopeThrottleFailureAllows(t *testing.T) {
	intake := &fakeIntake{reply: domain.Reply{Confirm: true}}
	app := newTestApp(NewHandlerSet(Deps{Intake: intake, Throttle: fakeThrottle{err: errors.New("redis down")}}))

	resp, err := app.Test(submitRequest(t, "", submitEnvelope()), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, intake.calls)
}

func TestHealthz(t *testing.T) {
	h := NewHandlerSet(Deps{Health: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})
	app := newTestApp(h)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Errors["redis"])
	assert.NotContains(t, body.Errors, "postgres")
}

func TestTranslateError(t *testing.T) {
	cases := map[error]int{
		apperrors.ErrValidation:    http.StatusBadRequest,
		apperrors.ErrKeyMismatch:   http.StatusUnprocessableEntity,
		apperrors.ErrNotFound:      http.StatusNotFound,
		apperrors.ErrConflict:      http.StatusConflict,
		apperrors.ErrQuotaExceeded: http.StatusTooManyRequests,
		apperrors.ErrUnavailable:   http.StatusServiceUnavailable,
	}
	for in, code := range cases {
		var fe *fiber.Error
		require.ErrorAs(t, translateError(in), &fe)
		assert.Equal(t, code, fe.Code, in.Error())
	}
	assert.NoError(t, translateError(nil))
}

func TestTranslateErrorMessages(t *testing.T) {
	var fe *fiber.Error

	require.ErrorAs(t, translateError(apperrors.Wrap(apperrors.ErrValidation, "worker is required")), &fe)
	assert.Equal(t, http.StatusBadRequest, fe.Code)
	assert.Equal(t, "worker is required: validation error", fe.Message)

	require.ErrorAs(t, translateError(apperrors.Wrap(apperrors.ErrUnavailable, "redis: dial tcp 10.0.0.7:6379")), &fe)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Code)
	assert.NotContains(t, fe.Message, "10.0.0.7")

	plain := errors.New("boom")
	assert.Same(t, plain, translateError(plain))
}
