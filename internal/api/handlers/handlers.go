package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/idempotency"
	"github.com/acme/attendance-dispatch/internal/service/throttle"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

// Intake answers attendance envelopes.
type Intake interface {
	Handle(ctx context.Context, idempotencyKey string, env domain.Envelope) (domain.Reply, error)
}

// IdempotencyStore remembers responses per Idempotency-Key.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, hash string) (idempotency.Decision, error)
	Complete(ctx context.Context, scope, key, hash string, resp idempotency.Response) error
	Abandon(ctx context.Context, scope, key, hash string) error
}

// Throttler limits requests per device.
type Throttler interface {
	Allow(ctx context.Context, deviceID string) (throttle.Decision, error)
}

// Ledger records every intake attempt.
type Ledger interface {
	Append(ctx context.Context, receipt domain.Receipt) error
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of the handler set.
type Deps struct {
	Intake      Intake
	Idempotency IdempotencyStore
	Throttle    Throttler
	Ledger      Ledger
	Health      map[string]HealthCheck
	Logger      *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	intake      Intake
	idempotency IdempotencyStore
	throttle    Throttler
	ledger      Ledger
	health      map[string]HealthCheck
	logger      *logger.Logger
	now         func() time.Time
}

// NewHandlerSet creates a new handler bundle. Idempotency, Throttle and Ledger
// are optional.
func NewHandlerSet(deps Deps) *HandlerSet {
	lg := deps.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	return &HandlerSet{
		intake:      deps.Intake,
		idempotency: deps.Idempotency,
		throttle:    deps.Throttle,
		ledger:      deps.Ledger,
		health:      deps.Health,
		logger:      lg.Component("api"),
		now:         time.Now,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.healthz)
	app.Post("/", h.envelope)

	v1 := app.Group("/api").Group("/v1")
	v1.Post("/attendance", h.envelope)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		message = "internal server error"
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) healthz(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.health {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}
