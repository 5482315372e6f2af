package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/idempotency"
	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxKeyLength         = 128
)

// envelope decodes an attendance envelope, applies throttling and
// idempotency, and answers with a Reply.
func (h *HandlerSet) envelope(ctx *fiber.Ctx) error {
	body := append([]byte(nil), ctx.Body()...)

	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if !env.Type.Valid() {
		return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("unknown request type %q", env.Type))
	}

	scope := env.DeviceID()
	if scope == "" {
		scope = ctx.IP()
	}
	key := strings.TrimSpace(ctx.Get(headerIdempotencyKey))
	if len(key) > maxKeyLength {
		return fiber.NewError(http.StatusBadRequest, "idempotency key too long")
	}

	if h.throttle != nil {
		decision, err := h.throttle.Allow(ctx.UserContext(), scope)
		if err != nil {
			h.logger.Warn("throttle unavailable, allowing request", zap.Error(err))
		} else if !decision.Allowed {
			ctx.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			h.record(ctx, key, env, http.StatusTooManyRequests, false)
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, slow down")
		}
	}

	if key == "" || h.idempotency == nil {
		status, payload, err := h.process(ctx, key, env)
		if err != nil {
			return err
		}
		h.record(ctx, key, env, status, false)
		return h.send(ctx, status, fiber.MIMEApplicationJSON, payload)
	}

	hash := idempotency.HashBody(body)
	decision, err := h.idempotency.Begin(ctx.UserContext(), scope, key, hash)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}

	switch decision.Outcome {
	case idempotency.Replay:
		resp := decision.Response
		if resp == nil {
			return fmt.Errorf("idempotency: replay without stored response for key %s", key)
		}
		ctx.Set(headerReplayed, "true")
		h.record(ctx, key, env, resp.StatusCode, true)
		return h.send(ctx, resp.StatusCode, resp.ContentType, resp.Body)
	case idempotency.InProgress:
		ctx.Set(fiber.HeaderRetryAfter, "1")
		h.record(ctx, key, env, http.StatusTooEarly, false)
		return fiber.NewError(http.StatusTooEarly, "a request with this idempotency key is still being processed")
	case idempotency.Mismatch:
		h.record(ctx, key, env, http.StatusUnprocessableEntity, false)
		return translateError(apperrors.ErrKeyMismatch)
	}

	status, payload, err := h.process(ctx, key, env)
	if err != nil {
		if aerr := h.idempotency.Abandon(ctx.UserContext(), scope, key, hash); aerr != nil {
			h.logger.Warn("release idempotency key failed", zap.String("idempotency_key", key), zap.Error(aerr))
		}
		return err
	}

	stored := idempotency.Response{StatusCode: status, ContentType: fiber.MIMEApplicationJSON, Body: payload}
	if err := h.idempotency.Complete(ctx.UserContext(), scope, key, hash, stored); err != nil {
		h.logger.Warn("store idempotent response failed", zap.String("idempotency_key", key), zap.Error(err))
	}
	h.record(ctx, key, env, status, false)
	return h.send(ctx, status, fiber.MIMEApplicationJSON, payload)
}

// process runs the envelope and renders the outcome. Client errors are
// rendered here so they can be stored and replayed; server errors are returned
// for the error handler and never stored.
func (h *HandlerSet) process(ctx *fiber.Ctx, key string, env domain.Envelope) (int, []byte, error) {
	reply, err := h.intake.Handle(ctx.UserContext(), key, env)
	if err != nil {
		translated := translateError(err)
		var fe *fiber.Error
		if errors.As(translated, &fe) && fe.Code < http.StatusInternalServerError {
			payload, merr := json.Marshal(fiber.Map{"error": fe.Message})
			if merr != nil {
				return 0, nil, merr
			}
			return fe.Code, payload, nil
		}
		return 0, nil, translated
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		return 0, nil, fmt.Errorf("encode reply: %w", err)
	}
	return http.StatusOK, payload, nil
}

func (h *HandlerSet) send(ctx *fiber.Ctx, status int, contentType string, payload []byte) error {
	if contentType == "" {
		contentType = fiber.MIMEApplicationJSON
	}
	ctx.Set(fiber.HeaderContentType, contentType)
	return ctx.Status(status).Send(payload)
}

func (h *HandlerSet) record(ctx *fiber.Ctx, key string, env domain.Envelope, status int, replayed bool) {
	if h.ledger == nil {
		return
	}
	receipt := domain.Receipt{
		IdempotencyKey: key,
		DeviceID:       env.DeviceID(),
		Type:           env.Type,
		StatusCode:     status,
		Replayed:       replayed,
		ReceivedAt:     h.now().UTC(),
	}
	if err := h.ledger.Append(ctx.UserContext(), receipt); err != nil {
		h.logger.Warn("append receipt failed", zap.String("idempotency_key", key), zap.Error(err))
	}
}
