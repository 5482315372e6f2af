package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

// statusBySentinel is checked in order; the first match wins.
var statusBySentinel = []struct {
	sentinel error
	status   int
	public   string
}{
	{apperrors.ErrValidation, http.StatusBadRequest, ""},
	{apperrors.ErrKeyMismatch, http.StatusUnprocessableEntity, ""},
	{apperrors.ErrNotFound, http.StatusNotFound, "resource not found"},
	{apperrors.ErrConflict, http.StatusConflict, ""},
	{apperrors.ErrQuotaExceeded, http.StatusTooManyRequests, ""},
	{apperrors.ErrUnavailable, http.StatusServiceUnavailable, "attendance service temporarily unavailable"},
}

// translateError turns a sentinel into a fiber error. Unknown errors pass
// through and end up as 500 in ErrorHandler.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range statusBySentinel {
		if !errors.Is(err, m.sentinel) {
			continue
		}
		message := m.public
		if message == "" {
			message = err.Error()
		}
		return fiber.NewError(m.status, message)
	}
	return err
}
