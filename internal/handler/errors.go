package handler

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"coupon-book-service/internal/service"
)

// respondServiceError maps service-layer errors onto HTTP responses.
// Rejected transitions carry the coupon's actual state in the body so
// the caller can react without guessing.
func respondServiceError(c *fiber.Ctx, err error) error {
	body := fiber.Map{"error": userMessage(err)}
	if state, ok := service.CurrentState(err); ok {
		body["current_state"] = state
	}

	switch {
	case errors.Is(err, service.ErrBookNotFound),
		errors.Is(err, service.ErrCouponNotFound),
		errors.Is(err, service.ErrPoolNotFound):
		return c.Status(fiber.StatusNotFound).JSON(body)
	case errors.Is(err, service.ErrNotOwner):
		return c.Status(fiber.StatusForbidden).JSON(body)
	case errors.Is(err, service.ErrLockExpired),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrAlreadyAssigned),
		errors.Is(err, service.ErrDuplicateCode),
		errors.Is(err, service.ErrBookNotEmpty),
		errors.Is(err, service.ErrContention):
		return c.Status(fiber.StatusConflict).JSON(body)
	case errors.Is(err, service.ErrBookExhausted),
		errors.Is(err, service.ErrInsufficientCoupons):
		return c.Status(fiber.StatusGone).JSON(body)
	case errors.Is(err, service.ErrAlphabetExhausted),
		errors.Is(err, service.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(body)
	}

	log.Error().
		Err(err).
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// userMessage returns the stable, sentinel-level message for a service
// error, without internal wrapping detail.
func userMessage(err error) string {
	for _, sentinel := range []error{
		service.ErrBookNotFound,
		service.ErrCouponNotFound,
		service.ErrPoolNotFound,
		service.ErrNotOwner,
		service.ErrLockExpired,
		service.ErrInvalidState,
		service.ErrAlreadyAssigned,
		service.ErrDuplicateCode,
		service.ErrBookNotEmpty,
		service.ErrContention,
		service.ErrBookExhausted,
		service.ErrInsufficientCoupons,
		service.ErrAlphabetExhausted,
		service.ErrInvalidRequest,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// formatValidationError converts validator errors into stable
// "invalid request: ..." messages keyed by the JSON field name.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := snakeCase(fe.Field())
			switch fe.Tag() {
			case "required":
				return "invalid request: " + field + " is required"
			case "notblank":
				return "invalid request: " + field + " cannot be whitespace only"
			case "max":
				return "invalid request: " + field + " exceeds maximum length"
			case "min":
				return "invalid request: " + field + " has too few entries"
			case "gte":
				return "invalid request: " + field + " is below the minimum"
			case "lte":
				return "invalid request: " + field + " is above the maximum"
			case "distmode":
				return "invalid request: " + field + " must be \"random\" or \"even\""
			default:
				// Defensive: handle unknown tags with a descriptive fallback
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

func snakeCase(field string) string {
	// Initialisms first, so UserIDs comes out as user_ids not user_i_ds.
	field = strings.NewReplacer("IDs", "_ids", "ID", "_id").Replace(field)
	var b strings.Builder
	for i, r := range field {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return strings.Trim(strings.ReplaceAll(b.String(), "__", "_"), "_")
}
