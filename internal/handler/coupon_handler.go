package handler

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"coupon-book-service/internal/model"
)

// AssignmentServiceInterface defines the interface for allocation logic.
type AssignmentServiceInterface interface {
	AssignRandom(ctx context.Context, bookID, userID string) (*model.Coupon, error)
	AssignSpecific(ctx context.Context, code, userID string) (*model.Coupon, error)
	GetCoupon(ctx context.Context, code string) (*model.Coupon, error)
}

// RedemptionServiceInterface defines the interface for lock/redeem logic.
type RedemptionServiceInterface interface {
	Lock(ctx context.Context, code, userID string) (*model.Coupon, error)
	Unlock(ctx context.Context, code, userID string) (*model.Coupon, error)
	Redeem(ctx context.Context, code, userID string, metadata json.RawMessage) (*model.Coupon, *model.Redemption, error)
}

// CouponHandler handles HTTP requests for coupon lifecycle operations.
type CouponHandler struct {
	assignments AssignmentServiceInterface
	redemptions RedemptionServiceInterface
	validator   *validator.Validate
}

// NewCouponHandler creates a new CouponHandler with the given services
// and validator.
func NewCouponHandler(assignments AssignmentServiceInterface, redemptions RedemptionServiceInterface, v *validator.Validate) *CouponHandler {
	return &CouponHandler{assignments: assignments, redemptions: redemptions, validator: v}
}

// AssignRandom handles POST /api/coupons/assign requests: a random pick
// from the book's unassigned subset.
func (h *CouponHandler) AssignRandom(c *fiber.Ctx) error {
	var req model.AssignRandomRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	coupon, err := h.assignments.AssignRandom(c.Context(), req.BookID, req.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("book_id", req.BookID).
		Str("user_id", req.UserID).
		Str("code", coupon.Code).
		Msg("coupon assigned")

	return c.Status(fiber.StatusCreated).JSON(coupon)
}

// AssignSpecific handles POST /api/coupons/:code/assign requests.
func (h *CouponHandler) AssignSpecific(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.AssignSpecificRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	coupon, err := h.assignments.AssignSpecific(c.Context(), code, req.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("code", code).
		Str("user_id", req.UserID).
		Msg("coupon assigned")

	return c.Status(fiber.StatusCreated).JSON(coupon)
}

// Lock handles POST /api/coupons/:code/lock requests.
func (h *CouponHandler) Lock(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.LockRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	coupon, err := h.redemptions.Lock(c.Context(), code, req.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("code", code).
		Str("user_id", req.UserID).
		Time("lock_expires_at", *coupon.LockExpiresAt).
		Msg("coupon locked")

	return c.JSON(coupon)
}

// Unlock handles POST /api/coupons/:code/unlock requests.
func (h *CouponHandler) Unlock(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.LockRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	coupon, err := h.redemptions.Unlock(c.Context(), code, req.UserID)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("code", code).
		Str("user_id", req.UserID).
		Msg("coupon unlocked")

	return c.JSON(coupon)
}

// Redeem handles POST /api/coupons/:code/redeem requests.
func (h *CouponHandler) Redeem(c *fiber.Ctx) error {
	code := c.Params("code")
	var req model.RedeemRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	coupon, record, err := h.redemptions.Redeem(c.Context(), code, req.UserID, req.Metadata)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("code", code).
		Str("user_id", req.UserID).
		Str("redemption_id", record.ID).
		Msg("coupon redeemed")

	return c.JSON(fiber.Map{
		"coupon":     coupon,
		"redemption": record,
	})
}

// GetCoupon handles GET /api/coupons/:code requests.
func (h *CouponHandler) GetCoupon(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: code is required"})
	}

	coupon, err := h.assignments.GetCoupon(c.Context(), code)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(coupon)
}
