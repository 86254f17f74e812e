package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"coupon-book-service/internal/model"
)

// PoolServiceInterface defines the interface for pool registry logic.
type PoolServiceInterface interface {
	Create(ctx context.Context, req *model.CreatePoolRequest) (*model.PoolDetail, error)
	Get(ctx context.Context, id string) (*model.PoolDetail, error)
	ListActive(ctx context.Context) ([]model.Pool, error)
	Update(ctx context.Context, id string, req *model.UpdatePoolRequest) (*model.PoolDetail, error)
	Delete(ctx context.Context, id string) error
	AddUsers(ctx context.Context, poolID string, userIDs []string) (*model.PoolDetail, error)
	RemoveUsers(ctx context.Context, poolID string, userIDs []string) (*model.PoolDetail, error)
}

// DistributionServiceInterface defines the interface for bulk
// distribution logic.
type DistributionServiceInterface interface {
	Distribute(ctx context.Context, req *model.DistributeRequest) (*model.DistributionResponse, error)
}

// PoolHandler handles HTTP requests for pool registry and bulk
// distribution operations.
type PoolHandler struct {
	service      PoolServiceInterface
	distribution DistributionServiceInterface
	validator    *validator.Validate
}

// NewPoolHandler creates a new PoolHandler with the given services and
// validator.
func NewPoolHandler(svc PoolServiceInterface, distribution DistributionServiceInterface, v *validator.Validate) *PoolHandler {
	return &PoolHandler{service: svc, distribution: distribution, validator: v}
}

// CreatePool handles POST /api/pools requests.
func (h *PoolHandler) CreatePool(c *fiber.Ctx) error {
	var req model.CreatePoolRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	pool, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("pool_id", pool.ID).
		Int("members", len(pool.UserIDs)).
		Msg("pool created")

	return c.Status(fiber.StatusCreated).JSON(pool)
}

// GetPool handles GET /api/pools/:id requests.
func (h *PoolHandler) GetPool(c *fiber.Ctx) error {
	pool, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(pool)
}

// ListPools handles GET /api/pools requests, returning active pools.
func (h *PoolHandler) ListPools(c *fiber.Ctx) error {
	pools, err := h.service.ListActive(c.Context())
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(pools)
}

// UpdatePool handles PATCH /api/pools/:id requests.
func (h *PoolHandler) UpdatePool(c *fiber.Ctx) error {
	var req model.UpdatePoolRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	pool, err := h.service.Update(c.Context(), c.Params("id"), &req)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(pool)
}

// DeletePool handles DELETE /api/pools/:id requests.
func (h *PoolHandler) DeletePool(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Delete(c.Context(), id); err != nil {
		return respondServiceError(c, err)
	}

	log.Info().Str("pool_id", id).Msg("pool deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

// AddUsers handles POST /api/pools/:id/users requests: idempotent set
// union on the pool's membership.
func (h *PoolHandler) AddUsers(c *fiber.Ctx) error {
	var req model.PoolMembersRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	pool, err := h.service.AddUsers(c.Context(), c.Params("id"), req.UserIDs)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(pool)
}

// RemoveUsers handles DELETE /api/pools/:id/users requests: idempotent
// set difference on the pool's membership.
func (h *PoolHandler) RemoveUsers(c *fiber.Ctx) error {
	var req model.PoolMembersRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	pool, err := h.service.RemoveUsers(c.Context(), c.Params("id"), req.UserIDs)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(pool)
}

// Distribute handles POST /api/pools/distribute requests: one atomic
// bulk assignment across the pool's members. Either every pairing in
// the response was committed or the call failed with no assignments.
func (h *PoolHandler) Distribute(c *fiber.Ctx) error {
	var req model.DistributeRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	resp, err := h.distribution.Distribute(c.Context(), &req)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("book_id", req.BookID).
		Str("pool_id", req.PoolID).
		Str("mode", string(req.Mode)).
		Int("total_assigned", resp.TotalAssigned).
		Msg("bulk distribution committed")

	return c.Status(fiber.StatusCreated).JSON(resp)
}
