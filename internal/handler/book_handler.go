package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"coupon-book-service/internal/model"
)

// BookServiceInterface defines the interface for book business logic.
type BookServiceInterface interface {
	Create(ctx context.Context, req *model.CreateBookRequest) (*model.Book, error)
	Get(ctx context.Context, id string) (*model.Book, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]model.Book, error)
	Delete(ctx context.Context, id string) error
	GenerateCodes(ctx context.Context, bookID string, req *model.GenerateCodesRequest) (*model.CodeBatchResponse, error)
	UploadCodes(ctx context.Context, bookID string, req *model.UploadCodesRequest) (*model.CodeBatchResponse, error)
	ListCoupons(ctx context.Context, bookID string, limit, offset int) ([]model.Coupon, error)
	ListRedemptions(ctx context.Context, bookID string, limit, offset int) ([]model.Redemption, error)
}

// BookHandler handles HTTP requests for book and code pool operations.
type BookHandler struct {
	service   BookServiceInterface
	validator *validator.Validate
}

// NewBookHandler creates a new BookHandler with the given service and
// validator.
func NewBookHandler(svc BookServiceInterface, v *validator.Validate) *BookHandler {
	return &BookHandler{service: svc, validator: v}
}

// CreateBook handles POST /api/books requests.
func (h *BookHandler) CreateBook(c *fiber.Ctx) error {
	var req model.CreateBookRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	book, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("book_id", book.ID).
		Str("owner_id", book.OwnerID).
		Msg("book created")

	return c.Status(fiber.StatusCreated).JSON(book)
}

// GetBook handles GET /api/books/:id requests.
func (h *BookHandler) GetBook(c *fiber.Ctx) error {
	book, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(book)
}

// ListBooks handles GET /api/books requests with optional owner filter
// and pagination.
func (h *BookHandler) ListBooks(c *fiber.Ctx) error {
	books, err := h.service.List(c.Context(),
		c.Query("owner_id"),
		c.QueryInt("limit"),
		c.QueryInt("offset"))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(books)
}

// DeleteBook handles DELETE /api/books/:id requests. Deletion is
// rejected with 409 while the book has locked or redeemed coupons.
func (h *BookHandler) DeleteBook(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Delete(c.Context(), id); err != nil {
		return respondServiceError(c, err)
	}

	log.Info().Str("book_id", id).Msg("book deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

// GenerateCodes handles POST /api/books/:id/codes/generate requests.
func (h *BookHandler) GenerateCodes(c *fiber.Ctx) error {
	bookID := c.Params("id")
	var req model.GenerateCodesRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	resp, err := h.service.GenerateCodes(c.Context(), bookID, &req)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("book_id", bookID).
		Int("codes_created", resp.CodesCreated).
		Msg("codes generated")

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// UploadCodes handles POST /api/books/:id/codes/upload requests.
func (h *BookHandler) UploadCodes(c *fiber.Ctx) error {
	bookID := c.Params("id")
	var req model.UploadCodesRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	resp, err := h.service.UploadCodes(c.Context(), bookID, &req)
	if err != nil {
		return respondServiceError(c, err)
	}

	log.Info().
		Str("book_id", bookID).
		Int("codes_created", resp.CodesCreated).
		Msg("codes uploaded")

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListCoupons handles GET /api/books/:id/coupons requests.
func (h *BookHandler) ListCoupons(c *fiber.Ctx) error {
	coupons, err := h.service.ListCoupons(c.Context(),
		c.Params("id"),
		c.QueryInt("limit"),
		c.QueryInt("offset"))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(coupons)
}

// ListRedemptions handles GET /api/books/:id/redemptions requests.
func (h *BookHandler) ListRedemptions(c *fiber.Ctx) error {
	records, err := h.service.ListRedemptions(c.Context(),
		c.Params("id"),
		c.QueryInt("limit"),
		c.QueryInt("offset"))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(records)
}
