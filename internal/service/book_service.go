package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/codegen"
	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// Listing page sizes.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// generateAttempts bounds how many times a generate call redraws its
// batch after losing a candidate to a concurrently inserted code.
const generateAttempts = 3

// BookRepositoryInterface defines the interface for book data access.
type BookRepositoryInterface interface {
	Insert(ctx context.Context, book *model.Book) error
	GetByID(ctx context.Context, id string) (*model.Book, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]model.Book, error)
	CodeCountForUpdate(ctx context.Context, tx database.TxQuerier, id string) (int, error)
	AddCodeCount(ctx context.Context, tx database.TxQuerier, id string, n int) error
	Delete(ctx context.Context, tx database.TxQuerier, id string) error
}

// BookCouponRepository defines the coupon data access the code pool needs.
type BookCouponRepository interface {
	InsertBatch(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error
	LockByBook(ctx context.Context, tx database.TxQuerier, bookID string) error
	ExistingCodes(ctx context.Context, bookID string) (map[string]struct{}, error)
	CountOutstanding(ctx context.Context, tx database.TxQuerier, bookID string) (int, error)
	ListByBook(ctx context.Context, bookID string, limit, offset int) ([]model.Coupon, error)
}

// RedemptionReader reads the redemption audit trail.
type RedemptionReader interface {
	ListByBook(ctx context.Context, bookID string, limit, offset int) ([]model.Redemption, error)
}

// CodeGenerator produces distinct random code strings.
type CodeGenerator interface {
	Generate(count, length int, existing map[string]struct{}) ([]string, error)
}

// BookService provides business logic for coupon books and their code
// pools.
type BookService struct {
	pool        TxBeginner
	bookRepo    BookRepositoryInterface
	couponRepo  BookCouponRepository
	redemptions RedemptionReader
	generator   CodeGenerator
}

// NewBookService creates a BookService with the given pool, repositories
// and code generator.
func NewBookService(pool *pgxpool.Pool, bookRepo BookRepositoryInterface, couponRepo BookCouponRepository, redemptions RedemptionReader, generator CodeGenerator) *BookService {
	return &BookService{
		pool:        pool,
		bookRepo:    bookRepo,
		couponRepo:  couponRepo,
		redemptions: redemptions,
		generator:   generator,
	}
}

// NewBookServiceWithTxBeginner creates a BookService with a custom
// TxBeginner. Primarily used for testing.
func NewBookServiceWithTxBeginner(pool TxBeginner, bookRepo BookRepositoryInterface, couponRepo BookCouponRepository, redemptions RedemptionReader, generator CodeGenerator) *BookService {
	return &BookService{
		pool:        pool,
		bookRepo:    bookRepo,
		couponRepo:  couponRepo,
		redemptions: redemptions,
		generator:   generator,
	}
}

// Create creates a new coupon book.
// Returns ErrInvalidRequest if request data is nil.
func (s *BookService) Create(ctx context.Context, req *model.CreateBookRequest) (*model.Book, error) {
	// Defense-in-depth: check for nil pointer even though handler validates
	if req == nil {
		return nil, ErrInvalidRequest
	}

	length := codegen.DefaultLength
	if req.CodeLength != nil {
		length = *req.CodeLength
	}

	book := &model.Book{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		CodeLength:  length,
		CreatedAt:   time.Now(),
	}
	if err := s.bookRepo.Insert(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

// Get retrieves a book by id.
// Returns ErrBookNotFound if the book doesn't exist.
func (s *BookService) Get(ctx context.Context, id string) (*model.Book, error) {
	book, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}
	return book, nil
}

// List returns a page of books, optionally filtered by owner.
func (s *BookService) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Book, error) {
	limit, offset = clampPage(limit, offset)
	return s.bookRepo.List(ctx, ownerID, limit, offset)
}

// Delete removes a book and its remaining UNASSIGNED/ASSIGNED coupons in
// one transaction. Deletion is rejected, never silent, while any coupon
// is LOCKED or REDEEMED: redemption history must remain queryable.
// Returns:
//   - ErrBookNotFound if the book doesn't exist
//   - ErrBookNotEmpty if any coupon is LOCKED or REDEEMED
func (s *BookService) Delete(ctx context.Context, id string) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		// Pin every coupon row before deciding: an in-flight lock or
		// redeem holds its row until commit, so the outstanding count
		// below cannot run ahead of a transition that is about to land.
		if err := s.couponRepo.LockByBook(ctx, tx, id); err != nil {
			return err
		}
		outstanding, err := s.couponRepo.CountOutstanding(ctx, tx, id)
		if err != nil {
			return err
		}
		if outstanding > 0 {
			return fmt.Errorf("%w: %d outstanding", ErrBookNotEmpty, outstanding)
		}
		return s.bookRepo.Delete(ctx, tx, id)
	})
}

// GenerateCodes produces count distinct random codes for the book and
// inserts them as UNASSIGNED coupons. Candidates are collision-checked
// against the book's existing codes within a bounded retry budget.
// Returns:
//   - ErrBookNotFound if the book doesn't exist
//   - ErrAlphabetExhausted when the budget runs out before count codes
func (s *BookService) GenerateCodes(ctx context.Context, bookID string, req *model.GenerateCodesRequest) (*model.CodeBatchResponse, error) {
	if req == nil || req.Count == nil {
		return nil, ErrInvalidRequest
	}

	book, err := s.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}

	length := book.CodeLength
	if req.Length != nil {
		length = *req.Length
	}

	// The snapshot of existing codes is read outside the insert
	// transaction, so a concurrent batch can land one of our candidates
	// in between. The caller supplied no codes, so a collision is not a
	// duplicate from their point of view: redraw against a fresh
	// snapshot instead of surfacing ErrDuplicateCode.
	var lastErr error
	for attempt := 0; attempt < generateAttempts; attempt++ {
		existing, err := s.couponRepo.ExistingCodes(ctx, bookID)
		if err != nil {
			return nil, err
		}

		codes, err := s.generator.Generate(*req.Count, length, existing)
		if err != nil {
			if errors.Is(err, codegen.ErrAlphabetExhausted) {
				return nil, fmt.Errorf("%w: %v", ErrAlphabetExhausted, err)
			}
			return nil, fmt.Errorf("generate codes: %w", err)
		}

		err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
			return s.insertCodeBatch(ctx, tx, bookID, codes)
		})
		if err == nil {
			return &model.CodeBatchResponse{
				BookID:       bookID,
				CodesCreated: len(codes),
				Codes:        codes,
			}, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrContention, lastErr)
}

// insertCodeBatch inserts codes starting at the book's code counter. The
// counter is read under the book row lock inside the same transaction,
// so concurrent batches to one book serialize and cannot hand out the
// same position twice.
func (s *BookService) insertCodeBatch(ctx context.Context, tx pgx.Tx, bookID string, codes []string) error {
	startPos, err := s.bookRepo.CodeCountForUpdate(ctx, tx, bookID)
	if err != nil {
		return err
	}
	if err := s.couponRepo.InsertBatch(ctx, tx, bookID, codes, startPos); err != nil {
		return err
	}
	return s.bookRepo.AddCodeCount(ctx, tx, bookID, len(codes))
}

// UploadCodes inserts caller-supplied codes as UNASSIGNED coupons,
// preserving input order. Codes compare case-sensitive, exact match.
// Returns:
//   - ErrBookNotFound if the book doesn't exist
//   - ErrDuplicateCode if any code repeats within the payload or already
//     exists; the book's code set is left unchanged
func (s *BookService) UploadCodes(ctx context.Context, bookID string, req *model.UploadCodesRequest) (*model.CodeBatchResponse, error) {
	if req == nil || len(req.Codes) == 0 {
		return nil, ErrInvalidRequest
	}

	if _, err := s.Get(ctx, bookID); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(req.Codes))
	for _, code := range req.Codes {
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("code %s repeated in upload: %w", code, ErrDuplicateCode)
		}
		seen[code] = struct{}{}
	}

	// The insert transaction rolls back as a whole on the first
	// duplicate, so a rejected upload leaves the book untouched.
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		return s.insertCodeBatch(ctx, tx, bookID, req.Codes)
	})
	if err != nil {
		return nil, err
	}

	return &model.CodeBatchResponse{
		BookID:       bookID,
		CodesCreated: len(req.Codes),
	}, nil
}

// ListCoupons returns a page of the book's coupons in upload/generation
// order. Returns ErrBookNotFound if the book doesn't exist.
func (s *BookService) ListCoupons(ctx context.Context, bookID string, limit, offset int) ([]model.Coupon, error) {
	if _, err := s.Get(ctx, bookID); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return s.couponRepo.ListByBook(ctx, bookID, limit, offset)
}

// ListRedemptions returns a page of the book's redemption history,
// newest first. Returns ErrBookNotFound if the book doesn't exist.
func (s *BookService) ListRedemptions(ctx context.Context, bookID string, limit, offset int) ([]model.Redemption, error) {
	if _, err := s.Get(ctx, bookID); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return s.redemptions.ListByBook(ctx, bookID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
