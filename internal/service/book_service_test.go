package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coupon-book-service/internal/codegen"
	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// mockBookRepository is a mock implementation of BookRepositoryInterface.
type mockBookRepository struct {
	insertFn             func(ctx context.Context, book *model.Book) error
	getByIDFn            func(ctx context.Context, id string) (*model.Book, error)
	listFn               func(ctx context.Context, ownerID string, limit, offset int) ([]model.Book, error)
	codeCountForUpdateFn func(ctx context.Context, tx database.TxQuerier, id string) (int, error)
	addCodeCountFn       func(ctx context.Context, tx database.TxQuerier, id string, n int) error
	deleteFn             func(ctx context.Context, tx database.TxQuerier, id string) error
}

func (m *mockBookRepository) Insert(ctx context.Context, book *model.Book) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, book)
	}
	return nil
}

func (m *mockBookRepository) GetByID(ctx context.Context, id string) (*model.Book, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockBookRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Book, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID, limit, offset)
	}
	return nil, nil
}

func (m *mockBookRepository) CodeCountForUpdate(ctx context.Context, tx database.TxQuerier, id string) (int, error) {
	if m.codeCountForUpdateFn != nil {
		return m.codeCountForUpdateFn(ctx, tx, id)
	}
	return 0, nil
}

func (m *mockBookRepository) AddCodeCount(ctx context.Context, tx database.TxQuerier, id string, n int) error {
	if m.addCodeCountFn != nil {
		return m.addCodeCountFn(ctx, tx, id, n)
	}
	return nil
}

func (m *mockBookRepository) Delete(ctx context.Context, tx database.TxQuerier, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, tx, id)
	}
	return nil
}

// mockBookCouponRepo is a mock implementation of BookCouponRepository.
type mockBookCouponRepo struct {
	insertBatchFn      func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error
	lockByBookFn       func(ctx context.Context, tx database.TxQuerier, bookID string) error
	existingCodesFn    func(ctx context.Context, bookID string) (map[string]struct{}, error)
	countOutstandingFn func(ctx context.Context, tx database.TxQuerier, bookID string) (int, error)
	listByBookFn       func(ctx context.Context, bookID string, limit, offset int) ([]model.Coupon, error)
}

func (m *mockBookCouponRepo) InsertBatch(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
	if m.insertBatchFn != nil {
		return m.insertBatchFn(ctx, tx, bookID, codes, startPos)
	}
	return nil
}

func (m *mockBookCouponRepo) LockByBook(ctx context.Context, tx database.TxQuerier, bookID string) error {
	if m.lockByBookFn != nil {
		return m.lockByBookFn(ctx, tx, bookID)
	}
	return nil
}

func (m *mockBookCouponRepo) ExistingCodes(ctx context.Context, bookID string) (map[string]struct{}, error) {
	if m.existingCodesFn != nil {
		return m.existingCodesFn(ctx, bookID)
	}
	return map[string]struct{}{}, nil
}

func (m *mockBookCouponRepo) CountOutstanding(ctx context.Context, tx database.TxQuerier, bookID string) (int, error) {
	if m.countOutstandingFn != nil {
		return m.countOutstandingFn(ctx, tx, bookID)
	}
	return 0, nil
}

func (m *mockBookCouponRepo) ListByBook(ctx context.Context, bookID string, limit, offset int) ([]model.Coupon, error) {
	if m.listByBookFn != nil {
		return m.listByBookFn(ctx, bookID, limit, offset)
	}
	return nil, nil
}

// mockRedemptionReader is a mock implementation of RedemptionReader.
type mockRedemptionReader struct {
	listByBookFn func(ctx context.Context, bookID string, limit, offset int) ([]model.Redemption, error)
}

func (m *mockRedemptionReader) ListByBook(ctx context.Context, bookID string, limit, offset int) ([]model.Redemption, error) {
	if m.listByBookFn != nil {
		return m.listByBookFn(ctx, bookID, limit, offset)
	}
	return nil, nil
}

// mockGenerator is a mock implementation of CodeGenerator.
type mockGenerator struct {
	generateFn func(count, length int, existing map[string]struct{}) ([]string, error)
}

func (m *mockGenerator) Generate(count, length int, existing map[string]struct{}) ([]string, error) {
	if m.generateFn != nil {
		return m.generateFn(count, length, existing)
	}
	return nil, nil
}

func newBookService(bookRepo *mockBookRepository, couponRepo *mockBookCouponRepo, redemptions *mockRedemptionReader, generator *mockGenerator) *BookService {
	return NewBookServiceWithTxBeginner(&mockTxBeginner{}, bookRepo, couponRepo, redemptions, generator)
}

func testBook(id string) *model.Book {
	return &model.Book{
		ID:         id,
		Name:       "Summer Promo",
		OwnerID:    "marketing",
		CodeLength: 8,
		CodeCount:  10,
		CreatedAt:  time.Now(),
	}
}

func TestBookCreate_DefaultsCodeLength(t *testing.T) {
	var captured *model.Book
	bookRepo := &mockBookRepository{
		insertFn: func(ctx context.Context, book *model.Book) error {
			captured = book
			return nil
		},
	}

	svc := newBookService(bookRepo, &mockBookCouponRepo{}, &mockRedemptionReader{}, &mockGenerator{})
	book, err := svc.Create(context.Background(), &model.CreateBookRequest{
		Name:    "Summer Promo",
		OwnerID: "marketing",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, book.ID)
	assert.Equal(t, codegen.DefaultLength, captured.CodeLength)
}

func TestBookCreate_ExplicitCodeLength(t *testing.T) {
	bookRepo := &mockBookRepository{}

	svc := newBookService(bookRepo, &mockBookCouponRepo{}, &mockRedemptionReader{}, &mockGenerator{})
	book, err := svc.Create(context.Background(), &model.CreateBookRequest{
		Name:       "Summer Promo",
		OwnerID:    "marketing",
		CodeLength: intPtr(12),
	})

	require.NoError(t, err)
	assert.Equal(t, 12, book.CodeLength)
}

func TestBookGet_NotFound(t *testing.T) {
	svc := newBookService(&mockBookRepository{}, &mockBookCouponRepo{}, &mockRedemptionReader{}, &mockGenerator{})

	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrBookNotFound)
}

func TestBookDelete_RejectedWhileOutstanding(t *testing.T) {
	couponRepo := &mockBookCouponRepo{
		countOutstandingFn: func(ctx context.Context, tx database.TxQuerier, bookID string) (int, error) {
			return 2, nil
		},
	}
	bookRepo := &mockBookRepository{
		deleteFn: func(ctx context.Context, tx database.TxQuerier, id string) error {
			t.Fatal("Delete must not run while coupons are LOCKED or REDEEMED")
			return nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, &mockGenerator{})
	err := svc.Delete(context.Background(), "book-1")

	require.ErrorIs(t, err, ErrBookNotEmpty)
}

func TestBookDelete_Success(t *testing.T) {
	deleted := false
	bookRepo := &mockBookRepository{
		deleteFn: func(ctx context.Context, tx database.TxQuerier, id string) error {
			deleted = true
			return nil
		},
	}

	svc := newBookService(bookRepo, &mockBookCouponRepo{}, &mockRedemptionReader{}, &mockGenerator{})
	err := svc.Delete(context.Background(), "book-1")

	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestBookDelete_PinsCouponRowsBeforeCounting(t *testing.T) {
	var calls []string
	couponRepo := &mockBookCouponRepo{
		lockByBookFn: func(ctx context.Context, tx database.TxQuerier, bookID string) error {
			calls = append(calls, "lock")
			return nil
		},
		countOutstandingFn: func(ctx context.Context, tx database.TxQuerier, bookID string) (int, error) {
			calls = append(calls, "count")
			return 0, nil
		},
	}
	bookRepo := &mockBookRepository{
		deleteFn: func(ctx context.Context, tx database.TxQuerier, id string) error {
			calls = append(calls, "delete")
			return nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, &mockGenerator{})
	err := svc.Delete(context.Background(), "book-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"lock", "count", "delete"}, calls,
		"coupon rows must be pinned before the outstanding check decides")
}

func TestGenerateCodes_Success(t *testing.T) {
	book := testBook("book-1")
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return book, nil
		},
		codeCountForUpdateFn: func(ctx context.Context, tx database.TxQuerier, id string) (int, error) {
			return book.CodeCount, nil
		},
	}

	var capturedStartPos int
	var capturedExisting map[string]struct{}
	couponRepo := &mockBookCouponRepo{
		existingCodesFn: func(ctx context.Context, bookID string) (map[string]struct{}, error) {
			return map[string]struct{}{"OLDCODE1": {}}, nil
		},
		insertBatchFn: func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
			capturedStartPos = startPos
			return nil
		},
	}
	generator := &mockGenerator{
		generateFn: func(count, length int, existing map[string]struct{}) ([]string, error) {
			capturedExisting = existing
			assert.Equal(t, 3, count)
			assert.Equal(t, book.CodeLength, length)
			return []string{"NEW1", "NEW2", "NEW3"}, nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, generator)
	resp, err := svc.GenerateCodes(context.Background(), "book-1", &model.GenerateCodesRequest{Count: intPtr(3)})

	require.NoError(t, err)
	assert.Equal(t, 3, resp.CodesCreated)
	assert.Equal(t, []string{"NEW1", "NEW2", "NEW3"}, resp.Codes)
	assert.Contains(t, capturedExisting, "OLDCODE1", "generator must see existing codes")
	assert.Equal(t, book.CodeCount, capturedStartPos, "new codes continue the position sequence")
}

func TestGenerateCodes_AlphabetExhausted(t *testing.T) {
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil
		},
	}
	generator := &mockGenerator{
		generateFn: func(count, length int, existing map[string]struct{}) ([]string, error) {
			return nil, codegen.ErrAlphabetExhausted
		},
	}

	svc := newBookService(bookRepo, &mockBookCouponRepo{}, &mockRedemptionReader{}, generator)
	_, err := svc.GenerateCodes(context.Background(), "book-1", &model.GenerateCodesRequest{Count: intPtr(1000)})

	require.ErrorIs(t, err, ErrAlphabetExhausted)
}

func TestGenerateCodes_BookNotFound(t *testing.T) {
	svc := newBookService(&mockBookRepository{}, &mockBookCouponRepo{}, &mockRedemptionReader{}, &mockGenerator{})

	_, err := svc.GenerateCodes(context.Background(), "missing", &model.GenerateCodesRequest{Count: intPtr(5)})
	require.ErrorIs(t, err, ErrBookNotFound)
}

func TestGenerateCodes_RedrawsAfterConcurrentInsert(t *testing.T) {
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil
		},
	}
	snapshots := 0
	couponRepo := &mockBookCouponRepo{
		existingCodesFn: func(ctx context.Context, bookID string) (map[string]struct{}, error) {
			snapshots++
			return map[string]struct{}{}, nil
		},
		insertBatchFn: func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
			if snapshots == 1 {
				// A concurrent batch landed NEW1 between snapshot and insert.
				return fmt.Errorf("code NEW1: %w", ErrDuplicateCode)
			}
			return nil
		},
	}
	generator := &mockGenerator{
		generateFn: func(count, length int, existing map[string]struct{}) ([]string, error) {
			return []string{"NEW1", "NEW2"}, nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, generator)
	resp, err := svc.GenerateCodes(context.Background(), "book-1", &model.GenerateCodesRequest{Count: intPtr(2)})

	require.NoError(t, err, "a lost candidate is redrawn, not surfaced as a duplicate")
	assert.Equal(t, 2, resp.CodesCreated)
	assert.Equal(t, 2, snapshots, "the redraw must work from a fresh snapshot")
}

func TestGenerateCodes_ContentionPastRedrawBudget(t *testing.T) {
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil
		},
	}
	attempts := 0
	couponRepo := &mockBookCouponRepo{
		insertBatchFn: func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
			attempts++
			return fmt.Errorf("code NEW1: %w", ErrDuplicateCode)
		},
	}
	generator := &mockGenerator{
		generateFn: func(count, length int, existing map[string]struct{}) ([]string, error) {
			return []string{"NEW1"}, nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, generator)
	_, err := svc.GenerateCodes(context.Background(), "book-1", &model.GenerateCodesRequest{Count: intPtr(1)})

	require.ErrorIs(t, err, ErrContention)
	assert.NotErrorIs(t, err, ErrDuplicateCode, "callers of generate never see a duplicate they did not supply")
	assert.Equal(t, generateAttempts, attempts)
}

func TestUploadCodes_Success(t *testing.T) {
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil
		},
	}
	var capturedCodes []string
	couponRepo := &mockBookCouponRepo{
		insertBatchFn: func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
			capturedCodes = codes
			return nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, &mockGenerator{})
	resp, err := svc.UploadCodes(context.Background(), "book-1", &model.UploadCodesRequest{
		Codes: []string{"SPRING-A", "SPRING-B"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, resp.CodesCreated)
	assert.Equal(t, []string{"SPRING-A", "SPRING-B"}, capturedCodes, "input order must be preserved")
}

func TestUploadCodes_DuplicateWithinPayload(t *testing.T) {
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil
		},
	}
	couponRepo := &mockBookCouponRepo{
		insertBatchFn: func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
			t.Fatal("nothing may be inserted when the payload repeats a code")
			return nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, &mockGenerator{})
	_, err := svc.UploadCodes(context.Background(), "book-1", &model.UploadCodesRequest{
		Codes: []string{"SPRING-A", "SPRING-A"},
	})

	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestUploadCodes_ExistingDuplicateRollsBack(t *testing.T) {
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil
		},
		addCodeCountFn: func(ctx context.Context, tx database.TxQuerier, id string, n int) error {
			t.Fatal("code count must not move when the insert fails")
			return nil
		},
	}
	couponRepo := &mockBookCouponRepo{
		insertBatchFn: func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
			return ErrDuplicateCode
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, &mockGenerator{})
	_, err := svc.UploadCodes(context.Background(), "book-1", &model.UploadCodesRequest{
		Codes: []string{"SPRING-A"},
	})

	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestUploadCodes_PositionsFromLockedCounter(t *testing.T) {
	// The counter read when the book was fetched is stale by the time the
	// insert runs; positions must come from the in-transaction read.
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil // CodeCount 10
		},
		codeCountForUpdateFn: func(ctx context.Context, tx database.TxQuerier, id string) (int, error) {
			return 14, nil
		},
	}
	var capturedStartPos int
	couponRepo := &mockBookCouponRepo{
		insertBatchFn: func(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
			capturedStartPos = startPos
			return nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, &mockGenerator{})
	_, err := svc.UploadCodes(context.Background(), "book-1", &model.UploadCodesRequest{
		Codes: []string{"SPRING-C"},
	})

	require.NoError(t, err)
	assert.Equal(t, 14, capturedStartPos)
}

func TestListCoupons_ClampsPageSize(t *testing.T) {
	bookRepo := &mockBookRepository{
		getByIDFn: func(ctx context.Context, id string) (*model.Book, error) {
			return testBook(id), nil
		},
	}
	var capturedLimit, capturedOffset int
	couponRepo := &mockBookCouponRepo{
		listByBookFn: func(ctx context.Context, bookID string, limit, offset int) ([]model.Coupon, error) {
			capturedLimit = limit
			capturedOffset = offset
			return []model.Coupon{}, nil
		},
	}

	svc := newBookService(bookRepo, couponRepo, &mockRedemptionReader{}, &mockGenerator{})
	_, err := svc.ListCoupons(context.Background(), "book-1", 100000, -5)

	require.NoError(t, err)
	assert.Equal(t, maxPageSize, capturedLimit)
	assert.Equal(t, 0, capturedOffset)
}

func TestListRedemptions_BookNotFound(t *testing.T) {
	svc := newBookService(&mockBookRepository{}, &mockBookCouponRepo{}, &mockRedemptionReader{}, &mockGenerator{})

	_, err := svc.ListRedemptions(context.Background(), "missing", 0, 0)
	require.ErrorIs(t, err, ErrBookNotFound)
}
