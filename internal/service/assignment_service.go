package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/metrics"
	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// AssignCouponRepository defines the coupon data access the allocation
// engine needs.
type AssignCouponRepository interface {
	GetForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	PickRandomUnassigned(ctx context.Context, tx database.TxQuerier, bookID string) (string, error)
	MarkAssigned(ctx context.Context, tx database.TxQuerier, code, userID string) error
}

// AssignBookRepository defines the book lookups the allocation engine needs.
type AssignBookRepository interface {
	Exists(ctx context.Context, tx database.TxQuerier, id string) (bool, error)
}

// AssignmentService assigns codes from a book to users, either a
// specific code or a random pick from the unassigned subset.
type AssignmentService struct {
	pool       TxBeginner
	couponRepo AssignCouponRepository
	bookRepo   AssignBookRepository
	maxRetries int
}

// NewAssignmentService creates an AssignmentService with the given pool
// and repositories. maxRetries bounds contention retries.
func NewAssignmentService(pool *pgxpool.Pool, couponRepo AssignCouponRepository, bookRepo AssignBookRepository, maxRetries int) *AssignmentService {
	return &AssignmentService{pool: pool, couponRepo: couponRepo, bookRepo: bookRepo, maxRetries: maxRetries}
}

// NewAssignmentServiceWithTxBeginner creates an AssignmentService with a
// custom TxBeginner. Primarily used for testing.
func NewAssignmentServiceWithTxBeginner(pool TxBeginner, couponRepo AssignCouponRepository, bookRepo AssignBookRepository, maxRetries int) *AssignmentService {
	return &AssignmentService{pool: pool, couponRepo: couponRepo, bookRepo: bookRepo, maxRetries: maxRetries}
}

// AssignRandom claims one UNASSIGNED coupon of the book uniformly at
// random and assigns it to userID. Selection and assignment are one
// atomic claim: the candidate row is picked under SKIP LOCKED and
// written before the transaction commits, so no two concurrent callers
// can receive the same code.
// Returns:
//   - ErrBookNotFound if the book doesn't exist
//   - ErrBookExhausted if no UNASSIGNED coupon remains
//   - ErrContention past the retry budget
func (s *AssignmentService) AssignRandom(ctx context.Context, bookID, userID string) (*model.Coupon, error) {
	var assigned *model.Coupon

	err := withRetry(ctx, s.maxRetries, func() error {
		return withTx(ctx, s.pool, func(tx pgx.Tx) error {
			code, err := s.couponRepo.PickRandomUnassigned(ctx, tx, bookID)
			if err != nil {
				return err
			}
			if code == "" {
				// Distinguish a missing book from an exhausted one.
				exists, err := s.bookRepo.Exists(ctx, tx, bookID)
				if err != nil {
					return err
				}
				if !exists {
					return ErrBookNotFound
				}
				return ErrBookExhausted
			}

			if err := s.couponRepo.MarkAssigned(ctx, tx, code, userID); err != nil {
				return err
			}

			assigned = &model.Coupon{
				Code:           code,
				BookID:         bookID,
				State:          model.StateAssigned,
				AssignedUserID: &userID,
			}
			return nil
		})
	})

	metrics.Observe("assign", assignOutcome(err))
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// AssignSpecific assigns the exact code to userID if it is UNASSIGNED.
// Returns:
//   - ErrCouponNotFound if the code doesn't exist
//   - ErrAlreadyAssigned (with current state) if the coupon is not UNASSIGNED
func (s *AssignmentService) AssignSpecific(ctx context.Context, code, userID string) (*model.Coupon, error) {
	var assigned *model.Coupon

	err := withRetry(ctx, s.maxRetries, func() error {
		return withTx(ctx, s.pool, func(tx pgx.Tx) error {
			coupon, err := s.couponRepo.GetForUpdate(ctx, tx, code)
			if err != nil {
				return err
			}
			if coupon.State != model.StateUnassigned {
				return NewStateError(ErrAlreadyAssigned, coupon.State)
			}

			if err := s.couponRepo.MarkAssigned(ctx, tx, code, userID); err != nil {
				return err
			}

			now := time.Now()
			coupon.State = model.StateAssigned
			coupon.AssignedUserID = &userID
			coupon.UpdatedAt = now
			assigned = coupon
			return nil
		})
	})

	metrics.Observe("assign", assignOutcome(err))
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// GetCoupon retrieves a coupon by code.
// Returns ErrCouponNotFound if the code doesn't exist.
func (s *AssignmentService) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	coupon, err := s.couponRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return coupon, nil
}

func assignOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrBookExhausted):
		return metrics.OutcomeExhausted
	case errors.Is(err, ErrAlreadyAssigned):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrCouponNotFound), errors.Is(err, ErrBookNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrContention):
		return metrics.OutcomeContention
	default:
		return metrics.OutcomeError
	}
}
