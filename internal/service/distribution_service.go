package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/metrics"
	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// DistributeCouponRepository defines the coupon data access bulk
// distribution needs.
type DistributeCouponRepository interface {
	SelectUnassignedForUpdate(ctx context.Context, tx database.TxQuerier, bookID string, limit int, ordered bool) ([]string, error)
	CountUnassigned(ctx context.Context, q database.TxQuerier, bookID string) (int, error)
	MarkAssignedBatch(ctx context.Context, tx database.TxQuerier, codes []string, userID string) error
}

// DistributePoolRepository defines the pool registry access bulk
// distribution needs.
type DistributePoolRepository interface {
	GetByID(ctx context.Context, id string) (*model.Pool, error)
	Members(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error)
}

// DistributionService assigns couponsPerUser codes from a book to every
// member of a pool as one atomic unit: either every (user, code) pairing
// commits or none do.
type DistributionService struct {
	pool          TxBeginner
	couponRepo    DistributeCouponRepository
	bookRepo      AssignBookRepository
	poolRepo      DistributePoolRepository
	maxRetries    int
	lockTimeoutMS int
}

// NewDistributionService creates a DistributionService with the given
// pool and repositories.
func NewDistributionService(pool *pgxpool.Pool, couponRepo DistributeCouponRepository, bookRepo AssignBookRepository, poolRepo DistributePoolRepository, maxRetries, lockTimeoutMS int) *DistributionService {
	return &DistributionService{
		pool:          pool,
		couponRepo:    couponRepo,
		bookRepo:      bookRepo,
		poolRepo:      poolRepo,
		maxRetries:    maxRetries,
		lockTimeoutMS: lockTimeoutMS,
	}
}

// NewDistributionServiceWithTxBeginner creates a DistributionService with
// a custom TxBeginner. Primarily used for testing.
func NewDistributionServiceWithTxBeginner(pool TxBeginner, couponRepo DistributeCouponRepository, bookRepo AssignBookRepository, poolRepo DistributePoolRepository, maxRetries, lockTimeoutMS int) *DistributionService {
	return &DistributionService{
		pool:          pool,
		couponRepo:    couponRepo,
		bookRepo:      bookRepo,
		poolRepo:      poolRepo,
		maxRetries:    maxRetries,
		lockTimeoutMS: lockTimeoutMS,
	}
}

// Distribute assigns couponsPerUser codes to every member of the pool.
//
// Mode random draws the whole batch from one shrinking candidate set
// (SKIP LOCKED, shuffled server-side), so codes never repeat across
// users. Mode even takes the unassigned codes in lexicographic order
// under a blocking FOR UPDATE and hands out contiguous chunks in
// membership order, making the mapping reproducible.
//
// All selected rows stay locked until commit, so concurrent single
// allocations cannot claim them mid-operation. A shortfall rolls the
// transaction back with ErrInsufficientCoupons and zero assignments.
func (s *DistributionService) Distribute(ctx context.Context, req *model.DistributeRequest) (*model.DistributionResponse, error) {
	resp, err := s.distribute(ctx, req)
	metrics.Observe("distribute", distributeOutcome(err))
	return resp, err
}

func (s *DistributionService) distribute(ctx context.Context, req *model.DistributeRequest) (*model.DistributionResponse, error) {
	if req == nil || req.CouponsPerUser == nil || *req.CouponsPerUser < 1 {
		return nil, ErrInvalidRequest
	}
	if req.Mode != model.ModeRandom && req.Mode != model.ModeEven {
		return nil, fmt.Errorf("%w: unknown distribution mode %q", ErrInvalidRequest, req.Mode)
	}
	perUser := *req.CouponsPerUser

	pool, err := s.poolRepo.GetByID(ctx, req.PoolID)
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}

	var resp *model.DistributionResponse

	err = withRetry(ctx, s.maxRetries, func() error {
		return withTx(ctx, s.pool, func(tx pgx.Tx) error {
			if err := setLockTimeout(ctx, tx, s.lockTimeoutMS); err != nil {
				return err
			}

			members, err := s.poolRepo.Members(ctx, tx, req.PoolID)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				return fmt.Errorf("%w: pool %s has no members", ErrInvalidRequest, req.PoolID)
			}

			exists, err := s.bookRepo.Exists(ctx, tx, req.BookID)
			if err != nil {
				return err
			}
			if !exists {
				return ErrBookNotFound
			}

			needed := perUser * len(members)
			codes, err := s.couponRepo.SelectUnassignedForUpdate(ctx, tx, req.BookID, needed, req.Mode == model.ModeEven)
			if err != nil {
				return err
			}
			if len(codes) < needed {
				if req.Mode == model.ModeRandom {
					// SKIP LOCKED hides rows other transactions hold
					// transiently, so a short read is only conclusive
					// against the true unassigned count.
					total, err := s.couponRepo.CountUnassigned(ctx, tx, req.BookID)
					if err != nil {
						return err
					}
					if total >= needed {
						return fmt.Errorf("%w: %d of %d candidates held by concurrent claims",
							ErrContention, needed-len(codes), needed)
					}
				}
				return fmt.Errorf("%w: need %d, have %d", ErrInsufficientCoupons, needed, len(codes))
			}

			assignments := make(map[string][]string, len(members))
			for i, userID := range members {
				chunk := codes[i*perUser : (i+1)*perUser]
				if err := s.couponRepo.MarkAssignedBatch(ctx, tx, chunk, userID); err != nil {
					return err
				}
				assignments[userID] = chunk
			}

			resp = &model.DistributionResponse{
				BookID:        req.BookID,
				PoolID:        req.PoolID,
				Mode:          req.Mode,
				TotalAssigned: needed,
				Assignments:   assignments,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func distributeOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrInsufficientCoupons):
		return metrics.OutcomeExhausted
	case errors.Is(err, ErrBookNotFound), errors.Is(err, ErrPoolNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrContention):
		return metrics.OutcomeContention
	case errors.Is(err, ErrInvalidRequest):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
