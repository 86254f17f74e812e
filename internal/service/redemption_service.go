package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/metrics"
	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// LockCouponRepository defines the coupon data access the lock manager needs.
type LockCouponRepository interface {
	GetForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	MarkLocked(ctx context.Context, tx database.TxQuerier, code string, expiresAt time.Time) error
	ClearLock(ctx context.Context, tx database.TxQuerier, code string) error
	MarkRedeemed(ctx context.Context, tx database.TxQuerier, code string, at time.Time) error
}

// RedemptionWriter appends redemption audit records.
type RedemptionWriter interface {
	Insert(ctx context.Context, tx database.TxQuerier, rec *model.Redemption) error
}

// RedemptionService enforces the time-bounded LOCKED state and drives
// the lock/unlock/redeem transitions.
//
// Lock expiry is lazy: every transition that inspects a LOCKED coupon
// first checks the expiry under the row lock, and an expired lock is
// reverted to ASSIGNED inside that same transaction. No background
// sweep is required for correctness.
type RedemptionService struct {
	pool        TxBeginner
	couponRepo  LockCouponRepository
	redemptions RedemptionWriter
	lockTTL     time.Duration
	maxRetries  int
	now         func() time.Time
}

// NewRedemptionService creates a RedemptionService with the given pool,
// repositories and lock TTL.
func NewRedemptionService(pool *pgxpool.Pool, couponRepo LockCouponRepository, redemptions RedemptionWriter, lockTTL time.Duration, maxRetries int) *RedemptionService {
	return &RedemptionService{
		pool:        pool,
		couponRepo:  couponRepo,
		redemptions: redemptions,
		lockTTL:     lockTTL,
		maxRetries:  maxRetries,
		now:         time.Now,
	}
}

// NewRedemptionServiceWithTxBeginner creates a RedemptionService with a
// custom TxBeginner. Primarily used for testing.
func NewRedemptionServiceWithTxBeginner(pool TxBeginner, couponRepo LockCouponRepository, redemptions RedemptionWriter, lockTTL time.Duration, maxRetries int) *RedemptionService {
	return &RedemptionService{
		pool:        pool,
		couponRepo:  couponRepo,
		redemptions: redemptions,
		lockTTL:     lockTTL,
		maxRetries:  maxRetries,
		now:         time.Now,
	}
}

// Lock places a time-bounded redemption lock on an ASSIGNED coupon.
// An expired previous lock is reverted first and does not block
// re-locking by the owner.
// Returns:
//   - ErrCouponNotFound if the code doesn't exist
//   - ErrNotOwner if the caller is not the assigned user
//   - ErrInvalidState (with current state) for any other state
func (s *RedemptionService) Lock(ctx context.Context, code, userID string) (*model.Coupon, error) {
	var locked *model.Coupon

	err := withRetry(ctx, s.maxRetries, func() error {
		return withTx(ctx, s.pool, func(tx pgx.Tx) error {
			coupon, err := s.couponRepo.GetForUpdate(ctx, tx, code)
			if err != nil {
				return err
			}

			now := s.now()
			if coupon.LockExpired(now) {
				if err := s.couponRepo.ClearLock(ctx, tx, code); err != nil {
					return err
				}
				coupon.State = model.StateAssigned
				coupon.LockExpiresAt = nil
			}

			if coupon.State != model.StateAssigned {
				return NewStateError(ErrInvalidState, coupon.State)
			}
			if !coupon.OwnedBy(userID) {
				return ErrNotOwner
			}

			expiresAt := now.Add(s.lockTTL)
			if err := s.couponRepo.MarkLocked(ctx, tx, code, expiresAt); err != nil {
				return err
			}

			coupon.State = model.StateLocked
			coupon.LockExpiresAt = &expiresAt
			locked = coupon
			return nil
		})
	})

	metrics.Observe("lock", transitionOutcome(err))
	if err != nil {
		return nil, err
	}
	return locked, nil
}

// Unlock releases a redemption lock, reverting the coupon to ASSIGNED.
// Unlocking an already-expired lock succeeds: the coupon is logically
// ASSIGNED either way, the call just makes it physical.
// Returns:
//   - ErrCouponNotFound if the code doesn't exist
//   - ErrNotOwner if the caller is not the assigned user
//   - ErrInvalidState (with current state) when the coupon is not LOCKED
func (s *RedemptionService) Unlock(ctx context.Context, code, userID string) (*model.Coupon, error) {
	var unlocked *model.Coupon

	err := withRetry(ctx, s.maxRetries, func() error {
		return withTx(ctx, s.pool, func(tx pgx.Tx) error {
			coupon, err := s.couponRepo.GetForUpdate(ctx, tx, code)
			if err != nil {
				return err
			}

			if coupon.State != model.StateLocked {
				return NewStateError(ErrInvalidState, coupon.State)
			}
			if !coupon.OwnedBy(userID) {
				return ErrNotOwner
			}

			if err := s.couponRepo.ClearLock(ctx, tx, code); err != nil {
				return err
			}

			coupon.State = model.StateAssigned
			coupon.LockExpiresAt = nil
			unlocked = coupon
			return nil
		})
	})

	metrics.Observe("unlock", transitionOutcome(err))
	if err != nil {
		return nil, err
	}
	return unlocked, nil
}

// Redeem consumes a LOCKED, unexpired coupon and appends its redemption
// record, all in one transaction. An expired lock is reverted to
// ASSIGNED (that revert commits) and the call fails with ErrLockExpired:
// the caller must explicitly lock again, redemption never auto-relocks.
// Returns:
//   - ErrCouponNotFound if the code doesn't exist
//   - ErrNotOwner if the caller is not the assigned user
//   - ErrLockExpired if the lock timed out
//   - ErrInvalidState (with current state) for any other state
func (s *RedemptionService) Redeem(ctx context.Context, code, userID string, metadata json.RawMessage) (*model.Coupon, *model.Redemption, error) {
	var (
		redeemed *model.Coupon
		record   *model.Redemption
		deferred error // reported after the expiry revert commits
	)

	err := withRetry(ctx, s.maxRetries, func() error {
		deferred = nil
		return withTx(ctx, s.pool, func(tx pgx.Tx) error {
			coupon, err := s.couponRepo.GetForUpdate(ctx, tx, code)
			if err != nil {
				return err
			}

			now := s.now()
			if coupon.LockExpired(now) {
				// The revert must land even though the redeem is
				// rejected, so it commits and the error is deferred.
				if err := s.couponRepo.ClearLock(ctx, tx, code); err != nil {
					return err
				}
				if !coupon.OwnedBy(userID) {
					deferred = ErrNotOwner
				} else {
					deferred = NewStateError(ErrLockExpired, model.StateAssigned)
				}
				return nil
			}

			if coupon.State != model.StateLocked {
				return NewStateError(ErrInvalidState, coupon.State)
			}
			if !coupon.OwnedBy(userID) {
				return ErrNotOwner
			}

			if err := s.couponRepo.MarkRedeemed(ctx, tx, code, now); err != nil {
				return err
			}

			rec := &model.Redemption{
				ID:         uuid.NewString(),
				Code:       coupon.Code,
				BookID:     coupon.BookID,
				UserID:     userID,
				RedeemedAt: now,
				Metadata:   metadata,
			}
			if err := s.redemptions.Insert(ctx, tx, rec); err != nil {
				return err
			}

			coupon.State = model.StateRedeemed
			coupon.LockExpiresAt = nil
			coupon.RedeemedAt = &now
			redeemed = coupon
			record = rec
			return nil
		})
	})
	if err == nil {
		err = deferred
	}

	metrics.Observe("redeem", transitionOutcome(err))
	if err != nil {
		return nil, nil, err
	}
	return redeemed, record, nil
}

func transitionOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrNotOwner):
		return metrics.OutcomeForbidden
	case errors.Is(err, ErrLockExpired):
		return metrics.OutcomeExpired
	case errors.Is(err, ErrInvalidState):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrCouponNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrContention):
		return metrics.OutcomeContention
	default:
		return metrics.OutcomeError
	}
}
