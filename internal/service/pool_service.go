package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// PoolRepositoryInterface defines the interface for pool registry data
// access.
type PoolRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, pool *model.Pool) error
	GetByID(ctx context.Context, id string) (*model.Pool, error)
	ListActive(ctx context.Context) ([]model.Pool, error)
	Update(ctx context.Context, id string, name *string, active *bool) error
	Delete(ctx context.Context, id string) error
	AddMembers(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error
	RemoveMembers(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error
	Members(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error)
}

// PoolService provides business logic for the pool registry.
type PoolService struct {
	pool     TxBeginner
	querier  database.TxQuerier
	poolRepo PoolRepositoryInterface
}

// NewPoolService creates a PoolService with the given pool and repository.
func NewPoolService(pool *pgxpool.Pool, poolRepo PoolRepositoryInterface) *PoolService {
	return &PoolService{pool: pool, querier: pool, poolRepo: poolRepo}
}

// NewPoolServiceWithTxBeginner creates a PoolService with custom pool
// interfaces. Primarily used for testing.
func NewPoolServiceWithTxBeginner(pool TxBeginner, querier database.TxQuerier, poolRepo PoolRepositoryInterface) *PoolService {
	return &PoolService{pool: pool, querier: querier, poolRepo: poolRepo}
}

// Create creates a new pool, optionally with an initial member set.
// Returns ErrInvalidRequest if request data is nil.
func (s *PoolService) Create(ctx context.Context, req *model.CreatePoolRequest) (*model.PoolDetail, error) {
	// Defense-in-depth: check for nil pointer even though handler validates
	if req == nil {
		return nil, ErrInvalidRequest
	}

	pool := &model.Pool{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedBy: req.CreatedBy,
		Active:    true,
		CreatedAt: time.Now(),
	}
	pool.UpdatedAt = pool.CreatedAt

	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.poolRepo.Insert(ctx, tx, pool); err != nil {
			return err
		}
		if len(req.UserIDs) > 0 {
			return s.poolRepo.AddMembers(ctx, tx, pool.ID, req.UserIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.detail(ctx, pool)
}

// Get retrieves a pool with its membership snapshot.
// Returns ErrPoolNotFound if the pool doesn't exist.
func (s *PoolService) Get(ctx context.Context, id string) (*model.PoolDetail, error) {
	pool, err := s.poolRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return s.detail(ctx, pool)
}

// ListActive returns all pools whose active flag is set.
func (s *PoolService) ListActive(ctx context.Context) ([]model.Pool, error) {
	return s.poolRepo.ListActive(ctx)
}

// Update renames and/or (de)activates a pool.
// Returns ErrPoolNotFound if the pool doesn't exist.
func (s *PoolService) Update(ctx context.Context, id string, req *model.UpdatePoolRequest) (*model.PoolDetail, error) {
	if req == nil || (req.Name == nil && req.Active == nil) {
		return nil, ErrInvalidRequest
	}
	if err := s.poolRepo.Update(ctx, id, req.Name, req.Active); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a pool. Coupons already distributed through it are
// unaffected. Returns ErrPoolNotFound if the pool doesn't exist.
func (s *PoolService) Delete(ctx context.Context, id string) error {
	return s.poolRepo.Delete(ctx, id)
}

// AddUsers unions userIDs into the pool's membership; already-present
// users are skipped. Returns the updated membership snapshot.
// Returns ErrPoolNotFound if the pool doesn't exist.
func (s *PoolService) AddUsers(ctx context.Context, poolID string, userIDs []string) (*model.PoolDetail, error) {
	pool, err := s.poolRepo.GetByID(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}

	err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
		return s.poolRepo.AddMembers(ctx, tx, poolID, userIDs)
	})
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, pool)
}

// RemoveUsers subtracts userIDs from the pool's membership; absent users
// are ignored. Returns the updated membership snapshot.
// Returns ErrPoolNotFound if the pool doesn't exist.
func (s *PoolService) RemoveUsers(ctx context.Context, poolID string, userIDs []string) (*model.PoolDetail, error) {
	pool, err := s.poolRepo.GetByID(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}

	err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
		return s.poolRepo.RemoveMembers(ctx, tx, poolID, userIDs)
	})
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, pool)
}

func (s *PoolService) detail(ctx context.Context, pool *model.Pool) (*model.PoolDetail, error) {
	members, err := s.poolRepo.Members(ctx, s.querier, pool.ID)
	if err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	return &model.PoolDetail{Pool: *pool, UserIDs: members}, nil
}
