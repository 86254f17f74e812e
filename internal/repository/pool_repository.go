package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/model"
	"coupon-book-service/internal/service"
	"coupon-book-service/pkg/database"
)

// PoolRepository provides data access for user pools using pgx.
type PoolRepository struct {
	pool PoolInterface
}

// NewPoolRepository creates a new PoolRepository with the given pool.
func NewPoolRepository(pool *pgxpool.Pool) *PoolRepository {
	return &PoolRepository{pool: pool}
}

// NewPoolRepositoryWithPool creates a PoolRepository with a custom pool
// interface. This is primarily used for testing.
func NewPoolRepositoryWithPool(pool PoolInterface) *PoolRepository {
	return &PoolRepository{pool: pool}
}

const poolColumns = `pool_id, name, created_by, is_active, created_at, updated_at`

func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	err := row.Scan(&p.ID, &p.Name, &p.CreatedBy, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Insert inserts a new pool row.
func (r *PoolRepository) Insert(ctx context.Context, tx database.TxQuerier, pool *model.Pool) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO user_pools (pool_id, name, created_by, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		pool.ID, pool.Name, pool.CreatedBy, pool.Active, pool.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// GetByID retrieves a pool by its identifier.
// Returns nil, nil if the pool is not found (service layer handles this).
func (r *PoolRepository) GetByID(ctx context.Context, id string) (*model.Pool, error) {
	pool, err := scanPool(r.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM user_pools WHERE pool_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return pool, nil
}

// ListActive returns all pools whose active flag is set.
func (r *PoolRepository) ListActive(ctx context.Context) ([]model.Pool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM user_pools WHERE is_active ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active pools: %w", err)
	}
	defer rows.Close()

	pools := []model.Pool{}
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}
	return pools, nil
}

// Update applies a rename and/or active toggle.
// Returns service.ErrPoolNotFound if the pool doesn't exist.
func (r *PoolRepository) Update(ctx context.Context, id string, name *string, active *bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE user_pools SET
			name = COALESCE($2, name),
			is_active = COALESCE($3, is_active),
			updated_at = now()
		 WHERE pool_id = $1`,
		id, name, active)
	if err != nil {
		return fmt.Errorf("update pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrPoolNotFound
	}
	return nil
}

// Delete removes a pool and its membership rows (cascade). Coupons
// distributed through the pool are untouched; they carry no back-reference.
// Returns service.ErrPoolNotFound if the pool doesn't exist.
func (r *PoolRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_pools WHERE pool_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrPoolNotFound
	}
	return nil
}

// AddMembers unions userIDs into the membership set. Already-present
// members are skipped, making the call idempotent.
func (r *PoolRepository) AddMembers(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
	for _, userID := range userIDs {
		_, err := tx.Exec(ctx,
			`INSERT INTO pool_users (pool_id, user_id) VALUES ($1, $2)
			 ON CONFLICT (pool_id, user_id) DO NOTHING`,
			poolID, userID)
		if err != nil {
			return fmt.Errorf("add member %s to pool %s: %w", userID, poolID, err)
		}
	}
	return nil
}

// RemoveMembers subtracts userIDs from the membership set. Absent
// members are ignored, making the call idempotent.
func (r *PoolRepository) RemoveMembers(ctx context.Context, tx database.TxQuerier, poolID string, userIDs []string) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM pool_users WHERE pool_id = $1 AND user_id = ANY($2)`,
		poolID, userIDs)
	if err != nil {
		return fmt.Errorf("remove members from pool %s: %w", poolID, err)
	}
	return nil
}

// Members returns the pool's membership in a stable order (join time,
// then user id). Bulk distribution relies on this order for its even
// mode chunking.
func (r *PoolRepository) Members(ctx context.Context, q database.TxQuerier, poolID string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT user_id FROM pool_users WHERE pool_id = $1 ORDER BY added_at, user_id`,
		poolID)
	if err != nil {
		return nil, fmt.Errorf("list members of pool %s: %w", poolID, err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan pool member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool members: %w", err)
	}
	return members, nil
}
