package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/model"
	"coupon-book-service/internal/service"
	"coupon-book-service/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const couponColumns = `code, book_id, state, assigned_user_id, lock_expires_at, redeemed_at, position, created_at, updated_at`

// CouponRepository provides data access for coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom
// pool interface. This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(
		&c.Code,
		&c.BookID,
		&c.State,
		&c.AssignedUserID,
		&c.LockExpiresAt,
		&c.RedeemedAt,
		&c.Position,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertBatch inserts codes as UNASSIGNED coupons, preserving input order
// through the position column. Returns service.ErrDuplicateCode if any
// code already exists.
func (r *CouponRepository) InsertBatch(ctx context.Context, tx database.TxQuerier, bookID string, codes []string, startPos int) error {
	for i, code := range codes {
		_, err := tx.Exec(ctx,
			`INSERT INTO coupons (code, book_id, state, position) VALUES ($1, $2, $3, $4)`,
			code, bookID, model.StateUnassigned, startPos+i)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("code %s: %w", code, service.ErrDuplicateCode)
			}
			return fmt.Errorf("insert coupon %s: %w", code, err)
		}
	}
	return nil
}

// GetByCode retrieves a coupon by its code.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	coupon, err := scanCoupon(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get coupon %s: %w", code, err)
	}
	return coupon, nil
}

// GetForUpdate retrieves a coupon with a row lock (SELECT FOR UPDATE).
// The row stays locked until the transaction completes, which is what
// serializes all transitions on the same code.
// Returns service.ErrCouponNotFound if the coupon doesn't exist.
func (r *CouponRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`

	coupon, err := scanCoupon(tx.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon for update %s: %w", code, err)
	}
	return coupon, nil
}

// LockByBook takes row locks on every coupon of the book, blocking until
// in-flight transitions on those rows commit or abort. Book deletion
// pins the rows first so its outstanding check cannot race a concurrent
// lock or redeem.
func (r *CouponRepository) LockByBook(ctx context.Context, tx database.TxQuerier, bookID string) error {
	_, err := tx.Exec(ctx, `SELECT code FROM coupons WHERE book_id = $1 FOR UPDATE`, bookID)
	if err != nil {
		return fmt.Errorf("lock coupons in book %s: %w", bookID, err)
	}
	return nil
}

// ExistingCodes returns the set of codes already present in a book,
// used to collision-check generated candidates.
func (r *CouponRepository) ExistingCodes(ctx context.Context, bookID string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM coupons WHERE book_id = $1`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list codes for book %s: %w", bookID, err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		existing[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}
	return existing, nil
}

// PickRandomUnassigned claims one UNASSIGNED coupon of the book uniformly
// at random, skipping rows other transactions already hold, and returns
// its code. Returns "" when no claimable coupon remains.
func (r *CouponRepository) PickRandomUnassigned(ctx context.Context, tx database.TxQuerier, bookID string) (string, error) {
	query := `SELECT code FROM coupons
		WHERE book_id = $1 AND state = $2
		ORDER BY random() LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var code string
	err := tx.QueryRow(ctx, query, bookID, model.StateUnassigned).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("pick random unassigned in book %s: %w", bookID, err)
	}
	return code, nil
}

// SelectUnassignedForUpdate locks and returns up to limit UNASSIGNED
// codes of the book. With ordered=true the codes come back in
// lexicographic order under a blocking FOR UPDATE, keeping even
// distribution deterministic; otherwise they come back shuffled under
// SKIP LOCKED so concurrent claimants are never blocked on.
func (r *CouponRepository) SelectUnassignedForUpdate(ctx context.Context, tx database.TxQuerier, bookID string, limit int, ordered bool) ([]string, error) {
	query := `SELECT code FROM coupons
		WHERE book_id = $1 AND state = $2
		ORDER BY random() LIMIT $3
		FOR UPDATE SKIP LOCKED`
	if ordered {
		query = `SELECT code FROM coupons
			WHERE book_id = $1 AND state = $2
			ORDER BY code LIMIT $3
			FOR UPDATE`
	}

	rows, err := tx.Query(ctx, query, bookID, model.StateUnassigned, limit)
	if err != nil {
		return nil, fmt.Errorf("select unassigned in book %s: %w", bookID, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan unassigned code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unassigned codes: %w", err)
	}
	return codes, nil
}

// MarkAssigned transitions a coupon UNASSIGNED -> ASSIGNED. The state
// predicate in the WHERE clause keeps the write conditional even though
// callers validate under a row lock first; zero rows affected maps to
// service.ErrAlreadyAssigned.
func (r *CouponRepository) MarkAssigned(ctx context.Context, tx database.TxQuerier, code, userID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE coupons SET state = $1, assigned_user_id = $2, updated_at = now()
		 WHERE code = $3 AND state = $4`,
		model.StateAssigned, userID, code, model.StateUnassigned)
	if err != nil {
		return fmt.Errorf("assign coupon %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrAlreadyAssigned
	}
	return nil
}

// MarkAssignedBatch assigns all given codes to one user. Callers must
// hold row locks on every code in the same transaction.
func (r *CouponRepository) MarkAssignedBatch(ctx context.Context, tx database.TxQuerier, codes []string, userID string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE coupons SET state = $1, assigned_user_id = $2, updated_at = now()
		 WHERE code = ANY($3) AND state = $4`,
		model.StateAssigned, userID, codes, model.StateUnassigned)
	if err != nil {
		return fmt.Errorf("assign coupon batch: %w", err)
	}
	if int(tag.RowsAffected()) != len(codes) {
		return fmt.Errorf("assign coupon batch: expected %d rows, got %d: %w",
			len(codes), tag.RowsAffected(), service.ErrAlreadyAssigned)
	}
	return nil
}

// MarkLocked transitions a coupon ASSIGNED -> LOCKED with the given expiry.
func (r *CouponRepository) MarkLocked(ctx context.Context, tx database.TxQuerier, code string, expiresAt time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupons SET state = $1, lock_expires_at = $2, updated_at = now() WHERE code = $3`,
		model.StateLocked, expiresAt, code)
	if err != nil {
		return fmt.Errorf("lock coupon %s: %w", code, err)
	}
	return nil
}

// ClearLock reverts a coupon LOCKED -> ASSIGNED and clears the expiry.
// Used both for explicit unlock and for lazy expiry.
func (r *CouponRepository) ClearLock(ctx context.Context, tx database.TxQuerier, code string) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupons SET state = $1, lock_expires_at = NULL, updated_at = now() WHERE code = $2`,
		model.StateAssigned, code)
	if err != nil {
		return fmt.Errorf("clear lock on coupon %s: %w", code, err)
	}
	return nil
}

// MarkRedeemed transitions a coupon LOCKED -> REDEEMED.
func (r *CouponRepository) MarkRedeemed(ctx context.Context, tx database.TxQuerier, code string, at time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupons SET state = $1, lock_expires_at = NULL, redeemed_at = $2, updated_at = now() WHERE code = $3`,
		model.StateRedeemed, at, code)
	if err != nil {
		return fmt.Errorf("redeem coupon %s: %w", code, err)
	}
	return nil
}

// CountUnassigned returns the number of UNASSIGNED coupons in a book.
func (r *CouponRepository) CountUnassigned(ctx context.Context, q database.TxQuerier, bookID string) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupons WHERE book_id = $1 AND state = $2`,
		bookID, model.StateUnassigned).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unassigned in book %s: %w", bookID, err)
	}
	return count, nil
}

// CountOutstanding returns how many coupons of a book are LOCKED or
// REDEEMED, which is what blocks book deletion.
func (r *CouponRepository) CountOutstanding(ctx context.Context, tx database.TxQuerier, bookID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupons WHERE book_id = $1 AND state = ANY($2)`,
		bookID, []model.CouponState{model.StateLocked, model.StateRedeemed}).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count outstanding in book %s: %w", bookID, err)
	}
	return count, nil
}

// ListByBook returns a page of a book's coupons in upload/generation
// order (position, then code for stability).
func (r *CouponRepository) ListByBook(ctx context.Context, bookID string, limit, offset int) ([]model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons
		WHERE book_id = $1 ORDER BY position, code LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, bookID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list coupons for book %s: %w", bookID, err)
	}
	defer rows.Close()

	coupons := []model.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon row: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coupon rows: %w", err)
	}
	return coupons, nil
}

// RevertExpiredLocks physically reverts every LOCKED coupon whose expiry
// has passed. Only the sweeper calls this; the transition path handles
// expiry lazily on its own.
func (r *CouponRepository) RevertExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET state = $1, lock_expires_at = NULL, updated_at = now()
		 WHERE state = $2 AND lock_expires_at < $3`,
		model.StateAssigned, model.StateLocked, now)
	if err != nil {
		return 0, fmt.Errorf("revert expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
