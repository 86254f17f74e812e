package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coupon-book-service/internal/model"
	"coupon-book-service/pkg/database"
)

// RedemptionRepository provides access to the append-only redemption
// audit trail. Rows are inserted exactly once and never mutated.
type RedemptionRepository struct {
	pool PoolInterface
}

// NewRedemptionRepository creates a new RedemptionRepository with the given pool.
func NewRedemptionRepository(pool *pgxpool.Pool) *RedemptionRepository {
	return &RedemptionRepository{pool: pool}
}

// NewRedemptionRepositoryWithPool creates a RedemptionRepository with a
// custom pool interface. This is primarily used for testing.
func NewRedemptionRepositoryWithPool(pool PoolInterface) *RedemptionRepository {
	return &RedemptionRepository{pool: pool}
}

// Insert appends a redemption record inside the redeeming transaction,
// so the record and the state write commit as one unit.
func (r *RedemptionRepository) Insert(ctx context.Context, tx database.TxQuerier, rec *model.Redemption) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO redemptions (redemption_id, code, book_id, user_id, redeemed_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Code, rec.BookID, rec.UserID, rec.RedeemedAt, rec.Metadata)
	if err != nil {
		return fmt.Errorf("insert redemption for %s: %w", rec.Code, err)
	}
	return nil
}

const redemptionColumns = `redemption_id, code, book_id, user_id, redeemed_at, metadata`

func scanRedemption(row pgx.Row) (*model.Redemption, error) {
	var rec model.Redemption
	err := row.Scan(&rec.ID, &rec.Code, &rec.BookID, &rec.UserID, &rec.RedeemedAt, &rec.Metadata)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByBook returns a page of a book's redemption history, newest first.
func (r *RedemptionRepository) ListByBook(ctx context.Context, bookID string, limit, offset int) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+redemptionColumns+` FROM redemptions
		 WHERE book_id = $1 ORDER BY redeemed_at DESC LIMIT $2 OFFSET $3`,
		bookID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list redemptions for book %s: %w", bookID, err)
	}
	defer rows.Close()

	records := []model.Redemption{}
	for rows.Next() {
		rec, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemption rows: %w", err)
	}
	return records, nil
}
