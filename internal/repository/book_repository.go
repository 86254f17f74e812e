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

// BookRepository provides data access for coupon books using pgx.
type BookRepository struct {
	pool PoolInterface
}

// NewBookRepository creates a new BookRepository with the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// NewBookRepositoryWithPool creates a BookRepository with a custom pool
// interface. This is primarily used for testing.
func NewBookRepositoryWithPool(pool PoolInterface) *BookRepository {
	return &BookRepository{pool: pool}
}

// Insert inserts a new book.
func (r *BookRepository) Insert(ctx context.Context, book *model.Book) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO books (book_id, name, description, owner_id, code_length, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		book.ID, book.Name, book.Description, book.OwnerID, book.CodeLength, book.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// GetByID retrieves a book by its identifier.
// Returns nil, nil if the book is not found (service layer handles this).
func (r *BookRepository) GetByID(ctx context.Context, id string) (*model.Book, error) {
	query := `SELECT book_id, name, description, owner_id, code_length, code_count, created_at
		FROM books WHERE book_id = $1`

	var book model.Book
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&book.ID,
		&book.Name,
		&book.Description,
		&book.OwnerID,
		&book.CodeLength,
		&book.CodeCount,
		&book.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return &book, nil
}

// Exists reports whether a book with the given id exists, checked inside
// the caller's transaction.
func (r *BookRepository) Exists(ctx context.Context, tx database.TxQuerier, id string) (bool, error) {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM books WHERE book_id = $1`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check book %s: %w", id, err)
	}
	return true, nil
}

// CodeCountForUpdate reads the book's code counter under a row lock, so
// concurrent code batches to the same book serialize and position values
// never collide. Returns service.ErrBookNotFound if the book is gone.
func (r *BookRepository) CodeCountForUpdate(ctx context.Context, tx database.TxQuerier, id string) (int, error) {
	var count int
	err := tx.QueryRow(ctx,
		`SELECT code_count FROM books WHERE book_id = $1 FOR UPDATE`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, service.ErrBookNotFound
		}
		return 0, fmt.Errorf("lock book %s: %w", id, err)
	}
	return count, nil
}

// List returns a page of books, optionally filtered by owner.
func (r *BookRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Book, error) {
	query := `SELECT book_id, name, description, owner_id, code_length, code_count, created_at
		FROM books
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	books := []model.Book{}
	for rows.Next() {
		var book model.Book
		err := rows.Scan(
			&book.ID,
			&book.Name,
			&book.Description,
			&book.OwnerID,
			&book.CodeLength,
			&book.CodeCount,
			&book.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan book row: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book rows: %w", err)
	}
	return books, nil
}

// AddCodeCount bumps the book's code counter after a successful
// generate or upload batch.
func (r *BookRepository) AddCodeCount(ctx context.Context, tx database.TxQuerier, id string, n int) error {
	_, err := tx.Exec(ctx,
		`UPDATE books SET code_count = code_count + $1 WHERE book_id = $2`, n, id)
	if err != nil {
		return fmt.Errorf("bump code count for book %s: %w", id, err)
	}
	return nil
}

// Delete removes a book; contained coupons go with it via ON DELETE
// CASCADE. Callers must have verified no outstanding locks/redemptions.
// Returns service.ErrBookNotFound if the book doesn't exist.
func (r *BookRepository) Delete(ctx context.Context, tx database.TxQuerier, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM books WHERE book_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete book %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrBookNotFound
	}
	return nil
}
