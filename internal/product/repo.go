// Package product provides the stock store the order engine uses to read and
// decrement product and variant inventory.
package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("product not found")
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so the same store can run
// inside a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type StockStore interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetVariant(ctx context.Context, id string) (*Variant, error)
	// DecrementStock subtracts qty clamped at zero and returns the new stock.
	DecrementStock(ctx context.Context, productID string, qty int) (int, error)
	DecrementVariantStock(ctx context.Context, variantID string, qty int) (int, error)
}

type PGRepo struct{ db Querier }

func NewPGRepo(db Querier) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Product, error) {
	var (
		p     Product
		price string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id::text, name, price::text, stock
		FROM products WHERE id=$1
	`, id).Scan(&p.ID, &p.Name, &price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PGRepo) GetVariant(ctx context.Context, id string) (*Variant, error) {
	var v Variant
	err := r.db.QueryRow(ctx, `
		SELECT id::text, product_id::text, size, stock
		FROM product_variants WHERE id=$1
	`, id).Scan(&v.ID, &v.ProductID, &v.Size, &v.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: variant %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// The clamp is evaluated by Postgres in one statement, so concurrent
// decrements of the same row serialise on its row lock.
func (r *PGRepo) DecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	var stock int
	err := r.db.QueryRow(ctx, `
		UPDATE products
		SET stock = GREATEST(stock - $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING stock
	`, productID, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return stock, err
}

func (r *PGRepo) DecrementVariantStock(ctx context.Context, variantID string, qty int) (int, error) {
	var stock int
	err := r.db.QueryRow(ctx, `
		UPDATE product_variants
		SET stock = GREATEST(stock - $2, 0)
		WHERE id = $1
		RETURNING stock
	`, variantID, qty).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: variant %s", ErrNotFound, variantID)
	}
	return stock, err
}
