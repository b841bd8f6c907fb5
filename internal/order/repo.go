package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/tienda-ordenes/internal/inventory"
	"github.com/MikeMC777/tienda-ordenes/internal/outbox"
	"github.com/MikeMC777/tienda-ordenes/internal/product"
)

const defaultTxTimeout = 5 * time.Second

type Repository interface {
	// CreateOrderWithItems persists o and items as one unit. When the owner of
	// o already used idempotencyKey it returns the order created by the first
	// call and replayed=true. Keys are scoped per owner, see idempotencyOwner.
	CreateOrderWithItems(ctx context.Context, o *Order, items []Item, idempotencyKey string) (created *Order, replayed bool, err error)
	GetByID(ctx context.Context, id string) (*Order, error)
	GetWithItems(ctx context.Context, id string) (*OrderWithItems, error)
	List(ctx context.Context, f ListFilter) ([]OrderWithProfile, error)
	// Transition moves the order from -> to only if it is still in from.
	// Moving to delivered adjusts stock in the same unit of work.
	Transition(ctx context.Context, id string, from, to Status) (*Order, error)
}

type PGRepo struct {
	db          *pgxpool.Pool
	adjuster    *inventory.Adjuster
	eventsTopic string
	txTimeout   time.Duration
}

func NewPGRepo(db *pgxpool.Pool, adjuster *inventory.Adjuster, eventsTopic string, txTimeout time.Duration) *PGRepo {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &PGRepo{db: db, adjuster: adjuster, eventsTopic: eventsTopic, txTimeout: txTimeout}
}

func orderColumns(alias string) string {
	cols := []string{
		"id::text", "user_id::text", "status", "total_amount::text", "shipping_address", "shipping_method",
		"agency_address", "payment_method", "whatsapp_number", "customer_first_name",
		"customer_last_name", "customer_phone", "customer_email", "customer_dni", "order_notes",
		"stock_adjusted_at", "created_at", "updated_at",
	}
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func orderDest(o *Order, total *string) []any {
	return []any{
		&o.ID, &o.UserID, &o.Status, total, &o.ShippingAddress, &o.ShippingMethod,
		&o.AgencyAddress, &o.PaymentMethod, &o.WhatsappNumber, &o.CustomerFirstName,
		&o.CustomerLastName, &o.CustomerPhone, &o.CustomerEmail, &o.CustomerDNI, &o.OrderNotes,
		&o.StockAdjustedAt, &o.CreatedAt, &o.UpdatedAt,
	}
}

func scanOrder(row pgx.Row, extra ...any) (*Order, error) {
	var (
		o     Order
		total string
	)
	if err := row.Scan(append(orderDest(&o, &total), extra...)...); err != nil {
		return nil, err
	}
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PGRepo) CreateOrderWithItems(ctx context.Context, o *Order, items []Item, idempotencyKey string) (*Order, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	if idempotencyKey != "" {
		if existing, err := r.byIdempotencyKey(ctx, idempotencyOwner(o), idempotencyKey); err == nil {
			return existing, true, nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, persistence("lookup idempotency key", err)
		}
	}

	created, err := r.createTx(ctx, o, items, idempotencyKey)
	if err != nil {
		if idempotencyKey != "" && isUniqueViolation(err, "order_idempotency_pkey") {
			existing, qerr := r.byIdempotencyKey(ctx, idempotencyOwner(o), idempotencyKey)
			if qerr != nil {
				return nil, false, persistence("lookup idempotency key", qerr)
			}
			return existing, true, nil
		}
		return nil, false, mapStoreError("create order", err)
	}
	return created, false, nil
}

func (r *PGRepo) createTx(ctx context.Context, o *Order, items []Item, idempotencyKey string) (*Order, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	products := product.NewPGRepo(tx)
	for _, it := range items {
		if _, err := products.GetByID(ctx, it.ProductID); err != nil {
			return nil, err
		}
		if it.VariantID == nil {
			continue
		}
		v, err := products.GetVariant(ctx, *it.VariantID)
		if err != nil {
			return nil, err
		}
		if v.ProductID != it.ProductID {
			return nil, validationf("variant %s does not belong to product %s", v.ID, it.ProductID)
		}
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, status, total_amount, shipping_address, shipping_method,
			agency_address, payment_method, whatsapp_number, customer_first_name, customer_last_name,
			customer_phone, customer_email, customer_dni, order_notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())
		RETURNING created_at, updated_at
	`, o.ID, o.UserID, o.Status, o.TotalAmount.String(), o.ShippingAddress, o.ShippingMethod,
		o.AgencyAddress, o.PaymentMethod, o.WhatsappNumber, o.CustomerFirstName, o.CustomerLastName,
		o.CustomerPhone, o.CustomerEmail, o.CustomerDNI, o.OrderNotes,
	).Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}

	for i, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, variant_id, quantity, price)
			VALUES ($1,$2,$3,$4,$5,$6,$7::numeric)
		`, it.ID, o.ID, i, it.ProductID, it.VariantID, it.Quantity, it.Price.String()); err != nil {
			return nil, err
		}
	}

	if idempotencyKey != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_idempotency (owner, idempotency_key, order_id) VALUES ($1, $2, $3)
		`, idempotencyOwner(o), idempotencyKey, o.ID); err != nil {
			return nil, err
		}
	}

	ev := outbox.NewEvent(o.ID, outbox.EventOrderCreated, map[string]any{
		"status":       o.Status,
		"total_amount": o.TotalAmount.StringFixed(2),
		"guest":        o.Guest(),
		"items":        len(items),
	})
	if err := outbox.Insert(ctx, tx, r.eventsTopic, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGRepo) byIdempotencyKey(ctx context.Context, owner, key string) (*Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderColumns("o")+`
		FROM order_idempotency k JOIN orders o ON o.id = k.order_id
		WHERE k.owner = $1 AND k.idempotency_key = $2
	`, owner, key))
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns("")+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundf("order %s", id)
	}
	if err != nil {
		return nil, persistence("get order", err)
	}
	return o, nil
}

func (r *PGRepo) GetWithItems(ctx context.Context, id string) (*OrderWithItems, error) {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	var pr profileCols
	o, err := scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderColumns("o")+`, pr.full_name, pr.email, pr.phone
		FROM orders o LEFT JOIN profiles pr ON pr.id = o.user_id
		WHERE o.id=$1
	`, id), &pr.FullName, &pr.Email, &pr.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundf("order %s", id)
	}
	if err != nil {
		return nil, persistence("get order", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT oi.id::text, oi.order_id::text, oi.product_id::text, oi.variant_id::text, oi.quantity, oi.price::text,
		       COALESCE(p.name, ''), COALESCE(p.price, 0)::text, pv.size, pv.stock
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		LEFT JOIN product_variants pv ON pv.id = oi.variant_id
		WHERE oi.order_id = $1
		ORDER BY oi.position
	`, id)
	if err != nil {
		return nil, persistence("get order items", err)
	}
	defer rows.Close()

	out := &OrderWithItems{Order: *o, Profile: pr.profile(), Items: []ItemDetail{}}
	for rows.Next() {
		var (
			d                   ItemDetail
			price, productPrice string
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &d.ProductID, &d.VariantID, &d.Quantity, &price,
			&d.ProductName, &productPrice, &d.VariantSize, &d.VariantStock); err != nil {
			return nil, persistence("scan order item", err)
		}
		if d.Price, err = decimal.NewFromString(price); err != nil {
			return nil, persistence("scan order item", err)
		}
		if d.ProductPrice, err = decimal.NewFromString(productPrice); err != nil {
			return nil, persistence("scan order item", err)
		}
		out.Items = append(out.Items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("get order items", err)
	}
	return out, nil
}

func (r *PGRepo) List(ctx context.Context, f ListFilter) ([]OrderWithProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	limit, offset := pageBounds(f.Limit, f.Offset)
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns("o")+`, pr.full_name, pr.email, pr.phone
		FROM orders o LEFT JOIN profiles pr ON pr.id = o.user_id
		WHERE ($1::uuid IS NULL OR o.user_id = $1::uuid)
		  AND ($2::text IS NULL OR o.status = $2::text)
		ORDER BY o.created_at DESC, o.id
		LIMIT $3 OFFSET $4
	`, f.UserID, f.Status, limit, offset)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	defer rows.Close()

	out := []OrderWithProfile{}
	for rows.Next() {
		var pr profileCols
		o, err := scanOrder(rows, &pr.FullName, &pr.Email, &pr.Phone)
		if err != nil {
			return nil, persistence("scan order", err)
		}
		out = append(out, OrderWithProfile{Order: *o, Profile: pr.profile()})
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list orders", err)
	}
	return out, nil
}

func (r *PGRepo) Transition(ctx context.Context, id string, from, to Status) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	o, err := r.transitionTx(ctx, id, from, to)
	if err != nil {
		return nil, mapStoreError("transition order", err)
	}
	return o, nil
}

func (r *PGRepo) transitionTx(ctx context.Context, id string, from, to Status) (*Order, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The status precondition makes a concurrent transition that committed
	// first turn this update into a no-op.
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns(""), id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		var current Status
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFoundf("order %s", id)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order %s is %s, not %s", ErrInvalidTransition, id, current, from)
	}
	if err != nil {
		return nil, err
	}

	if to == StatusDelivered {
		if err := r.adjustStock(ctx, tx, o); err != nil {
			return nil, err
		}
	}

	ev := outbox.NewEvent(o.ID, outbox.EventOrderStatusChanged, map[string]any{
		"from": from,
		"to":   to,
	})
	if err := outbox.Insert(ctx, tx, r.eventsTopic, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGRepo) adjustStock(ctx context.Context, tx pgx.Tx, o *Order) error {
	rows, err := tx.Query(ctx, `
		SELECT product_id::text, variant_id::text, quantity FROM order_items WHERE order_id=$1 ORDER BY position
	`, o.ID)
	if err != nil {
		return err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.Line, error) {
		var (
			l       inventory.Line
			variant *string
		)
		err := row.Scan(&l.ProductID, &variant, &l.Quantity)
		if variant != nil {
			l.VariantID = *variant
		}
		return l, err
	})
	if err != nil {
		return err
	}

	res, err := r.adjuster.AdjustForDelivery(ctx, pgLedger{tx: tx}, product.NewPGRepo(tx), o.ID, lines)
	if err != nil {
		return err
	}
	if res.Skipped {
		return nil
	}
	return tx.QueryRow(ctx, `
		UPDATE orders SET stock_adjusted_at = NOW() WHERE id=$1 RETURNING stock_adjusted_at
	`, o.ID).Scan(&o.StockAdjustedAt)
}

type pgLedger struct{ tx pgx.Tx }

func (l pgLedger) Claim(ctx context.Context, orderID string) (bool, error) {
	tag, err := l.tx.Exec(ctx, `
		INSERT INTO stock_adjustments (order_id) VALUES ($1)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type profileCols struct {
	FullName, Email, Phone *string
}

func (p profileCols) profile() *Profile {
	if p.FullName == nil && p.Email == nil {
		return nil
	}
	out := &Profile{}
	if p.FullName != nil {
		out.FullName = *p.FullName
	}
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.Phone != nil {
		out.Phone = *p.Phone
	}
	return out
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// mapStoreError translates product and Postgres errors into the order taxonomy.
func mapStoreError(op string, err error) error {
	if errors.Is(err, product.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Detail)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.Message)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.ConstraintName)
		}
	}
	return persistence(op, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}
