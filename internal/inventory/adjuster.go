// Package inventory applies the stock consequences of a delivered order.
package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
	"github.com/MikeMC777/tienda-ordenes/internal/product"
)

// Line is the part of an order item the adjustment needs.
type Line struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Ledger records which orders already had their stock adjusted. Claim returns
// false when orderID was claimed before. Implementations must make the claim
// part of the same unit of work as the stock writes.
type Ledger interface {
	Claim(ctx context.Context, orderID string) (bool, error)
}

type Result struct {
	OrderID  string
	Skipped  bool
	Products map[string]int
	Variants map[string]int
}

type Adjuster struct {
	log     *zap.Logger
	metrics *metrics.Collectors
}

func NewAdjuster(log *zap.Logger, m *metrics.Collectors) *Adjuster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adjuster{log: log, metrics: m}
}

// AdjustForDelivery decrements product stock, and variant stock for lines that
// name a variant, by each line quantity clamped at zero. It runs at most once
// per order: a second call for the same order is a no-op with Skipped set.
// A missing product or variant aborts with product.ErrNotFound; the caller
// must discard the unit of work.
func (a *Adjuster) AdjustForDelivery(ctx context.Context, ledger Ledger, store product.StockStore, orderID string, lines []Line) (Result, error) {
	res := Result{OrderID: orderID}

	claimed, err := ledger.Claim(ctx, orderID)
	if err != nil {
		return res, fmt.Errorf("claim stock adjustment for order %s: %w", orderID, err)
	}
	if !claimed {
		res.Skipped = true
		a.metrics.StockAdjusted("skipped")
		a.log.Info("stock already adjusted", zap.String("order_id", orderID))
		return res, nil
	}

	res.Products = make(map[string]int, len(lines))
	res.Variants = make(map[string]int)
	for _, l := range lines {
		stock, err := store.DecrementStock(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return res, fmt.Errorf("order %s: %w", orderID, err)
		}
		res.Products[l.ProductID] = stock

		if l.VariantID == "" {
			continue
		}
		vstock, err := store.DecrementVariantStock(ctx, l.VariantID, l.Quantity)
		if err != nil {
			return res, fmt.Errorf("order %s: %w", orderID, err)
		}
		res.Variants[l.VariantID] = vstock
	}

	a.metrics.StockAdjusted("applied")
	a.log.Info("stock adjusted",
		zap.String("order_id", orderID),
		zap.Int("lines", len(lines)),
	)
	return res, nil
}
