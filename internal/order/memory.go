package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MikeMC777/tienda-ordenes/internal/inventory"
	"github.com/MikeMC777/tienda-ordenes/internal/outbox"
	"github.com/MikeMC777/tienda-ordenes/internal/product"
)

// MemRepo is an in-memory Repository with the same atomicity guarantees as
// PGRepo: every method runs under one lock and restores its prior state on
// failure. Used by tests and STORE=memory.
type MemRepo struct {
	mu       sync.Mutex
	orders   map[string]*Order
	items    map[string][]Item
	idem     map[idemKey]string
	adjusted map[string]bool
	profiles map[string]Profile
	events   []outbox.Event

	stock    *product.MemStore
	adjuster *inventory.Adjuster
	now      func() time.Time

	// FailItemWrite, when set, is called before each item is stored; a non-nil
	// error aborts the create.
	FailItemWrite func(Item) error
}

func NewMemRepo(stock *product.MemStore, adjuster *inventory.Adjuster) *MemRepo {
	if adjuster == nil {
		adjuster = inventory.NewAdjuster(nil, nil)
	}
	return &MemRepo{
		orders:   make(map[string]*Order),
		items:    make(map[string][]Item),
		idem:     make(map[idemKey]string),
		adjusted: make(map[string]bool),
		profiles: make(map[string]Profile),
		stock:    stock,
		adjuster: adjuster,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemRepo) PutProfile(userID string, p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[userID] = p
}

// Events returns the outbox events recorded so far.
func (r *MemRepo) Events() []outbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outbox.Event(nil), r.events...)
}

func (r *MemRepo) CreateOrderWithItems(ctx context.Context, o *Order, items []Item, idempotencyKey string) (*Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, false, persistence("create order", err)
	}
	key := idemKey{owner: idempotencyOwner(o), key: idempotencyKey}
	if id, ok := r.idem[key]; ok && idempotencyKey != "" {
		cp := *r.orders[id]
		return &cp, true, nil
	}

	for _, it := range items {
		if _, err := r.stock.GetByID(ctx, it.ProductID); err != nil {
			return nil, false, mapStoreError("create order", err)
		}
		if it.VariantID == nil {
			continue
		}
		v, err := r.stock.GetVariant(ctx, *it.VariantID)
		if err != nil {
			return nil, false, mapStoreError("create order", err)
		}
		if v.ProductID != it.ProductID {
			return nil, false, validationf("variant %s does not belong to product %s", v.ID, it.ProductID)
		}
	}

	// Stage everything first; nothing becomes visible until all writes succeed.
	staged := make([]Item, 0, len(items))
	for _, it := range items {
		if r.FailItemWrite != nil {
			if err := r.FailItemWrite(it); err != nil {
				return nil, false, persistence("insert order item", err)
			}
		}
		it.OrderID = o.ID
		staged = append(staged, it)
	}

	now := r.now()
	cp := *o
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.orders[o.ID] = &cp
	r.items[o.ID] = staged
	if idempotencyKey != "" {
		r.idem[key] = o.ID
	}
	r.events = append(r.events, outbox.NewEvent(o.ID, outbox.EventOrderCreated, map[string]any{
		"status":       cp.Status,
		"total_amount": cp.TotalAmount.StringFixed(2),
		"guest":        cp.Guest(),
		"items":        len(staged),
	}))

	out := cp
	return &out, false, nil
}

func (r *MemRepo) GetByID(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, notFoundf("order %s", id)
	}
	cp := *o
	return &cp, nil
}

func (r *MemRepo) GetWithItems(ctx context.Context, id string) (*OrderWithItems, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, notFoundf("order %s", id)
	}
	out := &OrderWithItems{Order: *o, Profile: r.profileOf(o), Items: []ItemDetail{}}
	for _, it := range r.items[id] {
		d := ItemDetail{Item: it}
		if p, err := r.stock.GetByID(ctx, it.ProductID); err == nil {
			d.ProductName, d.ProductPrice = p.Name, p.Price
		}
		if it.VariantID != nil {
			if v, err := r.stock.GetVariant(ctx, *it.VariantID); err == nil {
				size, stock := v.Size, v.Stock
				d.VariantSize, d.VariantStock = &size, &stock
			}
		}
		out.Items = append(out.Items, d)
	}
	return out, nil
}

func (r *MemRepo) List(_ context.Context, f ListFilter) ([]OrderWithProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Order, 0, len(r.orders))
	for _, o := range r.orders {
		if f.UserID != nil && (o.UserID == nil || *o.UserID != *f.UserID) {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	limit, offset := pageBounds(f.Limit, f.Offset)
	out := []OrderWithProfile{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, OrderWithProfile{Order: *all[i], Profile: r.profileOf(all[i])})
	}
	return out, nil
}

func (r *MemRepo) Transition(ctx context.Context, id string, from, to Status) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, persistence("transition order", err)
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, notFoundf("order %s", id)
	}
	if o.Status != from {
		return nil, fmt.Errorf("%w: order %s is %s, not %s", ErrInvalidTransition, id, o.Status, from)
	}

	next := *o
	next.Status = to
	next.UpdatedAt = r.now()

	if to == StatusDelivered {
		ps, vs := r.stock.Snapshot()
		lines := make([]inventory.Line, 0, len(r.items[id]))
		for _, it := range r.items[id] {
			l := inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity}
			if it.VariantID != nil {
				l.VariantID = *it.VariantID
			}
			lines = append(lines, l)
		}
		ledger := &memLedger{adjusted: r.adjusted}
		res, err := r.adjuster.AdjustForDelivery(ctx, ledger, r.stock, id, lines)
		if err != nil {
			r.stock.Restore(ps, vs)
			if ledger.claimed != "" {
				delete(r.adjusted, ledger.claimed)
			}
			return nil, mapStoreError("transition order", err)
		}
		if !res.Skipped {
			at := next.UpdatedAt
			next.StockAdjustedAt = &at
		}
	}

	r.orders[id] = &next
	r.events = append(r.events, outbox.NewEvent(id, outbox.EventOrderStatusChanged, map[string]any{
		"from": from,
		"to":   to,
	}))
	out := next
	return &out, nil
}

func (r *MemRepo) profileOf(o *Order) *Profile {
	if o.UserID == nil {
		return nil
	}
	p, ok := r.profiles[*o.UserID]
	if !ok {
		return nil
	}
	return &p
}

type idemKey struct{ owner, key string }

type memLedger struct {
	adjusted map[string]bool
	claimed  string
}

func (l *memLedger) Claim(_ context.Context, orderID string) (bool, error) {
	if l.adjusted[orderID] {
		return false, nil
	}
	l.adjusted[orderID] = true
	l.claimed = orderID
	return true, nil
}
