package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/tienda-ordenes/internal/outbox"
	"github.com/MikeMC777/tienda-ordenes/internal/product"
)

type fixture struct {
	svc   *Service
	repo  *MemRepo
	stock *product.MemStore

	shirt, cap string
	shirtM     string
	customer   string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		stock:    product.NewMemStore(),
		shirt:    uuid.NewString(),
		cap:      uuid.NewString(),
		shirtM:   uuid.NewString(),
		customer: uuid.NewString(),
	}
	f.stock.PutProduct(product.Product{ID: f.shirt, Name: "Franela", Price: decimal.RequireFromString("10.00"), Stock: 5})
	f.stock.PutProduct(product.Product{ID: f.cap, Name: "Gorra", Price: decimal.RequireFromString("5.00"), Stock: 1})
	f.stock.PutVariant(product.Variant{ID: f.shirtM, ProductID: f.shirt, Size: "M", Stock: 2})
	f.repo = NewMemRepo(f.stock, nil)
	f.repo.PutProfile(f.customer, Profile{FullName: "Luis Rojas", Email: "luis@example.com"})
	f.svc = NewService(f.repo, opts...)
	return f
}

func (f *fixture) checkout(items ...ItemInput) CreateOrderInput {
	return CreateOrderInput{
		Customer:        Registered{UserID: f.customer},
		ShippingMethod:  ShippingDelivery,
		ShippingAddress: "Av. Urdaneta, Caracas",
		PaymentMethod:   PaymentZelle,
		WhatsappNumber:  "+584241112233",
		Items:           items,
	}
}

func item(productID string, qty int, price string) ItemInput {
	return ItemInput{ProductID: productID, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func (f *fixture) stockOf(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.stock.GetByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) allOrders(t *testing.T) []OrderWithProfile {
	t.Helper()
	out, err := f.svc.ListOrders(context.Background(), Identity{Admin: true}, ListFilter{Limit: 100})
	require.NoError(t, err)
	return out
}

func TestCreateOrder_RecomputesTotal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	in := f.checkout(item(f.shirt, 2, "10.00"), item(f.cap, 1, "5.00"))
	bogus := decimal.RequireFromString("1.00")
	in.ClientTotal = &bogus

	o, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "25.00", o.TotalAmount.StringFixed(2))
	require.Equal(t, StatusPending, o.Status)
	require.NotNil(t, o.UserID)
	require.Equal(t, f.customer, *o.UserID)
	require.Nil(t, o.CustomerFirstName)

	got, err := f.svc.GetOrder(ctx, o.ID, Identity{UserID: f.customer})
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	require.Equal(t, "Franela", got.Items[0].ProductName)
	require.NotNil(t, got.Profile)
	require.Equal(t, "Luis Rojas", got.Profile.FullName)

	events := f.repo.Events()
	require.Len(t, events, 1)
	require.Equal(t, outbox.EventOrderCreated, events[0].Type)
}

func TestCreateOrder_EmptyItemsPersistsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), f.checkout())
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.allOrders(t))
	require.Empty(t, f.repo.Events())
}

func TestCreateOrder_ItemWriteFailureRollsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	writes := 0
	f.repo.FailItemWrite = func(Item) error {
		writes++
		if writes == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.svc.CreateOrder(context.Background(), f.checkout(item(f.shirt, 1, "10.00"), item(f.cap, 1, "5.00")))
	require.ErrorIs(t, err, ErrPersistence)
	require.Empty(t, f.allOrders(t))
	require.Empty(t, f.repo.Events())
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), f.checkout(item(uuid.NewString(), 1, "3.00")))
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, f.allOrders(t))
}

func TestCreateOrder_VariantMustBelongToProduct(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	it := item(f.cap, 1, "5.00")
	it.VariantID = f.shirtM
	_, err := f.svc.CreateOrder(context.Background(), f.checkout(it))
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.allOrders(t))
}

func TestCreateOrder_IdempotencyKeyReplays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	in := f.checkout(item(f.shirt, 1, "10.00"))
	in.IdempotencyKey = "checkout-42"

	first, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, f.allOrders(t), 1)
}

func TestCreateOrder_IdempotencyKeyScopedToOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	in := f.checkout(item(f.shirt, 1, "10.00"))
	in.IdempotencyKey = "k1"
	first, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)

	other := uuid.NewString()
	otherIn := f.checkout(item(f.cap, 2, "5.00"))
	otherIn.Customer = Registered{UserID: other}
	otherIn.ShippingMethod = ShippingPickup
	otherIn.ShippingAddress = ""
	otherIn.IdempotencyKey = "k1"
	second, err := f.svc.CreateOrder(ctx, otherIn)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, other, *second.UserID)
	require.Equal(t, PickupPlaceholder, second.ShippingAddress)

	// A guest sale with the same key is its own scope too.
	sale, err := f.svc.CreateGuestSale(ctx, GuestSaleInput{
		FirstName: "Ana", LastName: "Pérez", Phone: "0412",
		ShippingMethod: ShippingPickup, PaymentMethod: PaymentEfectivo,
		Items:          []ItemInput{item(f.shirt, 1, "10.00")},
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	require.Nil(t, sale.UserID)
	require.NotEqual(t, first.ID, sale.ID)
	require.NotEqual(t, second.ID, sale.ID)

	// Each owner still replays its own order.
	again, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Len(t, f.allOrders(t), 3)
}

func TestCreateOrder_RejectsSubCentPrices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 2, "0.004")))
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 1, "0.001")))
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.allOrders(t))

	o, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 3, "0.01"), item(f.cap, 1, "4.99")))
	require.NoError(t, err)
	require.Equal(t, "5.02", o.TotalAmount.StringFixed(2))
}

func TestCreateGuestSale_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateGuestSale(ctx, GuestSaleInput{
		FirstName:      "Ana",
		LastName:       "Pérez",
		Phone:          "+584121112233",
		DNI:            "V-12345678",
		ShippingMethod: ShippingPickup,
		PaymentMethod:  PaymentEfectivo,
		Items:          []ItemInput{item(f.shirt, 2, "10.00")},
	})
	require.NoError(t, err)
	require.Nil(t, o.UserID)
	require.Equal(t, PickupPlaceholder, o.ShippingAddress)
	require.Equal(t, "20.00", o.TotalAmount.StringFixed(2))

	got, err := f.svc.GetOrder(ctx, o.ID, Identity{Admin: true})
	require.NoError(t, err)
	require.Nil(t, got.UserID)
	require.Nil(t, got.Profile)
	require.Equal(t, "Ana", *got.CustomerFirstName)
	require.Equal(t, "Pérez", *got.CustomerLastName)

	_, err = f.svc.GetOrder(ctx, o.ID, Identity{UserID: f.customer})
	require.ErrorIs(t, err, ErrAuthorization)
}

func TestCreateGuestSale_ValidatesLikeCheckout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.CreateGuestSale(context.Background(), GuestSaleInput{
		FirstName:      "Ana",
		LastName:       "Pérez",
		Phone:          "0412",
		ShippingMethod: ShippingZoom,
		PaymentMethod:  PaymentBinance,
		Items:          []ItemInput{item(f.shirt, 1, "10.00")},
	})
	require.ErrorIs(t, err, ErrValidation, "zoom requires an agency address")

	_, err = f.svc.CreateGuestSale(context.Background(), GuestSaleInput{
		FirstName:      "Ana",
		LastName:       "Pérez",
		Phone:          "0412",
		ShippingMethod: ShippingPickup,
		PaymentMethod:  PaymentEfectivo,
		Items:          []ItemInput{item(f.shirt, -1, "10.00")},
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.allOrders(t))
}

func TestTransition_DeliveryAdjustsStockOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, f.checkout(item(f.cap, 3, "5.00")))
	require.NoError(t, err)

	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusConfirmed, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.stockOf(t, f.cap), "confirming does not touch stock")

	delivered, err := f.svc.TransitionOrder(ctx, o.ID, StatusDelivered, nil)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.StockAdjustedAt)
	require.Equal(t, 0, f.stockOf(t, f.cap), "1 - 3 clamps to 0")

	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusDelivered, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusConfirmed, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, 0, f.stockOf(t, f.cap))

	events := f.repo.Events()
	require.Len(t, events, 3)
	assert.Equal(t, outbox.EventOrderStatusChanged, events[2].Type)
}

func TestTransition_DeliveryDecrementsVariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	it := item(f.shirt, 2, "10.00")
	it.VariantID = f.shirtM
	o, err := f.svc.CreateOrder(ctx, f.checkout(it))
	require.NoError(t, err)

	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusConfirmed, nil)
	require.NoError(t, err)
	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusDelivered, nil)
	require.NoError(t, err)

	require.Equal(t, 3, f.stockOf(t, f.shirt))
	v, err := f.stock.GetVariant(ctx, f.shirtM)
	require.NoError(t, err)
	require.Equal(t, 0, v.Stock)
}

func TestTransition_FailedDeliveryLeavesNoTrace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	it := item(f.shirt, 1, "10.00")
	it.VariantID = f.shirtM
	o, err := f.svc.CreateOrder(ctx, f.checkout(it))
	require.NoError(t, err)
	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusConfirmed, nil)
	require.NoError(t, err)

	// Drop the variant so the second decrement of the delivery fails.
	ps, _ := f.stock.Snapshot()
	f.stock.Restore(ps, nil)

	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusDelivered, nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 5, f.stockOf(t, f.shirt))

	got, err := f.repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Nil(t, got.StockAdjustedAt)

	f.stock.PutVariant(product.Variant{ID: f.shirtM, ProductID: f.shirt, Size: "M", Stock: 2})
	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusDelivered, nil)
	require.NoError(t, err, "the ledger claim was released with the rollback")
	require.Equal(t, 4, f.stockOf(t, f.shirt))
}

func TestTransition_Rejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 1, "10.00")))
	require.NoError(t, err)

	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusDelivered, nil)
	require.ErrorIs(t, err, ErrInvalidTransition, "pending cannot skip to delivered")

	_, err = f.svc.TransitionOrder(ctx, o.ID, "shipped", nil)
	require.ErrorIs(t, err, ErrValidation)

	wrong := StatusConfirmed
	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusCancelled, &wrong)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.TransitionOrder(ctx, uuid.NewString(), StatusConfirmed, nil)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.TransitionOrder(ctx, "not-a-uuid", StatusConfirmed, nil)
	require.ErrorIs(t, err, ErrNotFound)

	cancelled, err := f.svc.TransitionOrder(ctx, o.ID, StatusCancelled, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusConfirmed, nil)
	require.ErrorIs(t, err, ErrInvalidTransition, "cancelled is terminal")
}

func TestTransition_ConcurrentConfirmAndCancel(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()
		o, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 1, "10.00")))
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		expected := StatusPending
		for j, target := range []Status{StatusConfirmed, StatusCancelled} {
			wg.Add(1)
			go func(j int, target Status) {
				defer wg.Done()
				_, errs[j] = f.svc.TransitionOrder(ctx, o.ID, target, &expected)
			}(j, target)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			require.ErrorIs(t, err, ErrInvalidTransition)
		}
		require.Equal(t, 1, wins)

		got, err := f.repo.GetByID(ctx, o.ID)
		require.NoError(t, err)
		require.Contains(t, []Status{StatusConfirmed, StatusCancelled}, got.Status)
	}
}

func TestGetOrder_AccessControl(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 1, "10.00")))
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, o.ID, Identity{UserID: f.customer})
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, o.ID, Identity{UserID: uuid.NewString()})
	require.ErrorIs(t, err, ErrAuthorization)

	_, err = f.svc.GetOrder(ctx, o.ID, Identity{})
	require.ErrorIs(t, err, ErrAuthorization)

	_, err = f.svc.GetOrder(ctx, o.ID, Identity{Admin: true})
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, uuid.NewString(), Identity{Admin: true})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrders_Scoping(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 1, "10.00")))
	require.NoError(t, err)

	other := f.checkout(item(f.shirt, 1, "10.00"))
	otherUser := uuid.NewString()
	other.Customer = Registered{UserID: otherUser}
	_, err = f.svc.CreateOrder(ctx, other)
	require.NoError(t, err)

	_, err = f.svc.CreateGuestSale(ctx, GuestSaleInput{
		FirstName: "Ana", LastName: "Pérez", Phone: "0412",
		ShippingMethod: ShippingPickup, PaymentMethod: PaymentEfectivo,
		Items: []ItemInput{item(f.cap, 1, "5.00")},
	})
	require.NoError(t, err)

	// A customer asking for someone else's orders still only sees their own.
	got, err := f.svc.ListOrders(ctx, Identity{UserID: f.customer}, ListFilter{UserID: &otherUser})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, mine.ID, got[0].ID)
	require.NotNil(t, got[0].Profile)

	require.Len(t, f.allOrders(t), 3)

	byUser, err := f.svc.ListOrders(ctx, Identity{Admin: true}, ListFilter{UserID: &otherUser})
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	_, err = f.svc.TransitionOrder(ctx, mine.ID, StatusConfirmed, nil)
	require.NoError(t, err)
	confirmed := StatusConfirmed
	byStatus, err := f.svc.ListOrders(ctx, Identity{Admin: true}, ListFilter{Status: &confirmed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, mine.ID, byStatus[0].ID)

	bad := Status("lost")
	_, err = f.svc.ListOrders(ctx, Identity{Admin: true}, ListFilter{Status: &bad})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ListOrders(ctx, Identity{}, ListFilter{})
	require.ErrorIs(t, err, ErrAuthorization)
}

type mapCache struct {
	mu          sync.Mutex
	entries     map[string]OrderWithItems
	invalidated []string
}

func (c *mapCache) Get(_ context.Context, id string) (*OrderWithItems, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	return &o, true, nil
}

func (c *mapCache) Set(_ context.Context, o *OrderWithItems) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[o.ID] = *o
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestGetOrder_CacheReadThrough(t *testing.T) {
	t.Parallel()
	cache := &mapCache{entries: map[string]OrderWithItems{}}
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 1, "10.00")))
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, o.ID, Identity{UserID: f.customer})
	require.NoError(t, err)
	require.Contains(t, cache.entries, o.ID)

	// Hits are still access checked.
	_, err = f.svc.GetOrder(ctx, o.ID, Identity{UserID: uuid.NewString()})
	require.ErrorIs(t, err, ErrAuthorization)

	_, err = f.svc.TransitionOrder(ctx, o.ID, StatusConfirmed, nil)
	require.NoError(t, err)
	require.NotContains(t, cache.entries, o.ID)
	require.Equal(t, []string{o.ID}, cache.invalidated)

	got, err := f.svc.GetOrder(ctx, o.ID, Identity{Admin: true})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)
}

// transitionDuringRead runs onRead once, after the order has been read and
// before it is returned, so the caller holds a row that is already stale.
type transitionDuringRead struct {
	*MemRepo
	once   sync.Once
	onRead func()
}

func (r *transitionDuringRead) GetWithItems(ctx context.Context, id string) (*OrderWithItems, error) {
	o, err := r.MemRepo.GetWithItems(ctx, id)
	if err == nil {
		r.once.Do(r.onRead)
	}
	return o, err
}

func TestGetOrder_StaleReadIsNotCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, f.checkout(item(f.shirt, 1, "10.00")))
	require.NoError(t, err)

	cache := &mapCache{entries: map[string]OrderWithItems{}}
	racing := &transitionDuringRead{MemRepo: f.repo}
	svc := NewService(racing, WithCache(cache))
	racing.onRead = func() {
		_, terr := svc.TransitionOrder(ctx, o.ID, StatusConfirmed, nil)
		require.NoError(t, terr)
	}

	got, err := svc.GetOrder(ctx, o.ID, Identity{UserID: f.customer})
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.NotContains(t, cache.entries, o.ID)

	got, err = svc.GetOrder(ctx, o.ID, Identity{UserID: f.customer})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Contains(t, cache.entries, o.ID)
}
