package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

type ShippingMethod string

const (
	ShippingDelivery ShippingMethod = "delivery"
	ShippingMRW      ShippingMethod = "MRW"
	ShippingZoom     ShippingMethod = "Zoom"
	ShippingPickup   ShippingMethod = "pickup"
)

// PickupPlaceholder is stored as the shipping address of pickup orders placed without one.
const PickupPlaceholder = "Retiro en tienda"

type PaymentMethod string

const (
	PaymentPagoMovil     PaymentMethod = "pago_movil"
	PaymentTransferencia PaymentMethod = "transferencia"
	PaymentZelle         PaymentMethod = "zelle"
	PaymentEfectivo      PaymentMethod = "efectivo"
	PaymentBinance       PaymentMethod = "binance"
)

var allowedPaymentMethods = map[PaymentMethod]bool{
	PaymentPagoMovil:     true,
	PaymentTransferencia: true,
	PaymentZelle:         true,
	PaymentEfectivo:      true,
	PaymentBinance:       true,
}

// Order is one row of the orders table. Exactly one of UserID and the
// Customer* guest fields is populated.
type Order struct {
	ID                string          `json:"id"`
	UserID            *string         `json:"user_id,omitempty"`
	Status            Status          `json:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	ShippingAddress   string          `json:"shipping_address"`
	ShippingMethod    ShippingMethod  `json:"shipping_method"`
	AgencyAddress     *string         `json:"agency_address,omitempty"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	WhatsappNumber    *string         `json:"whatsapp_number,omitempty"`
	CustomerFirstName *string         `json:"customer_first_name,omitempty"`
	CustomerLastName  *string         `json:"customer_last_name,omitempty"`
	CustomerPhone     *string         `json:"customer_phone,omitempty"`
	CustomerEmail     *string         `json:"customer_email,omitempty"`
	CustomerDNI       *string         `json:"customer_dni,omitempty"`
	OrderNotes        *string         `json:"order_notes,omitempty"`
	StockAdjustedAt   *time.Time      `json:"stock_adjusted_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Guest reports whether the order was entered as an admin sale without an account.
func (o Order) Guest() bool { return o.UserID == nil }

// Item is an order line. Price is the unit price snapshot taken at creation.
type Item struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	VariantID *string         `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Customer identifies who placed an order: Registered or Guest.
type Customer interface {
	isCustomer()
}

type Registered struct {
	UserID string
}

type Guest struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
	DNI       string
}

func (Registered) isCustomer() {}
func (Guest) isCustomer() {}

// adminIdempotencyOwner scopes the idempotency keys of guest sales.
const adminIdempotencyOwner = "admin"

// idempotencyOwner returns the scope an idempotency key is unique within: the
// customer for checkout orders, the admin channel for guest sales.
func idempotencyOwner(o *Order) string {
	if o.UserID != nil {
		return *o.UserID
	}
	return adminIdempotencyOwner
}

// Profile holds the registered customer's account data joined on reads.
type Profile struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
}

// ItemDetail is an order line joined with its product and variant.
type ItemDetail struct {
	Item
	ProductName  string          `json:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price"`
	VariantSize  *string         `json:"variant_size,omitempty"`
	VariantStock *int            `json:"variant_stock,omitempty"`
}

type OrderWithItems struct {
	Order
	Profile *Profile     `json:"profile,omitempty"`
	Items   []ItemDetail `json:"items"`
}

type OrderWithProfile struct {
	Order
	Profile *Profile `json:"profile,omitempty"`
}

// Identity is the caller on whose behalf a read is performed.
type Identity struct {
	UserID string
	Admin  bool
}

type ListFilter struct {
	UserID *string
	Status *Status
	Limit  int
	Offset int
}
