package order

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

// Free text ends up in admin screens and WhatsApp messages; markup is stripped.
var textPolicy = bluemonday.StrictPolicy()

func cleanText(s string) string {
	return strings.TrimSpace(textPolicy.Sanitize(s))
}

// CreateOrderItem payload de ítem.
// swagger:model CreateOrderItem
type CreateOrderItem struct {
	ProductID string `json:"product_id" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	VariantID string `json:"variant_id,omitempty" example:"0b8c1d2e-3f40-4a5b-8c6d-7e8f9a0b1c2d"`
	Quantity  int    `json:"quantity" example:"2"`
	Price     string `json:"price" example:"10.00"`
}

// CreateOrderRequest payload de checkout. total_amount se acepta pero se recalcula.
// swagger:model CreateOrderRequest
type CreateOrderRequest struct {
	ShippingMethod  string            `json:"shipping_method" example:"delivery"`
	ShippingAddress string            `json:"shipping_address" example:"Av. Principal, Caracas"`
	AgencyAddress   string            `json:"agency_address,omitempty"`
	PaymentMethod   string            `json:"payment_method" example:"pago_movil"`
	WhatsappNumber  string            `json:"whatsapp_number" example:"+584141234567"`
	OrderNotes      string            `json:"order_notes,omitempty"`
	TotalAmount     string            `json:"total_amount,omitempty" example:"25.00"`
	Items           []CreateOrderItem `json:"items"`
}

// GuestSaleRequest payload de venta registrada por un administrador.
// swagger:model GuestSaleRequest
type GuestSaleRequest struct {
	CustomerFirstName string            `json:"customer_first_name" example:"Ana"`
	CustomerLastName  string            `json:"customer_last_name" example:"Pérez"`
	CustomerPhone     string            `json:"customer_phone" example:"+584121112233"`
	CustomerEmail     string            `json:"customer_email,omitempty"`
	CustomerDNI       string            `json:"customer_dni,omitempty" example:"V-12345678"`
	ShippingMethod    string            `json:"shipping_method" example:"pickup"`
	ShippingAddress   string            `json:"shipping_address,omitempty"`
	AgencyAddress     string            `json:"agency_address,omitempty"`
	PaymentMethod     string            `json:"payment_method" example:"efectivo"`
	OrderNotes        string            `json:"order_notes,omitempty"`
	TotalAmount       string            `json:"total_amount,omitempty"`
	Items             []CreateOrderItem `json:"items"`
}

// TransitionRequest payload de cambio de estado.
// swagger:model TransitionRequest
type TransitionRequest struct {
	Status         string `json:"status" example:"confirmed"`
	ExpectedStatus string `json:"expected_status,omitempty" example:"pending"`
}

// ToInput builds the creator input for the authenticated customer userID.
func (r CreateOrderRequest) ToInput(userID, idempotencyKey string) (CreateOrderInput, error) {
	items, err := itemInputs(r.Items)
	if err != nil {
		return CreateOrderInput{}, err
	}
	total, err := optionalDecimal(r.TotalAmount)
	if err != nil {
		return CreateOrderInput{}, err
	}
	return CreateOrderInput{
		Customer:        Registered{UserID: userID},
		ShippingMethod:  ShippingMethod(strings.TrimSpace(r.ShippingMethod)),
		ShippingAddress: cleanText(r.ShippingAddress),
		AgencyAddress:   cleanText(r.AgencyAddress),
		PaymentMethod:   PaymentMethod(strings.TrimSpace(r.PaymentMethod)),
		WhatsappNumber:  cleanText(r.WhatsappNumber),
		OrderNotes:      cleanText(r.OrderNotes),
		Items:           items,
		ClientTotal:     total,
		IdempotencyKey:  idempotencyKey,
	}, nil
}

func (r GuestSaleRequest) ToInput(idempotencyKey string) (GuestSaleInput, error) {
	items, err := itemInputs(r.Items)
	if err != nil {
		return GuestSaleInput{}, err
	}
	total, err := optionalDecimal(r.TotalAmount)
	if err != nil {
		return GuestSaleInput{}, err
	}
	return GuestSaleInput{
		FirstName:       cleanText(r.CustomerFirstName),
		LastName:        cleanText(r.CustomerLastName),
		Phone:           cleanText(r.CustomerPhone),
		Email:           cleanText(r.CustomerEmail),
		DNI:             cleanText(r.CustomerDNI),
		ShippingMethod:  ShippingMethod(strings.TrimSpace(r.ShippingMethod)),
		ShippingAddress: cleanText(r.ShippingAddress),
		AgencyAddress:   cleanText(r.AgencyAddress),
		PaymentMethod:   PaymentMethod(strings.TrimSpace(r.PaymentMethod)),
		OrderNotes:      cleanText(r.OrderNotes),
		Items:           items,
		ClientTotal:     total,
		IdempotencyKey:  idempotencyKey,
	}, nil
}

// Target returns the requested status and, when sent, the expected current one.
func (r TransitionRequest) Target() (Status, *Status) {
	target := Status(strings.ToLower(strings.TrimSpace(r.Status)))
	if strings.TrimSpace(r.ExpectedStatus) == "" {
		return target, nil
	}
	expected := Status(strings.ToLower(strings.TrimSpace(r.ExpectedStatus)))
	return target, &expected
}

func itemInputs(in []CreateOrderItem) ([]ItemInput, error) {
	out := make([]ItemInput, 0, len(in))
	for i, it := range in {
		price, err := decimal.NewFromString(strings.TrimSpace(it.Price))
		if err != nil {
			return nil, validationf("item %d: price %q is not a number", i, it.Price)
		}
		out = append(out, ItemInput{
			ProductID: strings.TrimSpace(it.ProductID),
			VariantID: strings.TrimSpace(it.VariantID),
			Quantity:  it.Quantity,
			Price:     price,
		})
	}
	return out, nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, validationf("total_amount %q is not a number", s)
	}
	return &d, nil
}
