package order

import (
	"context"

	"github.com/shopspring/decimal"
)

// GuestSaleInput is an admin-entered sale for a customer without an account.
// Customer fields arrive flat, as the admin sale form sends them.
type GuestSaleInput struct {
	FirstName       string
	LastName        string
	Phone           string
	Email           string
	DNI             string
	ShippingMethod  ShippingMethod
	ShippingAddress string
	AgencyAddress   string
	PaymentMethod   PaymentMethod
	OrderNotes      string
	Items           []ItemInput
	ClientTotal     *decimal.Decimal
	IdempotencyKey  string
}

// ToCreateInput maps the flat sale into the order creator's input with a Guest
// customer.
func (in GuestSaleInput) ToCreateInput() CreateOrderInput {
	return CreateOrderInput{
		Customer: Guest{
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Phone:     in.Phone,
			Email:     in.Email,
			DNI:       in.DNI,
		},
		ShippingMethod:  in.ShippingMethod,
		ShippingAddress: in.ShippingAddress,
		AgencyAddress:   in.AgencyAddress,
		PaymentMethod:   in.PaymentMethod,
		WhatsappNumber:  in.Phone,
		OrderNotes:      in.OrderNotes,
		Items:           in.Items,
		ClientTotal:     in.ClientTotal,
		IdempotencyKey:  in.IdempotencyKey,
	}
}

// CreateGuestSale records an admin sale through the same atomic creator used
// at checkout.
func (s *Service) CreateGuestSale(ctx context.Context, in GuestSaleInput) (*Order, error) {
	return s.CreateOrder(ctx, in.ToCreateInput())
}
