package order

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	ProductID string
	VariantID string
	Quantity  int
	Price     decimal.Decimal
}

// CreateOrderInput is the single shape accepted by the order creator for both
// customer checkout and admin sales. ClientTotal is accepted only so callers can
// pass it through; it never reaches storage.
type CreateOrderInput struct {
	Customer        Customer
	ShippingMethod  ShippingMethod
	ShippingAddress string
	AgencyAddress   string
	PaymentMethod   PaymentMethod
	WhatsappNumber  string
	OrderNotes      string
	Items           []ItemInput
	ClientTotal     *decimal.Decimal
	IdempotencyKey  string
}

// ValidateCreate checks everything that can be checked without storage.
func ValidateCreate(in CreateOrderInput) error {
	if len(in.Items) == 0 {
		return validationf("items must not be empty")
	}
	for i, it := range in.Items {
		if _, err := uuid.Parse(it.ProductID); err != nil {
			return validationf("item %d: product_id must be a uuid", i)
		}
		if it.VariantID != "" {
			if _, err := uuid.Parse(it.VariantID); err != nil {
				return validationf("item %d: variant_id must be a uuid", i)
			}
		}
		if it.Quantity <= 0 {
			return validationf("item %d: quantity must be > 0", i)
		}
		if !it.Price.IsPositive() {
			return validationf("item %d: price must be > 0", i)
		}
		if !it.Price.Equal(it.Price.Round(2)) {
			return validationf("item %d: price %s has more than 2 decimals", i, it.Price)
		}
	}
	if !allowedPaymentMethods[in.PaymentMethod] {
		return validationf("payment method %q is not accepted", in.PaymentMethod)
	}
	if err := validateCustomer(in.Customer); err != nil {
		return err
	}
	_, err := ResolveShippingAddress(in.ShippingMethod, in.ShippingAddress, in.AgencyAddress)
	return err
}

func validateCustomer(c Customer) error {
	switch v := c.(type) {
	case Registered:
		if _, err := uuid.Parse(v.UserID); err != nil {
			return validationf("user_id must be a uuid")
		}
	case Guest:
		if strings.TrimSpace(v.FirstName) == "" || strings.TrimSpace(v.LastName) == "" {
			return validationf("customer first and last name are required")
		}
		if strings.TrimSpace(v.Phone) == "" {
			return validationf("customer phone is required")
		}
	default:
		return validationf("customer is required")
	}
	return nil
}

// ResolveShippingAddress returns the address to store for the given method.
// MRW and Zoom ship to an agency, so the agency address is stored as the
// shipping address.
func ResolveShippingAddress(method ShippingMethod, shippingAddress, agencyAddress string) (string, error) {
	shippingAddress = strings.TrimSpace(shippingAddress)
	agencyAddress = strings.TrimSpace(agencyAddress)

	switch method {
	case ShippingDelivery:
		if shippingAddress == "" {
			return "", validationf("shipping_address is required for delivery")
		}
		return shippingAddress, nil
	case ShippingMRW, ShippingZoom:
		if agencyAddress == "" {
			return "", validationf("agency_address is required for %s", method)
		}
		return agencyAddress, nil
	case ShippingPickup:
		if shippingAddress == "" {
			return PickupPlaceholder, nil
		}
		return shippingAddress, nil
	}
	return "", validationf("unknown shipping method %q", method)
}

// ComputeTotal returns the exact Σ(quantity × price). Prices are whole cents
// after ValidateCreate, so the sum is too.
func ComputeTotal(items []ItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}
