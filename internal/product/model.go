package product

import "github.com/shopspring/decimal"

// Product carries only the fields the order engine reads or writes; display
// attributes belong to the catalog.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Variant is a size of a product with its own stock. When an order line names a
// variant, the variant stock is authoritative for that line.
type Variant struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Stock     int    `json:"stock"`
}

// Clamp returns stock - qty floored at zero.
func Clamp(stock, qty int) int {
	if qty >= stock {
		return 0
	}
	return stock - qty
}
