package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — товар каталога с текущим доступным остатком.
// Каталог сам по себе ведёт внешняя система; здесь хранится только то,
// что нужно для списания и возврата остатков.
type Product struct {
	ID        string
	SKU       string
	Name      string
	Price     decimal.Decimal
	Stock     int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет корректность полей товара.
func (p *Product) Validate() []error {
	var errs []error

	if p.SKU == "" {
		errs = append(errs, ErrProductSKURequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrInsufficientStock)
	}

	return errs
}
