package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale — количество знаков после запятой для денежных сумм.
const MoneyScale = 2

// Product описывает товар каталога.
type Product struct {
	ID          string
	Name        string
	Category    string
	UnitPrice   decimal.Decimal
	SKU         string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет обязательные поля товара.
func (p *Product) Validate() []error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}
	if strings.TrimSpace(p.SKU) == "" {
		errs = append(errs, ErrSKURequired)
	}
	if p.UnitPrice.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}

	return errs
}

// Warehouse описывает склад.
type Warehouse struct {
	ID        string
	Name      string
	Location  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Customer описывает покупателя.
type Customer struct {
	ID        string
	FullName  string
	Email     string
	Phone     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductFilter ограничивает выборку товаров.
type ProductFilter struct {
	Category string
	// Search ищет по подстроке в названии или SKU.
	Search string
	Limit  int
}

// RoundMoney приводит сумму к денежной точности.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}
