package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockItem — товар каталога с остатком на складе.
type StockItem struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int32
	// Version увеличивается при каждой записи остатка или цены (optimistic locking).
	Version   int64
	UpdatedAt time.Time
}

// PriceScale — число знаков после запятой в ценах каталога, NUMERIC(12,2) в PostgreSQL.
const PriceScale = 2

// ValidPrice сообщает, что цена положительна и укладывается в PriceScale знаков.
// Более точные цены отклоняются: иначе сумма заказа разойдётся с суммой строк,
// выведенных с двумя знаками.
func ValidPrice(price decimal.Decimal) bool {
	return price.IsPositive() && price.Equal(price.Truncate(PriceScale))
}

// Validate проверяет инварианты товара: корректная цена и неотрицательный остаток.
func (i *StockItem) Validate() []error {
	var errs []error

	if i.ID == "" {
		errs = append(errs, ErrItemIDRequired)
	}
	if !ValidPrice(i.Price) {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if i.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}

// BasketLine — провалидированная строка корзины: что и сколько хочет купить владелец.
type BasketLine struct {
	ItemID   string
	Quantity int32
}
