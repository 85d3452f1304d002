package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, товары списаны со склада, дальнейшая обработка не началась.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — заказ подтверждён внешним процессом.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCanceled — заказ отменён.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// OrderLine — одна позиция заказа с зафиксированной ценой.
type OrderLine struct {
	ItemID   string
	Quantity int32
	// UnitPrice — цена за единицу на момент покупки; последующие изменения каталога на неё не влияют.
	UnitPrice decimal.Decimal
}

// Subtotal возвращает quantity * unitPrice.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity))
}

// Order — подтверждённая покупка.
type Order struct {
	ID         string
	OwnerID    string
	Lines      []OrderLine
	TotalPrice decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
}

// ComputeTotal суммирует позиции без округления.
func ComputeTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if !line.UnitPrice.IsPositive() {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	if !ComputeTotal(o.Lines).Equal(o.TotalPrice) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает копию заказа с независимым слайсом позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Lines = append([]OrderLine(nil), o.Lines...)
	return dst
}
