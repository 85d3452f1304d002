package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// AggregateTypeOrder — тип агрегата для событий заказа в outbox.
	AggregateTypeOrder = "order"
	// EventTypeOrderPlaced публикуется после фиксации транзакции резервирования.
	EventTypeOrderPlaced = "order.placed"
)

// OrderPlacedLine — позиция в событии order.placed.
type OrderPlacedLine struct {
	ItemID    string          `json:"item_id"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderPlacedEvent — полезная нагрузка события order.placed.
type OrderPlacedEvent struct {
	OrderID    string            `json:"order_id"`
	OwnerID    string            `json:"owner_id"`
	Status     OrderStatus       `json:"status"`
	TotalPrice decimal.Decimal   `json:"total_price"`
	Lines      []OrderPlacedLine `json:"lines"`
	PlacedAt   time.Time         `json:"placed_at"`
}

// NewOrderPlacedMessage собирает outbox-сообщение для созданного заказа.
func NewOrderPlacedMessage(order Order) (OutboxMessage, error) {
	lines := make([]OrderPlacedLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, OrderPlacedLine{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	payload, err := json.Marshal(OrderPlacedEvent{
		OrderID:    order.ID,
		OwnerID:    order.OwnerID,
		Status:     order.Status,
		TotalPrice: order.TotalPrice,
		Lines:      lines,
		PlacedAt:   order.CreatedAt,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order placed event: %w", err)
	}

	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     EventTypeOrderPlaced,
		Payload:       payload,
		CreatedAt:     order.CreatedAt,
	}, nil
}
