package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// tx — транзакция резервирования поверх *sql.Tx.
type tx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *tx) Catalog() domain.CatalogTx { return t }
func (t *tx) Orders() domain.OrderTx     { return t }
func (t *tx) Outbox() domain.OutboxTx    { return t }

// GetItem читает товар с блокировкой строки до конца транзакции.
func (t *tx) GetItem(ctx context.Context, id string) (domain.StockItem, error) {
	item, err := scanItem(t.tx.QueryRowContext(ctx, `
		SELECT id, name, price, stock, version, updated_at
		FROM catalog_items
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrItemNotFound
		}
		return domain.StockItem{}, mapError("select item for update", err)
	}
	return item, nil
}

func (t *tx) UpdateStock(ctx context.Context, id string, expectedVersion int64, newStock int32) error {
	if newStock < 0 {
		return domain.ErrStockNegative
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE catalog_items
		SET stock = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $1
		  AND version = $2
	`, id, expectedVersion, newStock, t.now())
	if err != nil {
		return mapError("update stock", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrStockConflict
	}
	return nil
}

func (t *tx) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, owner_id, status, total_price, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, order.ID, order.OwnerID, string(order.Status), order.TotalPrice, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return mapError("insert order", err)
	}

	for idx, line := range order.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, item_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, idx, line.ItemID, line.Quantity, line.UnitPrice); err != nil {
			return mapError("insert order line", err)
		}
	}

	return nil
}

func (t *tx) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := t.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt, now,
	)
	if err != nil {
		return domain.OutboxMessage{}, mapError("enqueue outbox message", err)
	}

	return msg, nil
}

func (t *tx) Commit(context.Context) error {
	return mapError("commit", t.tx.Commit())
}

func (t *tx) Rollback(context.Context) error {
	return mapError("rollback", t.tx.Rollback())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.StockItem, error) {
	var item domain.StockItem
	if err := row.Scan(&item.ID, &item.Name, &item.Price, &item.Stock, &item.Version, &item.UpdatedAt); err != nil {
		return domain.StockItem{}, err
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

var _ domain.Tx = (*tx)(nil)
