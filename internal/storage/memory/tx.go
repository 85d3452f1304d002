package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// tx накапливает записи и применяет их на Commit.
// Не предназначена для конкурентного использования из нескольких горутин.
type tx struct {
	store  *Store
	held   map[string]struct{}
	staged map[string]domain.StockItem
	orders []domain.Order
	outbox []domain.OutboxMessage
	done   bool
}

func newTx(store *Store) *tx {
	return &tx{
		store:  store,
		held:   make(map[string]struct{}),
		staged: make(map[string]domain.StockItem),
	}
}

func (t *tx) Catalog() domain.CatalogTx { return t }
func (t *tx) Orders() domain.OrderTx     { return t }
func (t *tx) Outbox() domain.OutboxTx    { return t }

// GetItem берёт блокировку товара (повторно для той же транзакции — без ожидания)
// и возвращает его состояние с учётом собственных незафиксированных записей.
func (t *tx) GetItem(ctx context.Context, id string) (domain.StockItem, error) {
	if t.done {
		return domain.StockItem{}, domain.ErrTxDone
	}
	if err := t.lock(ctx, id); err != nil {
		return domain.StockItem{}, err
	}
	return t.current(id)
}

func (t *tx) UpdateStock(ctx context.Context, id string, expectedVersion int64, newStock int32) error {
	if t.done {
		return domain.ErrTxDone
	}
	if newStock < 0 {
		return domain.ErrStockNegative
	}
	if err := t.lock(ctx, id); err != nil {
		return err
	}

	item, err := t.current(id)
	if err != nil {
		return err
	}
	if item.Version != expectedVersion {
		return domain.ErrStockConflict
	}

	item.Stock = newStock
	item.Version++
	item.UpdatedAt = t.store.now()
	t.staged[id] = item
	return nil
}

func (t *tx) CreateOrder(_ context.Context, order domain.Order) error {
	if t.done {
		return domain.ErrTxDone
	}
	if t.orderExists(order.ID) {
		return domain.ErrOrderAlreadyExists
	}
	t.orders = append(t.orders, order.Clone())
	return nil
}

func (t *tx) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if t.done {
		return domain.OutboxMessage{}, domain.ErrTxDone
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	t.outbox = append(t.outbox, msg)
	return msg, nil
}

// Commit применяет все записи атомарно относительно читателей Store.
func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return domain.ErrTxDone
	}
	defer t.finish()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range t.orders {
		if _, exists := s.orders[order.ID]; exists {
			return domain.ErrOrderAlreadyExists
		}
	}

	for id, item := range t.staged {
		s.items[id] = item
	}
	for _, order := range t.orders {
		s.orders[order.ID] = order
	}
	now := s.now()
	for _, msg := range t.outbox {
		s.outboxSeq++
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		s.outbox[msg.ID] = &outboxRecord{
			msg:       msg,
			status:    outboxStatusPending,
			seq:       s.outboxSeq,
			createdAt: msg.CreatedAt,
			updatedAt: now,
		}
	}

	return nil
}

// Rollback отбрасывает записи и отпускает блокировки.
func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return domain.ErrTxDone
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	for id := range t.held {
		t.store.release(id)
	}
	t.held = nil
	t.staged = nil
	t.orders = nil
	t.outbox = nil
}

func (t *tx) lock(ctx context.Context, id string) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	if err := t.store.acquire(ctx, id); err != nil {
		return err
	}
	t.held[id] = struct{}{}
	return nil
}

func (t *tx) current(id string) (domain.StockItem, error) {
	if item, ok := t.staged[id]; ok {
		return item, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	item, ok := t.store.items[id]
	if !ok {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (t *tx) orderExists(id string) bool {
	for _, order := range t.orders {
		if order.ID == id {
			return true
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, exists := t.store.orders[id]
	return exists
}

var _ domain.Tx = (*tx)(nil)
