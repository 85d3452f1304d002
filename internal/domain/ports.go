package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxManager открывает транзакционную область, в которой выполняется резервирование.
type TxManager interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx — единица работы: все записи видны снаружи только после Commit.
// Rollback после Commit (и повторный Rollback) возвращает ErrTxDone и ничего не меняет.
type Tx interface {
	Catalog() CatalogTx
	Orders() OrderTx
	Outbox() OutboxTx
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CatalogTx — операции над остатками внутри транзакции.
type CatalogTx interface {
	// GetItem читает товар и удерживает его блокировку до конца транзакции.
	// Возвращает ErrItemNotFound, если товара нет.
	GetItem(ctx context.Context, id string) (StockItem, error)
	// UpdateStock записывает новый остаток при совпадении версии, иначе ErrStockConflict.
	UpdateStock(ctx context.Context, id string, expectedVersion int64, newStock int32) error
}

// OrderTx сохраняет заказ в рамках транзакции.
type OrderTx interface {
	CreateOrder(ctx context.Context, order Order) error
}

// OutboxTx ставит событие в outbox в рамках той же транзакции.
type OutboxTx interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// CatalogRepository — управление каталогом вне транзакции резервирования.
type CatalogRepository interface {
	GetItem(ctx context.Context, id string) (StockItem, error)
	// PutItem создаёт или заменяет товар (цена и остаток), увеличивая версию.
	PutItem(ctx context.Context, item StockItem) (StockItem, error)
	SetPrice(ctx context.Context, id string, price decimal.Decimal) (StockItem, error)
}

// OrderRepository описывает чтение сохранённых заказов.
type OrderRepository interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByOwner возвращает заказы владельца, новые первыми.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Order, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository — чтение и подтверждение событий relay-воркером.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte) error
	MarkFailed(ctx context.Context, key string, responseBody []byte) error
	// Delete освобождает ключ, чтобы повтор запроса выполнился заново.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
