// Package memory содержит in-memory хранилище с транзакциями для локальной разработки и тестов.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Store хранит каталог, заказы и outbox в памяти процесса.
//
// Каждый товар защищён собственной блокировкой (буферизованный канал ёмкостью 1),
// которую транзакция берёт при первом чтении товара и отпускает на Commit/Rollback.
// Ожидание блокировки прерывается отменой контекста. Записи транзакции применяются
// под общим мьютексом одним шагом, поэтому читатели вне транзакции видят либо всё, либо ничего.
type Store struct {
	mu        sync.RWMutex
	items     map[string]domain.StockItem
	orders    map[string]domain.Order
	outbox    map[string]*outboxRecord
	outboxSeq int64

	locksMu sync.Mutex
	locks   map[string]*itemLock

	now func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		items:  make(map[string]domain.StockItem),
		orders: make(map[string]domain.Order),
		outbox: make(map[string]*outboxRecord),
		locks:  make(map[string]*itemLock),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping всегда успешен: хранилище живёт в процессе.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Begin открывает транзакцию.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(s), nil
}

// GetItem возвращает зафиксированное состояние товара.
func (s *Store) GetItem(_ context.Context, id string) (domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	return item, nil
}

// PutItem создаёт или заменяет товар. Берёт блокировку товара, поэтому не пересекается
// с транзакциями резервирования.
func (s *Store) PutItem(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	item.ID = strings.TrimSpace(item.ID)
	if errs := item.Validate(); len(errs) > 0 {
		return domain.StockItem{}, fmt.Errorf("invalid item %q: %w", item.ID, errs[0])
	}

	if err := s.acquire(ctx, item.ID); err != nil {
		return domain.StockItem{}, err
	}
	defer s.release(item.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.items[item.ID]; ok {
		item.Version = current.Version + 1
	} else {
		item.Version = 1
	}
	item.UpdatedAt = s.now()
	s.items[item.ID] = item

	return item, nil
}

// SetPrice меняет цену товара. Цены в уже созданных заказах не меняются.
func (s *Store) SetPrice(ctx context.Context, id string, price decimal.Decimal) (domain.StockItem, error) {
	if !domain.ValidPrice(price) {
		return domain.StockItem{}, domain.ErrItemPriceInvalid
	}

	if err := s.acquire(ctx, id); err != nil {
		return domain.StockItem{}, err
	}
	defer s.release(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return domain.StockItem{}, domain.ErrItemNotFound
	}
	item.Price = price
	item.Version++
	item.UpdatedAt = s.now()
	s.items[id] = item

	return item, nil
}

// itemLock — блокировка товара. refs считает владельца и ожидающих; запись удаляется
// из карты, когда refs падает до нуля, поэтому карта не растёт от произвольных id из корзин.
type itemLock struct {
	ch   chan struct{}
	refs int
}

// acquire ждёт блокировку товара или отмену контекста.
func (s *Store) acquire(ctx context.Context, id string) error {
	l := s.refLock(id)

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.unref(id, l)
		return ctx.Err()
	}
}

func (s *Store) release(id string) {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	s.locksMu.Unlock()
	if !ok {
		return
	}

	select {
	case <-l.ch:
	default:
	}
	s.unref(id, l)
}

func (s *Store) refLock(id string) *itemLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &itemLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	return l
}

func (s *Store) unref(id string, l *itemLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

var (
	_ domain.TxManager         = (*Store)(nil)
	_ domain.CatalogRepository = (*Store)(nil)
)
