package reservation_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/reservation"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var errStorage = errors.New("storage unavailable")

// faultyTxManager оборачивает memory.Store и внедряет ошибки на выбранных шагах.
type faultyTxManager struct {
	store *memory.Store

	failBegin     bool
	failUpdateFor string
	failCreate    bool
	failCommit    bool
	// conflicts — сколько раз подряд UpdateStock вернёт ErrStockConflict.
	conflicts atomic.Int32
	begins    atomic.Int32
}

func (m *faultyTxManager) Begin(ctx context.Context) (domain.Tx, error) {
	m.begins.Add(1)
	if m.failBegin {
		return nil, errStorage
	}
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, mgr: m}, nil
}

type faultyTx struct {
	domain.Tx
	mgr *faultyTxManager
}

func (t *faultyTx) Catalog() domain.CatalogTx { return &faultyCatalog{CatalogTx: t.Tx.Catalog(), mgr: t.mgr} }
func (t *faultyTx) Orders() domain.OrderTx     { return &faultyOrders{OrderTx: t.Tx.Orders(), mgr: t.mgr} }

func (t *faultyTx) Commit(ctx context.Context) error {
	if t.mgr.failCommit {
		_ = t.Tx.Rollback(ctx)
		return errStorage
	}
	return t.Tx.Commit(ctx)
}

type faultyCatalog struct {
	domain.CatalogTx
	mgr *faultyTxManager
}

func (c *faultyCatalog) UpdateStock(ctx context.Context, id string, expectedVersion int64, newStock int32) error {
	if c.mgr.failUpdateFor == id {
		return errStorage
	}
	if c.mgr.conflicts.Load() > 0 {
		c.mgr.conflicts.Add(-1)
		return domain.ErrStockConflict
	}
	return c.CatalogTx.UpdateStock(ctx, id, expectedVersion, newStock)
}

type faultyOrders struct {
	domain.OrderTx
	mgr *faultyTxManager
}

func (o *faultyOrders) CreateOrder(ctx context.Context, order domain.Order) error {
	if o.mgr.failCreate {
		return errStorage
	}
	return o.OrderTx.CreateOrder(ctx, order)
}

func newFaultyFixture(t *testing.T) (*memory.Store, *faultyTxManager) {
	t.Helper()
	store := memory.NewStore()
	for id, stock := range map[string]int32{"A": 5, "B": 5} {
		_, err := store.PutItem(context.Background(), domain.StockItem{ID: id, Price: decimal.RequireFromString("3.00"), Stock: stock})
		require.NoError(t, err)
	}
	return store, &faultyTxManager{store: store}
}

func requireUntouched(t *testing.T, store *memory.Store) {
	t.Helper()
	for _, id := range []string{"A", "B"} {
		item, err := store.GetItem(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, int32(5), item.Stock, "stock of %s changed", id)
	}
	orders, err := store.ListByOwner(context.Background(), "owner", 0)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestPlaceOrder_StorageFailuresBecomeTransactionFailed(t *testing.T) {
	basket := []domain.BasketLine{{ItemID: "A", Quantity: 1}, {ItemID: "B", Quantity: 1}}

	cases := []struct {
		name   string
		inject func(m *faultyTxManager)
		op     string
	}{
		{name: "begin", inject: func(m *faultyTxManager) { m.failBegin = true }, op: "begin"},
		{name: "second update", inject: func(m *faultyTxManager) { m.failUpdateFor = "B" }, op: "update stock"},
		{name: "create order", inject: func(m *faultyTxManager) { m.failCreate = true }, op: "create order"},
		{name: "commit", inject: func(m *faultyTxManager) { m.failCommit = true }, op: "commit"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mgr := newFaultyFixture(t)
			tc.inject(mgr)
			coordinator := reservation.NewCoordinator(mgr, reservation.WithLogger(loggerForTests()))

			_, err := coordinator.PlaceOrder(context.Background(), "owner", basket)
			require.ErrorIs(t, err, domain.ErrTransactionFailed)
			require.ErrorIs(t, err, errStorage)

			var txErr *domain.TransactionFailedError
			require.ErrorAs(t, err, &txErr)
			require.Equal(t, tc.op, txErr.Op)

			requireUntouched(t, store)
		})
	}
}

func TestPlaceOrder_RetriesStockConflicts(t *testing.T) {
	store, mgr := newFaultyFixture(t)
	mgr.conflicts.Store(2)

	coordinator := reservation.NewCoordinator(mgr,
		reservation.WithLogger(loggerForTests()),
		reservation.WithRetry(reservation.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}),
	)

	order, err := coordinator.PlaceOrder(context.Background(), "owner", []domain.BasketLine{{ItemID: "A", Quantity: 2}})
	require.NoError(t, err)
	require.Equal(t, int32(3), mgr.begins.Load())

	stored, err := store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)

	item, err := store.GetItem(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, int32(3), item.Stock)
}

func TestPlaceOrder_GivesUpAfterMaxAttempts(t *testing.T) {
	store, mgr := newFaultyFixture(t)
	mgr.conflicts.Store(10)

	coordinator := reservation.NewCoordinator(mgr,
		reservation.WithLogger(loggerForTests()),
		reservation.WithRetry(reservation.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}),
	)

	_, err := coordinator.PlaceOrder(context.Background(), "owner", []domain.BasketLine{{ItemID: "A", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrTransactionFailed)
	require.ErrorIs(t, err, domain.ErrStockConflict)
	require.Equal(t, int32(2), mgr.begins.Load())
	requireUntouched(t, store)
}

func TestPlaceOrder_DoesNotRetryBusinessErrors(t *testing.T) {
	_, mgr := newFaultyFixture(t)

	coordinator := reservation.NewCoordinator(mgr, reservation.WithLogger(loggerForTests()))

	_, err := coordinator.PlaceOrder(context.Background(), "owner", []domain.BasketLine{{ItemID: "A", Quantity: 6}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, int32(1), mgr.begins.Load())
}

func TestPlaceOrder_UsesInjectedClock(t *testing.T) {
	store := memory.NewStore()
	_, err := store.PutItem(context.Background(), domain.StockItem{ID: "A", Price: decimal.NewFromInt(1), Stock: 1})
	require.NoError(t, err)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	coordinator := reservation.NewCoordinator(store,
		reservation.WithLogger(loggerForTests()),
		reservation.WithClock(func() time.Time { return fixed }),
		reservation.WithRetry(reservation.NoRetry()),
	)

	order, err := coordinator.PlaceOrder(context.Background(), "owner", []domain.BasketLine{{ItemID: "A", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, fixed.Truncate(time.Microsecond), order.CreatedAt)
}
