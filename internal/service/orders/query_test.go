package orders_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/reservation"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func placeOrders(t *testing.T, store *memory.Store, owner string, n int) []domain.Order {
	t.Helper()
	ctx := context.Background()
	coordinator := reservation.NewCoordinator(store)

	placed := make([]domain.Order, 0, n)
	for i := 0; i < n; i++ {
		order, err := coordinator.PlaceOrder(ctx, owner, []domain.BasketLine{{ItemID: "X", Quantity: 1}})
		require.NoError(t, err)
		placed = append(placed, order)
	}
	return placed
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	_, err := store.PutItem(context.Background(), domain.StockItem{ID: "X", Price: decimal.NewFromInt(2), Stock: 100})
	require.NoError(t, err)
	return store
}

func TestQuery_ListOrdersNewestFirst(t *testing.T) {
	store := newStore(t)
	placed := placeOrders(t, store, "owner-1", 3)
	placeOrders(t, store, "owner-2", 1)

	query := orders.NewQuery(store, nil)
	result, err := query.ListOrders(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	require.Len(t, result, 3)

	for i := 1; i < len(result); i++ {
		require.False(t, result[i].CreatedAt.After(result[i-1].CreatedAt), "orders must be sorted newest first")
	}
	ids := map[string]bool{}
	for _, order := range result {
		ids[order.ID] = true
		require.Equal(t, "owner-1", order.OwnerID)
	}
	for _, order := range placed {
		require.True(t, ids[order.ID])
	}
}

func TestQuery_ListOrdersEmptyAndValidation(t *testing.T) {
	query := orders.NewQuery(newStore(t), nil)

	result, err := query.ListOrders(context.Background(), "nobody", 10)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Empty(t, result)

	_, err = query.ListOrders(context.Background(), "", 10)
	require.ErrorIs(t, err, domain.ErrOwnerRequired)
}

func TestQuery_GetOrderHidesForeignOrders(t *testing.T) {
	store := newStore(t)
	placed := placeOrders(t, store, "owner-1", 1)
	query := orders.NewQuery(store, nil)

	order, err := query.GetOrder(context.Background(), "owner-1", placed[0].ID)
	require.NoError(t, err)
	require.Equal(t, placed[0].ID, order.ID)

	_, err = query.GetOrder(context.Background(), "owner-2", placed[0].ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = query.GetOrder(context.Background(), "owner-1", "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

type failingRepo struct{}

func (failingRepo) Get(context.Context, string) (domain.Order, error) {
	return domain.Order{}, errors.New("db down")
}

func (failingRepo) ListByOwner(context.Context, string, int) ([]domain.Order, error) {
	return nil, errors.New("db down")
}

func TestQuery_PropagatesStorageErrors(t *testing.T) {
	query := orders.NewQuery(failingRepo{}, nil)

	_, err := query.ListOrders(context.Background(), "owner-1", 10)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = query.GetOrder(context.Background(), "owner-1", "order-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrOrderNotFound)
}
