package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Get возвращает зафиксированный заказ или ErrOrderNotFound.
func (s *Store) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByOwner возвращает заказы владельца (новые первыми), ограничивая выборку limit (если >0).
func (s *Store) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.OwnerID != ownerID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.OrderRepository = (*Store)(nil)
