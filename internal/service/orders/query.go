// Package orders отвечает за чтение заказов владельца.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultListLimit применяется, когда limit не задан.
	DefaultListLimit = 100
	// MaxListLimit — верхняя граница выборки.
	MaxListLimit = 500
)

// Query читает заказы из OrderRepository.
type Query struct {
	repo   domain.OrderRepository
	logger *log.Entry
}

// NewQuery создаёт сервис чтения заказов.
func NewQuery(repo domain.OrderRepository, logger *log.Entry) *Query {
	if logger == nil {
		logger = log.New().WithField("component", "order-query")
	}
	return &Query{repo: repo, logger: logger}
}

// ListOrders возвращает заказы владельца, новые первыми.
func (q *Query) ListOrders(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.ErrOwnerRequired
	}

	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	result, err := q.repo.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		q.logger.WithError(err).WithField("owner_id", ownerID).Error("failed to list orders")
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if result == nil {
		result = []domain.Order{}
	}
	return result, nil
}

// GetOrder возвращает заказ владельца. Чужой заказ неотличим от отсутствующего.
func (q *Query) GetOrder(ctx context.Context, ownerID, orderID string) (domain.Order, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Order{}, domain.ErrOwnerRequired
	}

	order, err := q.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		q.logger.WithError(err).WithField("order_id", orderID).Error("failed to load order")
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.OwnerID != ownerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}
