// Package checkout собирает путь размещения заказа для транспортных адаптеров:
// проверка корзины, защита по idempotency-key и резервирование.
package checkout

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/basket"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// Placer размещает заказ из уже проверенной корзины.
type Placer interface {
	PlaceOrder(ctx context.Context, ownerID string, lines []domain.BasketLine) (domain.Order, error)
}

// Result — итог размещения.
type Result struct {
	Order domain.Order
	// Replayed — ответ восстановлен по idempotency-key.
	Replayed bool
}

// Service общий для gRPC и HTTP.
type Service struct {
	validator basket.Validator
	guard     *idempotency.Guard
	placer    Placer
	logger    *log.Entry
}

// New создаёт Service. guard может быть nil: тогда ключ идемпотентности игнорируется.
func New(validator basket.Validator, guard *idempotency.Guard, placer Placer, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	return &Service{
		validator: validator,
		guard:     guard,
		placer:    placer,
		logger:    logger,
	}
}

// PlaceOrder проверяет владельца и корзину и размещает заказ не более одного раза на ключ.
func (s *Service) PlaceOrder(ctx context.Context, ownerID, idempotencyKey string, raw []basket.RawLine) (Result, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Result{}, domain.ErrOwnerRequired
	}

	lines, err := s.validator.Validate(raw)
	if err != nil {
		s.logger.WithError(err).WithField("owner_id", ownerID).Debug("basket rejected")
		return Result{}, err
	}

	order, replayed, err := s.guard.PlaceOrder(ctx, ownerID, idempotencyKey, lines, func(ctx context.Context) (domain.Order, error) {
		return s.placer.PlaceOrder(ctx, ownerID, lines)
	})
	if err != nil {
		return Result{Replayed: replayed}, err
	}
	if replayed {
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"owner_id": ownerID,
		}).Info("order replayed by idempotency key")
	}
	return Result{Order: order, Replayed: replayed}, nil
}
