// Package reservation размещает заказы: атомарно списывает остатки по всем строкам корзины
// и сохраняет заказ с зафиксированными ценами в одной транзакции.
package reservation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const rollbackTimeout = 5 * time.Second

// Coordinator выполняет резервирование поверх транзакционного хранилища.
type Coordinator struct {
	txManager domain.TxManager
	logger    *log.Entry
	metrics   *metrics.ReservationMetrics
	retry     RetryConfig
	now       func() time.Time
	newID     func() string
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics подключает Prometheus-метрики.
func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRetry задаёт политику повторов при конфликте версий остатка.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Coordinator) {
		c.retry = cfg.normalized()
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator создаёт координатор резервирования.
func NewCoordinator(txManager domain.TxManager, opts ...Option) *Coordinator {
	c := &Coordinator{
		txManager: txManager,
		logger:    log.New().WithField("component", "reservation"),
		retry:     DefaultRetryConfig(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaceOrder списывает остатки по всем строкам и создаёт заказ в статусе pending.
//
// Либо применяются все списания и заказ сохраняется, либо не меняется ничего.
// Строки обрабатываются в порядке возрастания ItemID, при первой ошибке попытка прерывается.
// Позиции заказа сохраняют порядок корзины, дубликаты дают отдельные позиции.
func (c *Coordinator) PlaceOrder(ctx context.Context, ownerID string, lines []domain.BasketLine) (domain.Order, error) {
	finish := c.metrics.Started()
	ownerID = strings.TrimSpace(ownerID)

	order, err := c.place(ctx, ownerID, lines)
	finish(outcomeOf(err))

	entry := c.logger.WithFields(log.Fields{
		"owner_id": ownerID,
		"lines":    len(lines),
	})
	switch {
	case err == nil:
		c.metrics.RecordPlaced(len(order.Lines), totalUnits(order.Lines))
		entry.WithFields(log.Fields{
			"order_id":    order.ID,
			"total_price": order.TotalPrice.String(),
		}).Info("order placed")
	case domain.IsBusinessError(err):
		entry.WithError(err).Info("order rejected")
	default:
		entry.WithError(err).Error("order placement failed")
	}

	return order, err
}

func (c *Coordinator) place(ctx context.Context, ownerID string, lines []domain.BasketLine) (domain.Order, error) {
	if ownerID == "" {
		return domain.Order{}, domain.ErrOwnerRequired
	}
	if len(lines) == 0 {
		return domain.Order{}, domain.ErrEmptyBasket
	}
	for idx, line := range lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return domain.Order{}, &domain.MalformedLineError{Index: idx, Reason: "item id is required"}
		}
		if line.Quantity <= 0 {
			return domain.Order{}, &domain.MalformedLineError{Index: idx, Reason: "quantity must be greater than zero"}
		}
	}

	delay := c.retry.InitialDelay
	for attempt := 1; ; attempt++ {
		order, err := c.placeOnce(ctx, ownerID, lines)
		if err == nil || !domain.IsStockConflict(err) || attempt >= c.retry.MaxAttempts {
			return order, err
		}

		c.metrics.RecordRetry()
		c.logger.WithError(err).WithFields(log.Fields{
			"owner_id": ownerID,
			"attempt":  attempt,
			"delay":    delay,
		}).Warn("stock version conflict, retrying")

		if err := sleepContext(ctx, delay); err != nil {
			return domain.Order{}, &domain.TransactionFailedError{Op: "retry", Err: err}
		}
		delay = c.retry.next(delay)
	}
}

func (c *Coordinator) placeOnce(ctx context.Context, ownerID string, lines []domain.BasketLine) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, &domain.TransactionFailedError{Op: "begin", Err: err}
	}

	tx, err := c.txManager.Begin(ctx)
	if err != nil {
		return domain.Order{}, &domain.TransactionFailedError{Op: "begin", Err: err}
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, domain.ErrTxDone) {
			c.logger.WithError(rbErr).WithField("owner_id", ownerID).Warn("rollback failed")
		}
	}()

	orderLines := make([]domain.OrderLine, len(lines))
	for _, idx := range lockOrder(lines) {
		line := lines[idx]
		if err := ctx.Err(); err != nil {
			return domain.Order{}, &domain.TransactionFailedError{Op: "reserve", Err: err}
		}

		item, err := tx.Catalog().GetItem(ctx, line.ItemID)
		if err != nil {
			if errors.Is(err, domain.ErrItemNotFound) {
				return domain.Order{}, &domain.ItemNotFoundError{ItemID: line.ItemID}
			}
			return domain.Order{}, &domain.TransactionFailedError{Op: "get item", Err: err}
		}
		if item.Stock < line.Quantity {
			return domain.Order{}, &domain.InsufficientStockError{
				ItemID:    line.ItemID,
				Requested: line.Quantity,
				Available: item.Stock,
			}
		}

		if err := tx.Catalog().UpdateStock(ctx, item.ID, item.Version, item.Stock-line.Quantity); err != nil {
			return domain.Order{}, &domain.TransactionFailedError{Op: "update stock", Err: err}
		}

		orderLines[idx] = domain.OrderLine{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: item.Price,
		}
	}

	order := domain.Order{
		ID:         c.newID(),
		OwnerID:    ownerID,
		Lines:      orderLines,
		TotalPrice: domain.ComputeTotal(orderLines),
		Status:     domain.OrderStatusPending,
		CreatedAt:  c.now().UTC().Truncate(time.Microsecond),
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, &domain.TransactionFailedError{Op: "validate order", Err: errors.Join(errs...)}
	}

	if err := tx.Orders().CreateOrder(ctx, order); err != nil {
		return domain.Order{}, &domain.TransactionFailedError{Op: "create order", Err: err}
	}

	event, err := domain.NewOrderPlacedMessage(order)
	if err != nil {
		return domain.Order{}, &domain.TransactionFailedError{Op: "build event", Err: err}
	}
	if _, err := tx.Outbox().Enqueue(ctx, event); err != nil {
		return domain.Order{}, &domain.TransactionFailedError{Op: "enqueue event", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return domain.Order{}, &domain.TransactionFailedError{Op: "commit", Err: err}
	}
	// После начала фиксации отмена контекста не учитывается.
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return domain.Order{}, &domain.TransactionFailedError{Op: "commit", Err: err}
	}
	committed = true

	return order, nil
}

// lockOrder возвращает индексы строк, отсортированные по ItemID (при равенстве — по позиции).
// Единый порядок захвата блокировок исключает взаимные блокировки пересекающихся корзин.
func lockOrder(lines []domain.BasketLine) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lines[order[a]].ItemID < lines[order[b]].ItemID
	})
	return order
}

func totalUnits(lines []domain.OrderLine) int64 {
	var units int64
	for _, line := range lines {
		units += int64(line.Quantity)
	}
	return units
}

func outcomeOf(err error) string {
	switch domain.KindOf(err) {
	case "":
		return metrics.OutcomePlaced
	case domain.ErrorKindEmptyBasket:
		return metrics.OutcomeEmptyBasket
	case domain.ErrorKindMalformedLine:
		return metrics.OutcomeMalformedLine
	case domain.ErrorKindItemNotFound:
		return metrics.OutcomeItemNotFound
	case domain.ErrorKindInsufficientStock:
		return metrics.OutcomeInsufficientStock
	case domain.ErrorKindTransactionFailed:
		return metrics.OutcomeTransactionFailed
	default:
		return metrics.OutcomeRejected
	}
}
