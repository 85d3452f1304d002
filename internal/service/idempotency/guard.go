// Package idempotency содержит защиту размещения заказа от повторов по idempotency-key
// и воркер очистки просроченных ключей.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — срок хранения результата запроса.
const DefaultTTL = 24 * time.Hour

// PlaceFunc выполняет размещение заказа.
type PlaceFunc func(ctx context.Context) (domain.Order, error)

// Guard повторно возвращает результат запроса с тем же ключом вместо повторного списания.
//
// Успех и бизнес-ошибки сохраняются и воспроизводятся. После сбоя хранилища ключ
// освобождается, чтобы клиент мог повторить запрос.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard. nil-репозиторий отключает идемпотентность.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder выполняет place не более одного раза для пары (ownerID, key).
// Второе значение сообщает, что ответ взят из кеша.
func (g *Guard) PlaceOrder(ctx context.Context, ownerID, key string, lines []domain.BasketLine, place PlaceFunc) (domain.Order, bool, error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		order, err := place(ctx)
		return order, false, err
	}

	storageKey := scopedKey(ownerID, key)
	requestHash, err := hashRequest(ownerID, lines)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("hash idempotent request: %w", err)
	}

	record, err := g.repo.CreateProcessing(ctx, storageKey, requestHash, g.now().Add(g.ttl))
	if err != nil {
		order, replayErr := g.replay(err, record)
		return order, replayErr == nil || domain.IsBusinessError(replayErr), replayErr
	}

	order, runErr := place(ctx)

	// Учёт ключа не должен прерываться отменой запроса.
	bookCtx := context.WithoutCancel(ctx)
	entry := g.logger.WithField("idempotency_key", key)
	switch {
	case runErr == nil:
		body, err := json.Marshal(toSnapshot(order))
		if err == nil {
			err = g.repo.MarkDone(bookCtx, storageKey, body)
		}
		if err != nil {
			entry.WithError(err).Warn("failed to store idempotent success response")
		}
	case domain.IsBusinessError(runErr):
		body, err := json.Marshal(toFailure(runErr))
		if err == nil {
			err = g.repo.MarkFailed(bookCtx, storageKey, body)
		}
		if err != nil {
			entry.WithError(err).Warn("failed to store idempotent failure response")
		}
	default:
		if err := g.repo.Delete(bookCtx, storageKey); err != nil {
			entry.WithError(err).Warn("failed to release idempotency key")
		}
	}

	return order, false, runErr
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (domain.Order, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return domain.Order{}, domain.ErrIdempotencyHashMismatch
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			var snapshot orderSnapshot
			if err := json.Unmarshal(record.ResponseBody, &snapshot); err != nil {
				return domain.Order{}, fmt.Errorf("decode cached idempotency response: %w", err)
			}
			return snapshot.toOrder(), nil
		case domain.IdempotencyStatusFailed:
			var failure failurePayload
			if err := json.Unmarshal(record.ResponseBody, &failure); err != nil {
				return domain.Order{}, fmt.Errorf("decode cached idempotency failure: %w", err)
			}
			return domain.Order{}, failure.restore()
		case domain.IdempotencyStatusProcessing:
			return domain.Order{}, domain.ErrIdempotencyInProgress
		default:
			return domain.Order{}, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		g.logger.WithError(createErr).Warn("failed to create idempotency record")
		return domain.Order{}, &domain.TransactionFailedError{Op: "idempotency", Err: createErr}
	}
}

// scopedKey привязывает ключ клиента к владельцу. Длина owner id в префиксе делает
// разбиение однозначным: ("a", "b:c") и ("a:b", "c") дают разные ключи.
func scopedKey(ownerID, key string) string {
	return strconv.Itoa(len(ownerID)) + ":" + ownerID + ":" + key
}

func hashRequest(ownerID string, lines []domain.BasketLine) (string, error) {
	data, err := json.Marshal(struct {
		OwnerID string              `json:"owner_id"`
		Lines   []domain.BasketLine `json:"lines"`
	}{OwnerID: ownerID, Lines: lines})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type lineSnapshot struct {
	ItemID    string          `json:"item_id"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type orderSnapshot struct {
	ID         string             `json:"id"`
	OwnerID    string             `json:"owner_id"`
	Lines      []lineSnapshot     `json:"lines"`
	TotalPrice decimal.Decimal    `json:"total_price"`
	Status     domain.OrderStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
}

func toSnapshot(order domain.Order) orderSnapshot {
	lines := make([]lineSnapshot, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, lineSnapshot{ItemID: line.ItemID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	return orderSnapshot{
		ID:         order.ID,
		OwnerID:    order.OwnerID,
		Lines:      lines,
		TotalPrice: order.TotalPrice,
		Status:     order.Status,
		CreatedAt:  order.CreatedAt,
	}
}

func (s orderSnapshot) toOrder() domain.Order {
	lines := make([]domain.OrderLine, 0, len(s.Lines))
	for _, line := range s.Lines {
		lines = append(lines, domain.OrderLine{ItemID: line.ItemID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	return domain.Order{
		ID:         s.ID,
		OwnerID:    s.OwnerID,
		Lines:      lines,
		TotalPrice: s.TotalPrice,
		Status:     s.Status,
		CreatedAt:  s.CreatedAt,
	}
}

type failurePayload struct {
	Kind      domain.ErrorKind `json:"kind"`
	Message   string           `json:"message"`
	ItemID    string           `json:"item_id,omitempty"`
	Requested int32            `json:"requested,omitempty"`
	Available int32            `json:"available,omitempty"`
	Index     int              `json:"index,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

func toFailure(err error) failurePayload {
	payload := failurePayload{Kind: domain.KindOf(err), Message: err.Error()}

	var (
		notFound     *domain.ItemNotFoundError
		insufficient *domain.InsufficientStockError
		malformed    *domain.MalformedLineError
	)
	switch {
	case errors.As(err, &notFound):
		payload.ItemID = notFound.ItemID
	case errors.As(err, &insufficient):
		payload.ItemID = insufficient.ItemID
		payload.Requested = insufficient.Requested
		payload.Available = insufficient.Available
	case errors.As(err, &malformed):
		payload.Index = malformed.Index
		payload.Reason = malformed.Reason
	}
	return payload
}

func (p failurePayload) restore() error {
	switch p.Kind {
	case domain.ErrorKindEmptyBasket:
		return domain.ErrEmptyBasket
	case domain.ErrorKindOwnerRequired:
		return domain.ErrOwnerRequired
	case domain.ErrorKindMalformedLine:
		return &domain.MalformedLineError{Index: p.Index, Reason: p.Reason}
	case domain.ErrorKindItemNotFound:
		return &domain.ItemNotFoundError{ItemID: p.ItemID}
	case domain.ErrorKindInsufficientStock:
		return &domain.InsufficientStockError{ItemID: p.ItemID, Requested: p.Requested, Available: p.Available}
	default:
		return fmt.Errorf("previous request with the same idempotency key failed: %s", p.Message)
	}
}
