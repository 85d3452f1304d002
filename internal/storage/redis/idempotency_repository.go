// Package redis хранит ключи идемпотентности в Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	// DefaultKeyPrefix — префикс ключей идемпотентности в Redis.
	DefaultKeyPrefix = "storefront:idem:"

	defaultIdempotencyTTL = 24 * time.Hour
	minKeyTTL             = time.Millisecond
)

// NewClient создаёт клиента Redis и проверяет соединение.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ClientName:   version.ClientID("storefront"),
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// storedRecord — JSON-представление записи в Redis.
type storedRecord struct {
	RequestHash  string    `json:"request_hash"`
	Status       string    `json:"status"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IdempotencyRepository реализует domain.IdempotencyRepository поверх Redis.
// Срок жизни записи задаётся TTL ключа, поэтому DeleteExpired ничего не делает.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий. Пустой prefix заменяется DefaultKeyPrefix.
func NewIdempotencyRepository(client goredis.UniversalClient, prefix string) *IdempotencyRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &IdempotencyRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ через SET NX с TTL до ttlAt.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}
	ttl := ttlAt.Sub(now)
	if ttl < minKeyTTL {
		ttl = minKeyTTL
	}

	stored := storedRecord{
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.prefix+key, raw, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if !created {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return toRecord(key, stored), nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	stored, err := r.load(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return toRecord(key, stored), nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody)
}

func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired — no-op: Redis удаляет ключи по TTL.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	stored, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	stored.Status = string(status)
	stored.ResponseBody = append([]byte(nil), responseBody...)
	stored.UpdatedAt = r.now()

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	// XX + KEEPTTL: запись обновляется, только пока ключ жив, срок жизни не продлевается.
	err = r.client.SetArgs(ctx, r.prefix+key, raw, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) load(ctx context.Context, key string) (storedRecord, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storedRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return storedRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return storedRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	if !domain.IdempotencyStatus(stored.Status).Valid() {
		return storedRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", stored.Status, key)
	}
	return stored, nil
}

func toRecord(key string, stored storedRecord) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  stored.RequestHash,
		ResponseBody: append([]byte(nil), stored.ResponseBody...),
		Status:       domain.IdempotencyStatus(stored.Status),
		TTLAt:        stored.TTLAt.UTC(),
		CreatedAt:    stored.CreatedAt.UTC(),
		UpdatedAt:    stored.UpdatedAt.UTC(),
	}
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
