package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	seq        int64
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (s *Store) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	pending := make([]*outboxRecord, 0)
	for _, rec := range s.outbox {
		if rec.status == outboxStatusPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		msg := rec.msg
		msg.Payload = append([]byte(nil), rec.msg.Payload...)
		result = append(result, msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и возраст самого старого сообщения.
func (s *Store) Stats(context.Context) (domain.OutboxStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range s.outbox {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (s *Store) MarkSent(_ context.Context, id string) error {
	return s.markOutbox(id, outboxStatusSent)
}

// MarkFailed фиксирует окончательную ошибку публикации.
func (s *Store) MarkFailed(_ context.Context, id string) error {
	return s.markOutbox(id, outboxStatusFailed)
}

func (s *Store) markOutbox(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = s.now()
	return nil
}

var _ domain.OutboxRepository = (*Store)(nil)
