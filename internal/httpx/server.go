// Package httpx — REST-шлюз витрины на chi поверх тех же сервисов, что и gRPC API.
package httpx

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Заголовки идентичности и идемпотентности, которые выставляет внешний аутентификатор.
const (
	HeaderOwnerID        = "X-Owner-ID"
	HeaderOwnerRole      = "X-Owner-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// DefaultRequestTimeout ограничивает обработку одного запроса.
const DefaultRequestTimeout = 15 * time.Second

// NewRouter собирает chi-роутер с общими middleware и маршрутами обработчика.
func NewRouter(h *Handler, timeout time.Duration) *chi.Mux {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(requestLogger(h.logger))

	h.Register(r)
	return r
}
