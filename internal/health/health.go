// Package health содержит HTTP-пробы /healthz, /livez и /readyz с проверками зависимостей.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// DefaultCheckTimeout ограничивает одну проверку.
const DefaultCheckTimeout = 2 * time.Second

// Check представляет проверку здоровья компонента
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Pinger — зависимость, которую можно проверить запросом ping (хранилище, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler обрабатывает health check запросы
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startTime time.Time
}

// NewHandler создаёт новый health handler
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   DefaultCheckTimeout,
		startTime: time.Now(),
	}
}

// SetTimeout меняет таймаут одной проверки.
func (h *Handler) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	h.mu.Lock()
	h.timeout = timeout
	h.mu.Unlock()
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Run выполняет все проверки параллельно и сводит общий статус.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name, checker := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, checker)
	}
	timeout := h.timeout
	h.mu.RUnlock()

	results := make([]Check, len(checkers))
	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = checker.Check(checkCtx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]Check, len(results))
	overall := StatusHealthy
	for i, check := range results {
		checks[names[i]] = check
		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отдаёт подробный отчёт. 503, если хотя бы один компонент unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Run(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler проверяет готовность к обработке запросов.
// Деградация необязательных компонентов готовность не снимает.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.Run(r.Context())
	if response.Status == StatusUnhealthy {
		failed := make([]string, 0)
		for name, check := range response.Checks {
			if check.Status == StatusUnhealthy {
				failed = append(failed, name)
			}
		}
		sort.Strings(failed)

		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		for _, name := range failed {
			_, _ = w.Write([]byte(" " + name))
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker проверяет зависимость через Ping.
type PingChecker struct {
	name     string
	pinger   Pinger
	critical bool
}

// NewPingChecker создаёт проверку. Сбой некритичной зависимости даёт degraded, а не unhealthy.
func NewPingChecker(name string, pinger Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, pinger: pinger, critical: critical}
}

// Check выполняет проверку
func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.pinger.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		status := StatusDegraded
		if c.critical {
			status = StatusUnhealthy
		}
		return Check{
			Name:       c.name,
			Status:     status,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}

// PingFunc адаптирует функцию к Pinger.
type PingFunc func(ctx context.Context) error

// Ping вызывает f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
