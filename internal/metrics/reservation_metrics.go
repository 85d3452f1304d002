// Package metrics содержит Prometheus-метрики размещения заказов.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы попытки размещения заказа (значения label outcome).
const (
	OutcomePlaced            = "placed"
	OutcomeEmptyBasket       = "empty_basket"
	OutcomeMalformedLine     = "malformed_line"
	OutcomeItemNotFound      = "item_not_found"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeTransactionFailed = "transaction_failed"
	OutcomeRejected          = "rejected"
)

// ReservationMetrics содержит метрики координатора резервирования.
// Методы безопасно вызывать на nil-получателе.
type ReservationMetrics struct {
	// Счётчики исходов
	attempts *prometheus.CounterVec
	retries  prometheus.Counter

	// Гистограммы
	duration   *prometheus.HistogramVec
	basketSize prometheus.Histogram
	unitsSold  prometheus.Counter

	inFlight prometheus.Gauge
}

// NewReservationMetrics регистрирует метрики в registerer (DefaultRegisterer, если nil).
// Повторная регистрация возвращает уже существующие коллекторы.
func NewReservationMetrics(registerer prometheus.Registerer) *ReservationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReservationMetrics{
		attempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_order_placements_total",
			Help: "Order placement attempts by outcome",
		}, []string{"outcome"})),
		retries: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_order_placement_retries_total",
			Help: "Order placement attempts retried after a stock version conflict",
		})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_order_placement_duration_seconds",
			Help:    "Duration of order placement including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"outcome"})),
		basketSize: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_order_basket_lines",
			Help:    "Number of lines in placed baskets",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		})),
		unitsSold: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_units_reserved_total",
			Help: "Stock units deducted by committed orders",
		})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_order_placements_in_flight",
			Help: "Order placements currently being processed",
		})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// Started отмечает начало размещения и возвращает функцию завершения.
func (m *ReservationMetrics) Started() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(outcome string) {
		m.inFlight.Dec()
		m.attempts.WithLabelValues(outcome).Inc()
		m.duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// RecordRetry увеличивает счётчик повторов после конфликта версий.
func (m *ReservationMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// RecordPlaced фиксирует размер корзины и количество списанных единиц.
func (m *ReservationMetrics) RecordPlaced(lines int, units int64) {
	if m == nil {
		return
	}
	m.basketSize.Observe(float64(lines))
	m.unitsSold.Add(float64(units))
}
