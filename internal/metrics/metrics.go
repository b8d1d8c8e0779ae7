// Package metrics собирает счётчики движка заказов в Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderengine"

// Исходы вызова шлюза.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics хранит счётчики движка в собственном реестре.
type Metrics struct {
	registry        *prometheus.Registry
	ordersPlaced    prometheus.Counter
	placementFailed prometheus.Counter
	gatewayCalls    *prometheus.CounterVec
	recurringCycles *prometheus.CounterVec
}

// New создаёт счётчики и регистрирует их вместе со стандартными метриками процесса и рантайма.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Number of successfully placed orders.",
		}),
		placementFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_placement_failures_total",
			Help:      "Number of order placements that returned errors.",
		}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		recurringCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recurring_cycles_total",
			Help:      "Processed recurring payment cycles by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.ordersPlaced,
		m.placementFailed,
		m.gatewayCalls,
		m.recurringCycles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// OrderPlaced учитывает оформленный заказ.
func (m *Metrics) OrderPlaced() { m.ordersPlaced.Inc() }

// OrderPlacementFailed учитывает неудачное оформление.
func (m *Metrics) OrderPlacementFailed() { m.placementFailed.Inc() }

// GatewayCall учитывает вызов платёжного шлюза.
func (m *Metrics) GatewayCall(operation string, success bool) {
	outcome := outcomeSuccess
	if !success {
		outcome = outcomeFailure
	}
	m.gatewayCalls.WithLabelValues(operation, outcome).Inc()
}

// RecurringCycle учитывает обработанный цикл подписки.
func (m *Metrics) RecurringCycle(outcome string) {
	m.recurringCycles.WithLabelValues(outcome).Inc()
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
