package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spooky-finn/go-orderbook-sync/domain"
)

// Metrics of the order book maintainers, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	OpenOrderBookGauge prometheus.Gauge
	SyncState          *prometheus.GaugeVec
	StateTransitions   *prometheus.CounterVec
	Resyncs            *prometheus.CounterVec
	Updates            *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OpenOrderBookGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderbook_open_order_books",
			Help: "number of order books being maintained",
		}),
		SyncState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderbook_sync_state",
			Help: "current sync state per symbol (0 uninitialized, 1 buffering, 2 synced, 3 resyncing, 4 fatal)",
		}, []string{"symbol"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_state_transitions_total",
			Help: "sync state transitions per symbol and target state",
		}, []string{"symbol", "state"}),
		Resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_resyncs_total",
			Help: "order book resyncs per symbol and reason",
		}, []string{"symbol", "reason"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_depth_updates_total",
			Help: "depth updates per symbol and outcome",
		}, []string{"symbol", "outcome"}),
	}

	m.registry.MustRegister(
		m.OpenOrderBookGauge,
		m.SyncState,
		m.StateTransitions,
		m.Resyncs,
		m.Updates,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks feed the maintainer events into the metrics.
func (m *Metrics) Hooks() domain.MaintainerHooks {
	return domain.MaintainerHooks{
		OnStateChange: func(change domain.StateChange) {
			m.SyncState.WithLabelValues(change.Symbol).Set(float64(change.To))
			m.StateTransitions.WithLabelValues(change.Symbol, change.To.String()).Inc()
			if change.To == domain.SyncState_Resyncing {
				m.Resyncs.WithLabelValues(change.Symbol, domain.ResyncReason(change.Reason)).Inc()
			}
		},
		OnUpdate: func(symbol string, outcome domain.UpdateOutcome) {
			m.Updates.WithLabelValues(symbol, string(outcome)).Inc()
		},
	}
}

func (m *Metrics) Tracked(symbol string, count int) {
	m.OpenOrderBookGauge.Set(float64(count))
}

func (m *Metrics) Untracked(symbol string, count int) {
	m.OpenOrderBookGauge.Set(float64(count))
	m.Forget(symbol)
}

// Forget drops the per symbol series of an untracked order book.
func (m *Metrics) Forget(symbol string) {
	m.SyncState.DeleteLabelValues(symbol)
	m.StateTransitions.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
	m.Resyncs.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
	m.Updates.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
}
