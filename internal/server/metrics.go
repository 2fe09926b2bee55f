package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	settlementsTotal *prometheus.CounterVec
	dealsTotal       *prometheus.CounterVec
	offersTotal      *prometheus.CounterVec
	escrowOpsTotal   *prometheus.CounterVec
	watcherUp        prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowbridge_settlements_total",
		Help: "Settlement invocations by outcome",
	}, []string{"outcome"})

	deals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowbridge_deals_total",
		Help: "Escrow deal creations by status",
	}, []string{"status"})

	offers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowbridge_offers_total",
		Help: "Offer lifecycle actions by status",
	}, []string{"action", "status"})

	escrowOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowbridge_escrow_ops_total",
		Help: "Manually triggered escrow choices by status",
	}, []string{"choice", "status"})

	watcherUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "escrowbridge_watcher_up",
		Help: "Whether the deposit watcher loop is running",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(settlements, deals, offers, escrowOps, watcherUp)

	return &metricsRegistry{
		registry:         r,
		settlementsTotal: settlements,
		dealsTotal:       deals,
		offersTotal:      offers,
		escrowOpsTotal:   escrowOps,
		watcherUp:        watcherUp,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incSettlement(outcome string) {
	m.settlementsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incDeal(status string) {
	m.dealsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incOffer(action, status string) {
	m.offersTotal.WithLabelValues(action, status).Inc()
}

func (m *metricsRegistry) incEscrowOp(choice, status string) {
	m.escrowOpsTotal.WithLabelValues(choice, status).Inc()
}

func (m *metricsRegistry) setWatcherUp(up bool) {
	if up {
		m.watcherUp.Set(1)
	} else {
		m.watcherUp.Set(0)
	}
}
