package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perpguard"

// Order lifecycle events.
const (
	EventSubmit           = "submit"
	EventSubmitError      = "submit_error"
	EventReject           = "reject"
	EventFill             = "fill"
	EventExpire           = "expire"
	EventCancel           = "cancel"
	EventCancelError      = "cancel_error"
	EventProtectiveSubmit = "protective_submit"
	EventProtectiveError  = "protective_error"
)

// Metrics wraps the prometheus collectors of the trader. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	orders        *prometheus.CounterVec
	riskReasons   *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	frozen        prometheus.Gauge
	nav           prometheus.Gauge
	notifyStreak  prometheus.Gauge
	positionQty   *prometheus.GaugeVec
	positionEntry *prometheus.GaugeVec
	funding       *prometheus.GaugeVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order lifecycle events by event and symbol.",
		}, []string{"event", "symbol"}),
		riskReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_decisions_total",
			Help:      "Risk guard decisions by reason; empty reason is an approval.",
		}, []string{"reason"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Trading cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one trading cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		frozen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frozen",
			Help:      "1 while the risk circuit breaker is set.",
		}),
		nav: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nav",
			Help:      "Account value in quote currency.",
		}),
		notifyStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notify_failure_streak",
			Help:      "Consecutive notifier failures.",
		}),
		positionQty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_qty",
			Help:      "Open position size, negative for shorts.",
		}, []string{"symbol"}),
		positionEntry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_entry_price",
			Help:      "Weighted average entry price of the open position.",
		}, []string{"symbol"}),
		funding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "funding_annualized",
			Help:      "Annualized funding rate.",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.orders,
		m.riskReasons,
		m.cycles,
		m.cycleDuration,
		m.frozen,
		m.nav,
		m.notifyStreak,
		m.positionQty,
		m.positionEntry,
		m.funding,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveOrder(event, symbol string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(event, symbol).Inc()
}

func (m *Metrics) IncRiskReason(reason string) {
	if m == nil {
		return
	}
	m.riskReasons.WithLabelValues(reason).Inc()
}

// ObserveCycle records the duration and result of one cycle.
func (m *Metrics) ObserveCycle(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) SetFrozen(frozen bool) {
	if m == nil {
		return
	}
	if frozen {
		m.frozen.Set(1)
		return
	}
	m.frozen.Set(0)
}

func (m *Metrics) SetNAV(nav float64) {
	if m == nil {
		return
	}
	m.nav.Set(nav)
}

func (m *Metrics) SetNotifyFailureStreak(n int) {
	if m == nil {
		return
	}
	m.notifyStreak.Set(float64(n))
}

func (m *Metrics) SetPosition(symbol string, signedQty, entry float64) {
	if m == nil {
		return
	}
	m.positionQty.WithLabelValues(symbol).Set(signedQty)
	m.positionEntry.WithLabelValues(symbol).Set(entry)
}

func (m *Metrics) SetFunding(symbol string, annualized float64) {
	if m == nil {
		return
	}
	m.funding.WithLabelValues(symbol).Set(annualized)
}
