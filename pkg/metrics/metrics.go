// Package metrics exports facilitator counters and latencies to prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	x402 "github.com/x402-foundation/x402-multiversx"
)

const namespace = "x402"

// Metrics holds the facilitator collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	verifications   *prometheus.CounterVec
	verifyDuration  *prometheus.HistogramVec
	settlements     *prometheus.CounterVec
	settleDuration  *prometheus.HistogramVec
	sweeps          *prometheus.CounterVec
	sweptRecords    prometheus.Counter
	sweepDuration   prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers all collectors, plus the Go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Payment verifications by network, result and reason.",
		}, []string{"network", "result", "reason"}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Time spent verifying payments.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"network"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settle calls by network, result and reason.",
		}, []string{"network", "result", "reason"}),
		settleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settle_duration_seconds",
			Help:      "Time spent settling payments, broadcast included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"network"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Expiry sweeps by result.",
		}, []string{"result"}),
		sweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_records_total",
			Help:      "Expired settlement records deleted.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent per expiry sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.verifications, m.verifyDuration,
		m.settlements, m.settleDuration,
		m.sweeps, m.sweptRecords, m.sweepDuration,
		m.requests, m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AfterVerify is a facilitator hook counting successful verifications
func (m *Metrics) AfterVerify(ctx x402.FacilitatorVerifyResultContext) error {
	network := string(ctx.Network)
	m.verifications.WithLabelValues(network, "valid", "").Inc()
	m.verifyDuration.WithLabelValues(network).Observe(ctx.Duration.Seconds())
	return nil
}

// OnVerifyFailure is a facilitator hook counting rejected verifications. It never recovers.
func (m *Metrics) OnVerifyFailure(ctx x402.FacilitatorVerifyFailureContext) (*x402.FacilitatorVerifyFailureHookResult, error) {
	network := string(ctx.Network)
	m.verifications.WithLabelValues(network, "invalid", reasonLabel(ctx.Error)).Inc()
	m.verifyDuration.WithLabelValues(network).Observe(ctx.Duration.Seconds())
	return nil, nil
}

// AfterSettle is a facilitator hook counting successful settlements
func (m *Metrics) AfterSettle(ctx x402.FacilitatorSettleResultContext) error {
	network := string(ctx.Network)
	m.settlements.WithLabelValues(network, "success", "").Inc()
	m.settleDuration.WithLabelValues(network).Observe(ctx.Duration.Seconds())
	return nil
}

// OnSettleFailure is a facilitator hook counting failed settle calls
func (m *Metrics) OnSettleFailure(ctx x402.FacilitatorSettleFailureContext) error {
	network := string(ctx.Network)
	m.settlements.WithLabelValues(network, "failure", reasonLabel(ctx.Error)).Inc()
	m.settleDuration.WithLabelValues(network).Observe(ctx.Duration.Seconds())
	return nil
}

// ObserveSweep matches settlement.SweepObserver
func (m *Metrics) ObserveSweep(deleted int, duration time.Duration, err error) {
	m.sweepDuration.Observe(duration.Seconds())
	if err != nil {
		m.sweeps.WithLabelValues("error").Inc()
		return
	}
	m.sweeps.WithLabelValues("success").Inc()
	m.sweptRecords.Add(float64(deleted))
}

// ObserveRequest matches the HTTP server's request observer
func (m *Metrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// reasonLabel keeps label cardinality bounded to known reason codes
func reasonLabel(err error) string {
	if reason := x402.ReasonOf(err); reason != "" {
		return reason
	}
	return x402.ErrCodeInternal
}
