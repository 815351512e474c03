// Package metrics exposes the service's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campusid"

type Metrics struct {
	validations        *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	signals            *prometheus.CounterVec
	lockouts           prometheus.Counter
	syncEntries        *prometheus.CounterVec
	emergencyAffected  *prometheus.CounterVec
	credentialsIssued  *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	occupancy          *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them on reg. When reg is nil a
// private registry is used.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Access validations by result, reason and mode.",
		}, []string{"result", "reason", "mode"}),
		validationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Time to produce a validation decision.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"mode"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_signals_total",
			Help:      "Security signals emitted by kind and cause.",
		}, []string{"kind", "cause"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Lockouts started.",
		}),
		syncEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_entries_total",
			Help:      "Offline log entries reconciled, by outcome.",
		}, []string{"outcome"}),
		emergencyAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_credentials_total",
			Help:      "Credentials touched by emergency actions.",
		}, []string{"action"}),
		credentialsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Credentials issued by role.",
		}, []string{"role"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Pending entries in the local offline queue.",
		}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "facility_occupancy",
			Help:      "Current tracked occupancy by facility.",
		}, []string{"facility"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}

	for _, c := range []prometheus.Collector{
		m.validations, m.validationDuration, m.signals, m.lockouts, m.syncEntries,
		m.emergencyAffected, m.credentialsIssued, m.queueDepth, m.occupancy,
		m.httpRequests, m.httpDuration,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// registerCollector ignores duplicate registration.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func mode(offline bool) string {
	if offline {
		return "offline"
	}
	return "online"
}

func (m *Metrics) ObserveValidation(result, reason string, offline bool, d time.Duration) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result, reason, mode(offline)).Inc()
	m.validationDuration.WithLabelValues(mode(offline)).Observe(d.Seconds())
}

func (m *Metrics) Signal(kind, cause string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(kind, cause).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) SyncEntry(outcome string) {
	if m == nil {
		return
	}
	m.syncEntries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EmergencyAffected(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.emergencyAffected.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) CredentialIssued(role string) {
	if m == nil {
		return
	}
	m.credentialsIssued.WithLabelValues(role).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetOccupancy(facilityID string, n int) {
	if m == nil {
		return
	}
	m.occupancy.WithLabelValues(facilityID).Set(float64(n))
}

// Middleware records request counts and latency labelled by the chi route
// pattern, which keeps label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}
