// Package metrics exposes the engine's Prometheus collectors and the small
// HTTP instrumentation wrapper used by the admin server.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/arpa2/lcengine/internal/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this process registers. A private
	// registry (rather than prometheus.DefaultRegisterer) keeps /metrics
	// output limited to what this engine actually emits.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lcengine",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight admin HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcengine",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of admin HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lcengine",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of admin HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	txnCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcengine",
		Subsystem: "txn",
		Name:      "commits_total",
		Help:      "Total number of transaction commits, by outcome.",
	}, []string{"env", "outcome"})

	txnAborts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcengine",
		Subsystem: "txn",
		Name:      "aborts_total",
		Help:      "Total number of transaction aborts, by reason.",
	}, []string{"env", "reason"})

	objectsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lcengine",
		Subsystem: "env",
		Name:      "objects",
		Help:      "Current number of committed LcObjects per environment.",
	}, []string{"env"})

	timersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcengine",
		Subsystem: "scheduler",
		Name:      "timers_fired_total",
		Help:      "Total number of timer events dispatched to drivers, by life cycle name.",
	}, []string{"env", "lifecycle", "outcome"})

	timersMissed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lcengine",
		Subsystem: "scheduler",
		Name:      "timers_missed_total",
		Help:      "Total number of fired timers not observed to advance before the next check.",
	}, []string{"env"})

	iterationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lcengine",
		Subsystem: "scheduler",
		Name:      "iteration_duration_seconds",
		Help:      "Wall time spent in one scheduler iteration (advance+sort+fire).",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"env"})

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		txnCommits,
		txnAborts,
		objectsGauge,
		timersFired,
		timersMissed,
		iterationDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCommit records a transaction commit outcome for an environment.
func RecordCommit(env string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	txnCommits.WithLabelValues(env, outcome).Inc()
}

// RecordAbort records why a transaction was broken.
func RecordAbort(env, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	txnAborts.WithLabelValues(env, reason).Inc()
}

// SetObjectCount publishes the current committed object count for an environment.
func SetObjectCount(env string, count int) {
	objectsGauge.WithLabelValues(env).Set(float64(count))
}

// RecordTimerFired records a dispatched (or undeliverable) timer event.
func RecordTimerFired(env, lifecycle string, delivered bool) {
	outcome := "undelivered"
	if delivered {
		outcome = "delivered"
	}
	timersFired.WithLabelValues(env, lifecycle, outcome).Inc()
}

// RecordTimerMissed records a state whose missed_count was incremented.
func RecordTimerMissed(env string) {
	timersMissed.WithLabelValues(env).Inc()
}

// ObserveIteration records how long one scheduler iteration took.
func ObserveIteration(env string, d time.Duration) {
	iterationDuration.WithLabelValues(env).Observe(d.Seconds())
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus metrics,
// keyed by namespace/subsystem/name so repeated calls share one collector pair.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			collector.gauge.WithLabelValues(metaLabel(meta)).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name + "_in_flight",
		Help:      "Current operations in flight for " + subsystem,
	}, []string{"resource"})
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name + "_duration_seconds",
		Help:      "Duration of operations for " + subsystem,
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"resource", "status"})
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["env"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// EnvTransactionHooks captures open..commit/rollback span timing for one environment.
func EnvTransactionHooks() core.ObservationHooks {
	return ObservationHooks("lcengine", "txn", "span")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so /debug/environments/<id> style
// routes don't create unbounded label cardinality.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "debug" {
		return "/" + parts[0]
	}
	if len(parts) <= 2 {
		return "/" + strings.Join(parts, "/")
	}
	return "/debug/environments/:env"
}
