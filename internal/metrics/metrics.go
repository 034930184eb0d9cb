// Package metrics holds the Prometheus collectors of the planner, the store
// and the HTTP API. Each Metrics owns its registry so several instances can
// coexist in one process (tests, embedded use).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dayplan/internal/model"
)

const namespace = "dayplan"

// Run results.
const (
	ResultOK     = "ok"
	ResultError  = "error"
	ResultLocked = "locked"
)

// Metrics is the set of collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	placedTotal     *prometheus.CounterVec
	unscheduled     *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	staleRemoved    prometheus.Counter
	feedFetches     *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	queryErrors     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_runs_total",
			Help:      "Planning runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_run_duration_seconds",
			Help:      "Wall time of one owner's planning run.",
			Buckets:   prometheus.DefBuckets,
		}),
		placedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_total",
			Help:      "Instances produced by runs, new or carried forward.",
		}, []string{"origin"}),
		unscheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unscheduled_total",
			Help:      "Occurrences left unscheduled, by reason.",
		}, []string{"reason"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Conflicts reported by runs, by reason.",
		}, []string{"reason"}),
		staleRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_instances_removed_total",
			Help:      "Planned instances removed because their occurrence disappeared.",
		}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Busy feed fetches by result.",
		}, []string{"result"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database statement duration.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"operation", "table"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Failed database statements.",
		}, []string{"operation", "table"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runsTotal,
		m.runDuration,
		m.placedTotal,
		m.unscheduled,
		m.conflicts,
		m.staleRemoved,
		m.feedFetches,
		m.queryDuration,
		m.queryErrors,
		m.requestsTotal,
		m.requestDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunOutcome is what one run reports to the collectors.
type RunOutcome struct {
	Result      string
	Duration    time.Duration
	Placed      int
	Carried     int
	Stale       int
	Unscheduled []model.Unscheduled
	Conflicts   []model.Conflict
}

// ObserveRun records one finished (or refused) run.
func (m *Metrics) ObserveRun(o RunOutcome) {
	m.runsTotal.WithLabelValues(o.Result).Inc()
	if o.Result == ResultLocked {
		return
	}
	m.runDuration.Observe(o.Duration.Seconds())
	m.placedTotal.WithLabelValues("new").Add(float64(o.Placed))
	m.placedTotal.WithLabelValues("carried").Add(float64(o.Carried))
	m.staleRemoved.Add(float64(o.Stale))
	for _, u := range o.Unscheduled {
		m.unscheduled.WithLabelValues(string(u.Reason)).Inc()
	}
	for _, c := range o.Conflicts {
		m.conflicts.WithLabelValues(string(c.Reason)).Inc()
	}
}

// ObserveFeed records one feed fetch: "fresh", "cached" or "error".
func (m *Metrics) ObserveFeed(result string) {
	m.feedFetches.WithLabelValues(result).Inc()
}

// ObserveQuery records one database statement. It satisfies
// store.QueryObserver.
func (m *Metrics) ObserveQuery(op, table string, d time.Duration, err error) {
	m.queryDuration.WithLabelValues(op, table).Observe(d.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(op, table).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Middleware tracks request counts and durations by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// The pattern is only complete after routing.
		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := strconv.Itoa(wrapped.statusCode)
		m.requestDuration.WithLabelValues(r.Method, endpoint, status).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(r.Method, endpoint, status).Inc()
	})
}
