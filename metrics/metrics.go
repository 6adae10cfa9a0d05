// Package metrics exposes prometheus collectors for the proving service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zkattest/nitro-prover/proverr"
)

const namespace = "prover"

// Metrics holds every collector of the service on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.SummaryVec

	jobs         *prometheus.CounterVec
	jobWait      prometheus.Histogram
	jobDuration  *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	activeJobs   prometheus.Gauge
	rejectedJobs prometheus.Counter

	cacheLookups *prometheus.CounterVec
}

// New registers the collectors, plus the Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	// Proofs take from seconds to many minutes.
	provingBuckets := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   append([]float64{0.001, 0.01, 0.1, 0.5}, provingBuckets...),
		}, []string{"method", "path"}),
		requestSize: factory.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  namespace,
			Subsystem:  "http",
			Name:       "request_size_bytes",
			Help:       "HTTP request size in bytes",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"method", "path"}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_total",
			Help:      "Finished proving jobs by name and failure category",
		}, []string{"job", "category"}),
		jobWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_wait_seconds",
			Help:      "Time jobs spent queued before a worker picked them up",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Proving job run time",
			Buckets:   provingBuckets,
		}, []string{"job"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a proving worker",
		}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_jobs",
			Help:      "Jobs currently running on a proving worker",
		}),
		rejectedJobs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "rejected_jobs_total",
			Help:      "Jobs refused because the queue was full",
		}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Proof cache lookups by result",
		}, []string{"result"}),
	}
}

// Registry is the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, size int64, elapsed time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
	if size > 0 {
		m.requestSize.WithLabelValues(method, path).Observe(float64(size))
	}
}

// CacheLookup records a proof cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Queued(depth int) { m.queueDepth.Set(float64(depth)) }

func (m *Metrics) Started(_ string, wait time.Duration, active int) {
	m.jobWait.Observe(wait.Seconds())
	m.activeJobs.Set(float64(active))
}

func (m *Metrics) Finished(name string, run time.Duration, err error, active int) {
	category := string(proverr.Of(err))
	if category == "" {
		category = "ok"
	}
	m.jobs.WithLabelValues(name, category).Inc()
	m.jobDuration.WithLabelValues(name).Observe(run.Seconds())
	m.activeJobs.Set(float64(active))
}

func (m *Metrics) Rejected(string) { m.rejectedJobs.Inc() }
