// Package metrics provides Prometheus-based metrics collection for vigil.
// All collectors live on a dedicated registry exposed through the API's
// /metrics endpoint.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all vigil metrics
	namespace = "vigil"

	// Subsystems
	subsystemJob       = "job"
	subsystemScheduler = "scheduler"
	subsystemDatabase  = "database"
	subsystemAPI       = "api"
	subsystemSystem    = "system"
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	// Job metrics
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobErrors        *prometheus.CounterVec
	activeJobs       prometheus.Gauge
	queuedJobs       prometheus.Gauge
	admissionRejects prometheus.Counter

	// Scheduler metrics
	schedulerSpawned prometheus.Counter
	schedulerSkipped prometheus.Counter
	schedulerTicks   prometheus.Counter

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	dbConnections   prometheus.Gauge

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
	registry  *prometheus.Registry
}

// New creates a metrics instance with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,
	}

	m.initJobMetrics()
	m.initSchedulerMetrics()
	m.initDatabaseMetrics()
	m.initAPIMetrics()
	m.initSystemMetrics()
	m.registerMetrics()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) initJobMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "total",
			Help:      "Total number of scan jobs by type and terminal status",
		},
		[]string{"scan_type", "status"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "duration_seconds",
			Help:      "Duration of scan job execution in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0},
		},
		[]string{"scan_type"},
	)

	m.jobErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "errors_total",
			Help:      "Total number of job failures by type and error",
		},
		[]string{"scan_type", "error_type"},
	)

	m.activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "active",
			Help:      "Number of jobs currently running",
		},
	)

	m.queuedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "queued",
			Help:      "Number of jobs waiting for admission",
		},
	)

	m.admissionRejects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJob,
			Name:      "admission_rejects_total",
			Help:      "Total number of submissions rejected for queue overflow",
		},
	)
}

func (m *Metrics) initSchedulerMetrics() {
	m.schedulerSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "spawned_total",
			Help:      "Total number of jobs spawned from scheduled definitions",
		},
	)

	m.schedulerSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "skipped_total",
			Help:      "Total number of due runs skipped because admission rejected them",
		},
	)

	m.schedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScheduler,
			Name:      "ticks_total",
			Help:      "Total number of scheduler sweeps",
		},
	)
}

func (m *Metrics) initDatabaseMetrics() {
	m.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	m.dbConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)
}

func (m *Metrics) initAPIMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

func (m *Metrics) initSystemMetrics() {
	m.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	m.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	m.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.jobsTotal)
	m.registry.MustRegister(m.jobDuration)
	m.registry.MustRegister(m.jobErrors)
	m.registry.MustRegister(m.activeJobs)
	m.registry.MustRegister(m.queuedJobs)
	m.registry.MustRegister(m.admissionRejects)

	m.registry.MustRegister(m.schedulerSpawned)
	m.registry.MustRegister(m.schedulerSkipped)
	m.registry.MustRegister(m.schedulerTicks)

	m.registry.MustRegister(m.dbQueries)
	m.registry.MustRegister(m.dbQueryDuration)
	m.registry.MustRegister(m.dbConnections)

	m.registry.MustRegister(m.httpRequests)
	m.registry.MustRegister(m.httpDuration)

	m.registry.MustRegister(m.memoryUsage)
	m.registry.MustRegister(m.goroutines)
	m.registry.MustRegister(m.uptime)
}

// Registry returns the Prometheus registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Job metrics

// IncrementJobsTotal increments the job counter for a terminal status.
func (m *Metrics) IncrementJobsTotal(scanType, status string) {
	m.jobsTotal.WithLabelValues(scanType, status).Inc()
}

// RecordJobDuration records how long a job executed.
func (m *Metrics) RecordJobDuration(scanType string, duration time.Duration) {
	m.jobDuration.WithLabelValues(scanType).Observe(duration.Seconds())
}

// IncrementJobErrors increments the job failure counter.
func (m *Metrics) IncrementJobErrors(scanType, errorType string) {
	m.jobErrors.WithLabelValues(scanType, errorType).Inc()
}

// SetActiveJobs sets the number of running jobs.
func (m *Metrics) SetActiveJobs(count int) {
	m.activeJobs.Set(float64(count))
}

// SetQueuedJobs sets the number of jobs waiting for admission.
func (m *Metrics) SetQueuedJobs(count int) {
	m.queuedJobs.Set(float64(count))
}

// IncrementAdmissionRejects increments the queue-overflow rejection counter.
func (m *Metrics) IncrementAdmissionRejects() {
	m.admissionRejects.Inc()
}

// Scheduler metrics

// IncrementSchedulerSpawned increments the spawned-run counter.
func (m *Metrics) IncrementSchedulerSpawned() {
	m.schedulerSpawned.Inc()
}

// IncrementSchedulerSkipped increments the skipped-run counter.
func (m *Metrics) IncrementSchedulerSkipped() {
	m.schedulerSkipped.Inc()
}

// IncrementSchedulerTicks increments the sweep counter.
func (m *Metrics) IncrementSchedulerTicks() {
	m.schedulerTicks.Inc()
}

// Database metrics

// RecordDatabaseQuery records one query with its outcome and duration.
func (m *Metrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.dbQueries.WithLabelValues(operation, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveConnections sets the number of active database connections.
func (m *Metrics) SetActiveConnections(count int) {
	m.dbConnections.Set(float64(count))
}

// API metrics

// IncrementHTTPRequests increments the HTTP request counter.
func (m *Metrics) IncrementHTTPRequests(method, path, status string) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records an HTTP request duration.
func (m *Metrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System metrics

// UpdateSystemMetrics refreshes memory, goroutine, and uptime gauges.
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsage.Set(float64(memStats.Alloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.uptime.Set(time.Since(m.startTime).Seconds())
}

// StartPeriodicUpdates refreshes system metrics until the context ends.
func (m *Metrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateSystemMetrics()
		}
	}
}

// Uptime returns the application uptime.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
