package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/loyalty-enrollment-api/internal/models"
)

// Resolve outcome labels.
const (
	ResolveOutcomeApproved        = "approved"
	ResolveOutcomeRejected        = "rejected"
	ResolveOutcomeAlreadyResolved = "already_resolved"
	ResolveOutcomeFailed          = "failed"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the enrollment engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	txDuration      *prometheus.HistogramVec
	txRetries       prometheus.Counter
	resolveTotal    *prometheus.CounterVec
	cardsMinted     prometheus.Counter
	cardCollisions  prometheus.Counter
	reconcileItems  *prometheus.CounterVec
	integrityIssues *prometheus.GaugeVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	txDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_tx_duration_seconds",
		Help:    "Duration of engine transactions by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	txRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_tx_retries_total",
		Help: "Transactions retried after a transient storage failure",
	})

	resolveTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_resolve_total",
		Help: "Approval request resolutions by outcome",
	}, []string{"outcome"})

	cardsMinted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_cards_minted_total",
		Help: "Loyalty cards issued",
	})

	cardCollisions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_card_number_collisions_total",
		Help: "Card number candidates rejected by the uniqueness index",
	})

	reconcileItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_reconcile_items_total",
		Help: "Items handled by reconciliation by result",
	}, []string{"result"})

	integrityIssues := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_integrity_issues",
		Help: "Issues found by the last integrity validation by kind",
	}, []string{"kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		txDuration, txRetries, resolveTotal, cardsMinted, cardCollisions, reconcileItems, integrityIssues, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		txDuration:      txDuration,
		txRetries:       txRetries,
		resolveTotal:    resolveTotal,
		cardsMinted:     cardsMinted,
		cardCollisions:  cardCollisions,
		reconcileItems:  reconcileItems,
		integrityIssues: integrityIssues,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveTx records one transaction attempt.
func (m *MetricsService) ObserveTx(committed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "rolled_back"
	if committed {
		outcome = "committed"
	}
	m.txDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordTxRetry counts a transaction retried after a transient failure.
func (m *MetricsService) RecordTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// RecordResolve counts a resolve call by outcome.
func (m *MetricsService) RecordResolve(outcome string) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(outcome).Inc()
}

// RecordCardMinted counts an issued card.
func (m *MetricsService) RecordCardMinted() {
	if m == nil {
		return
	}
	m.cardsMinted.Inc()
}

// RecordCardCollision counts a card number rejected by storage.
func (m *MetricsService) RecordCardCollision() {
	if m == nil {
		return
	}
	m.cardCollisions.Inc()
}

// RecordReconcile adds the totals of a finished reconciliation run.
func (m *MetricsService) RecordReconcile(summary *models.ReconcileSummary) {
	if m == nil || summary == nil {
		return
	}
	m.reconcileItems.WithLabelValues("repaired").Add(float64(summary.Repaired))
	m.reconcileItems.WithLabelValues("failed").Add(float64(summary.Failed))
	m.reconcileItems.WithLabelValues("expired").Add(float64(summary.Expired))
}

// SetIntegrityIssues publishes the issue counts of a validation run. Kinds
// absent from issues are reset to zero.
func (m *MetricsService) SetIntegrityIssues(issues []models.IntegrityIssue) {
	if m == nil {
		return
	}
	counts := make(map[models.IssueKind]int, len(models.IssueKinds))
	for _, kind := range models.IssueKinds {
		counts[kind] = 0
	}
	for _, issue := range issues {
		counts[issue.Kind]++
	}
	for kind, count := range counts {
		m.integrityIssues.WithLabelValues(string(kind)).Set(float64(count))
	}
}
