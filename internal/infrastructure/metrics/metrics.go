package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault service
type Metrics struct {
	// Storage metrics
	StorageRetries          *prometheus.CounterVec
	StorageRecoveryFailures prometheus.Counter
	UpsertRecords           *prometheus.CounterVec
	ValidationViolations    *prometheus.CounterVec

	// Account metrics
	ActiveAccounts       prometheus.Gauge
	AccountReconnections *prometheus.CounterVec
	AccountRateLimits    prometheus.Counter
	AccountHealth        *prometheus.GaugeVec
	UpstreamRequests     *prometheus.CounterVec

	// Resolution metrics
	Resolutions *prometheus.CounterVec

	// Enrichment metrics
	EnrichmentTasks    *prometheus.CounterVec
	EnrichmentDuration prometheus.Histogram
	EnrichmentQueue    prometheus.Gauge

	// Ingestion metrics
	MessagesIngested *prometheus.CounterVec
	BackfillPages    prometheus.Counter
	ActiveBackfills  prometheus.Gauge
	MediaDownloads   *prometheus.CounterVec
	DetectionsFound  *prometheus.CounterVec

	// Event relay metrics
	EventsPublished     *prometheus.CounterVec
	EventPublishErrors  *prometheus.CounterVec
	EventPublishLatency prometheus.Histogram

	// Scheduler metrics
	SchedulerCycles   prometheus.Counter
	SchedulerQueued   prometheus.Counter
	SchedulerRestarts prometheus.Counter
}

var (
	// DefaultMetrics is the default metrics instance
	DefaultMetrics *Metrics
	once           sync.Once
)

// GetDefaultMetrics returns the singleton metrics instance
func GetDefaultMetrics() *Metrics {
	once.Do(func() {
		DefaultMetrics = NewMetrics()
	})
	return DefaultMetrics
}

// NewMetrics creates a new Metrics instance registered on the default registry
func NewMetrics() *Metrics {
	return &Metrics{
		StorageRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_storage_retries_total",
				Help: "Transient storage failures retried with a fresh session",
			},
			[]string{"reason"},
		),
		StorageRecoveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgvault_storage_recovery_failures_total",
			Help: "Storage operations that exhausted every retry",
		}),
		UpsertRecords: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_upsert_records_total",
				Help: "Records processed by the conflict resolver",
			},
			[]string{"entity", "outcome"},
		),
		ValidationViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_validation_violations_total",
				Help: "Advisory validation violations found before batch writes",
			},
			[]string{"kind"},
		),

		ActiveAccounts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tgvault_active_accounts",
			Help: "Current number of connected Telegram accounts",
		}),
		AccountReconnections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_account_reconnections_total",
				Help: "Reconnection attempts by outcome",
			},
			[]string{"outcome"},
		),
		AccountRateLimits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgvault_account_rate_limits_total",
			Help: "Flood wait responses received from Telegram",
		}),
		AccountHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tgvault_account_health",
				Help: "Number of accounts per session health state",
			},
			[]string{"state"},
		),
		UpstreamRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_upstream_requests_total",
				Help: "MTProto requests by method and error kind",
			},
			[]string{"method", "result"},
		),

		Resolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_entity_resolutions_total",
				Help: "Peer resolutions by outcome",
			},
			[]string{"outcome"},
		),

		EnrichmentTasks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_enrichment_tasks_total",
				Help: "Enrichment tasks by outcome",
			},
			[]string{"outcome"},
		),
		EnrichmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgvault_enrichment_duration_seconds",
			Help:    "Duration of successful enrichments in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EnrichmentQueue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tgvault_enrichment_queue_depth",
			Help: "Tasks waiting in the enrichment queue",
		}),

		MessagesIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_messages_ingested_total",
				Help: "Messages stored by ingestion mode",
			},
			[]string{"mode"},
		),
		BackfillPages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgvault_backfill_pages_total",
			Help: "History pages processed by backfills",
		}),
		ActiveBackfills: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tgvault_active_backfills",
			Help: "Backfills currently running",
		}),
		MediaDownloads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_media_downloads_total",
				Help: "Media downloads by final status",
			},
			[]string{"status"},
		),
		DetectionsFound: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_detections_total",
				Help: "Sensitive patterns found in message text",
			},
			[]string{"kind"},
		),

		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_events_published_total",
				Help: "Outbound events handed to a relay",
			},
			[]string{"transport", "type"},
		),
		EventPublishErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgvault_event_publish_errors_total",
				Help: "Outbound events a relay failed to deliver",
			},
			[]string{"transport"},
		),
		EventPublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgvault_event_publish_duration_seconds",
			Help:    "Latency between publish and broker acknowledgement",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		SchedulerCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgvault_passive_cycles_total",
			Help: "Completed passive enrichment cycles",
		}),
		SchedulerQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgvault_passive_queued_total",
			Help: "Users queued by the passive enrichment scheduler",
		}),
		SchedulerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tgvault_passive_restarts_total",
			Help: "Times the watchdog restarted a dead passive enrichment loop",
		}),
	}
}

// RecordStorageRetry records one transient storage failure
func (m *Metrics) RecordStorageRetry(reason string) {
	if m == nil {
		return
	}
	m.StorageRetries.WithLabelValues(reason).Inc()
}

// RecordStorageRecoveryFailed records an operation that used every retry
func (m *Metrics) RecordStorageRecoveryFailed() {
	if m == nil {
		return
	}
	m.StorageRecoveryFailures.Inc()
}

// RecordUpsert records resolver outcomes for one entity type
func (m *Metrics) RecordUpsert(entity, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.UpsertRecords.WithLabelValues(entity, outcome).Add(float64(n))
}

// RecordValidationViolations records advisory violations
func (m *Metrics) RecordValidationViolations(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ValidationViolations.WithLabelValues(kind).Add(float64(n))
}

// SetActiveAccounts updates the connected account gauge
func (m *Metrics) SetActiveAccounts(n int) {
	if m == nil {
		return
	}
	m.ActiveAccounts.Set(float64(n))
}

// RecordReconnection records a reconnection attempt outcome
func (m *Metrics) RecordReconnection(outcome string) {
	if m == nil {
		return
	}
	m.AccountReconnections.WithLabelValues(outcome).Inc()
}

// RecordRateLimit records a flood wait response
func (m *Metrics) RecordRateLimit() {
	if m == nil {
		return
	}
	m.AccountRateLimits.Inc()
}

// RecordUpstreamRequest records one MTProto call and its result kind
func (m *Metrics) RecordUpstreamRequest(method, result string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(method, result).Inc()
}

// SetAccountHealth replaces the per-state account counts
func (m *Metrics) SetAccountHealth(counts map[string]int) {
	if m == nil {
		return
	}
	m.AccountHealth.Reset()
	for state, n := range counts {
		m.AccountHealth.WithLabelValues(state).Set(float64(n))
	}
}

// RecordResolution records a peer resolution outcome
func (m *Metrics) RecordResolution(outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

// RecordEnrichment records an enrichment task outcome and its duration in seconds
func (m *Metrics) RecordEnrichment(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.EnrichmentTasks.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.EnrichmentDuration.Observe(duration)
	}
}

// SetEnrichmentQueueDepth updates the queue depth gauge
func (m *Metrics) SetEnrichmentQueueDepth(n int) {
	if m == nil {
		return
	}
	m.EnrichmentQueue.Set(float64(n))
}

// RecordMessagesIngested records stored messages for an ingestion mode
func (m *Metrics) RecordMessagesIngested(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesIngested.WithLabelValues(mode).Add(float64(n))
}

// RecordBackfillPage records one processed history page
func (m *Metrics) RecordBackfillPage() {
	if m == nil {
		return
	}
	m.BackfillPages.Inc()
}

// SetActiveBackfills updates the running backfill gauge
func (m *Metrics) SetActiveBackfills(n int) {
	if m == nil {
		return
	}
	m.ActiveBackfills.Set(float64(n))
}

// RecordMediaDownload records a media download outcome
func (m *Metrics) RecordMediaDownload(status string) {
	if m == nil {
		return
	}
	m.MediaDownloads.WithLabelValues(status).Inc()
}

// RecordDetection records a sensitive pattern hit
func (m *Metrics) RecordDetection(kind string) {
	if m == nil {
		return
	}
	m.DetectionsFound.WithLabelValues(kind).Inc()
}

// RecordEventPublished records an event handed to a relay
func (m *Metrics) RecordEventPublished(transport, eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(transport, eventType).Inc()
}

// RecordEventPublishError records a relay delivery failure
func (m *Metrics) RecordEventPublishError(transport string) {
	if m == nil {
		return
	}
	m.EventPublishErrors.WithLabelValues(transport).Inc()
}

// RecordEventLatency records broker acknowledgement latency in seconds
func (m *Metrics) RecordEventLatency(seconds float64) {
	if m == nil {
		return
	}
	m.EventPublishLatency.Observe(seconds)
}

// RecordSchedulerCycle records a passive cycle and the number of users it queued
func (m *Metrics) RecordSchedulerCycle(queued int) {
	if m == nil {
		return
	}
	m.SchedulerCycles.Inc()
	if queued > 0 {
		m.SchedulerQueued.Add(float64(queued))
	}
}

// RecordSchedulerRestart records a watchdog restart
func (m *Metrics) RecordSchedulerRestart() {
	if m == nil {
		return
	}
	m.SchedulerRestarts.Inc()
}
