package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stickerforge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	ImageUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stickerforge_image_upload_size_bytes",
			Help:    "Size of uploaded source photos in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10), // 64KB to 32MB
		},
	)

	// Generation Metrics
	GenerationJobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_generation_jobs_submitted_total",
			Help: "Total number of generation jobs accepted by the provider",
		},
		[]string{"mode", "plan", "transport"},
	)

	GenerationFallbackUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_generation_fallback_uploads_total",
			Help: "Total number of uploads to the fallback file host",
		},
		[]string{"status"},
	)

	GenerationRecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_generation_records_total",
			Help: "Generation records written after a successful poll",
		},
		[]string{"mode", "result"},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stickerforge_quota_rejections_total",
			Help: "Total number of generation requests rejected by the free-plan quota",
		},
	)

	// Provider Metrics
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stickerforge_provider_request_duration_seconds",
			Help:    "Latency of outbound calls to partner APIs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_provider_errors_total",
			Help: "Total number of failed outbound partner calls",
		},
		[]string{"provider", "operation"},
	)

	// Catalog Metrics
	CatalogCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stickerforge_catalog_cache_hits_total",
			Help: "Variant cache hits",
		},
	)

	CatalogCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stickerforge_catalog_cache_misses_total",
			Help: "Variant cache misses",
		},
	)

	CatalogFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_catalog_fetches_total",
			Help: "Partner catalog fetches",
		},
		[]string{"status"},
	)

	// Fulfillment Metrics
	FulfillmentSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_fulfillment_submissions_total",
			Help: "Print order submissions by outcome",
		},
		[]string{"outcome"},
	)

	// Webhook Metrics
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_webhook_events_total",
			Help: "Payment webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	WebhookStepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_webhook_step_failures_total",
			Help: "Failed side-effect steps inside webhook handling",
		},
		[]string{"step"},
	)

	// Email Metrics
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stickerforge_emails_sent_total",
			Help: "Transactional emails by template and outcome",
		},
		[]string{"template", "outcome"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordGenerationSubmitted records an accepted generation job
func RecordGenerationSubmitted(mode, plan, transport string) {
	GenerationJobsSubmitted.WithLabelValues(mode, plan, transport).Inc()
}

// RecordFallbackUpload records an upload to the fallback file host
func RecordFallbackUpload(err error) {
	GenerationFallbackUploads.WithLabelValues(outcome(err)).Inc()
}

// RecordGenerationRecord records a generation record ingestion attempt
func RecordGenerationRecord(mode string, inserted bool) {
	result := "duplicate"
	if inserted {
		result = "inserted"
	}
	GenerationRecordsIngested.WithLabelValues(mode, result).Inc()
}

// RecordQuotaRejection records a free-plan quota rejection
func RecordQuotaRejection() {
	QuotaRejections.Inc()
}

// RecordProviderCall records an outbound partner call
func RecordProviderCall(provider, operation string, duration float64, err error) {
	ProviderRequestDuration.WithLabelValues(provider, operation).Observe(duration)
	if err != nil {
		ProviderErrorsTotal.WithLabelValues(provider, operation).Inc()
	}
}

// RecordCatalogCache records a variant cache lookup
func RecordCatalogCache(hit bool) {
	if hit {
		CatalogCacheHitsTotal.Inc()
	} else {
		CatalogCacheMissesTotal.Inc()
	}
}

// RecordCatalogFetch records a partner catalog fetch
func RecordCatalogFetch(err error) {
	CatalogFetchesTotal.WithLabelValues(outcome(err)).Inc()
}

// RecordFulfillment records a print order submission
func RecordFulfillment(err error) {
	FulfillmentSubmissionsTotal.WithLabelValues(outcome(err)).Inc()
}

// RecordWebhookEvent records a processed webhook event
func RecordWebhookEvent(eventType string, handled, failed bool) {
	result := "ignored"
	switch {
	case failed:
		result = "partial_failure"
	case handled:
		result = "handled"
	}
	WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordWebhookStepFailure records a failed webhook side effect
func RecordWebhookStepFailure(step string) {
	WebhookStepFailuresTotal.WithLabelValues(step).Inc()
}

// RecordEmail records a transactional email send
func RecordEmail(template string, err error) {
	EmailsSentTotal.WithLabelValues(template, outcome(err)).Inc()
}
