package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costaudit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_uploads_total",
			Help: "Total number of uploads by outcome",
		},
		[]string{"status"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "costaudit_upload_bytes",
			Help:    "Size of uploaded usage exports in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	RowsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_rows_parsed_total",
			Help: "Usage rows seen by the parser by outcome",
		},
		[]string{"outcome"},
	)

	CostMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "costaudit_cost_mismatches_total",
			Help: "Rows whose declared cost disagreed with the catalog price",
		},
	)

	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_recommendations_total",
			Help: "Recommendations emitted by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "costaudit_analysis_duration_seconds",
			Help:    "Time spent parsing and analyzing one export",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_analyses_total",
			Help: "Total number of analyses by outcome",
		},
		[]string{"outcome"},
	)

	EfficiencyScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "costaudit_efficiency_score",
			Help:    "Distribution of efficiency scores",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
	)

	AnalyzedSpend = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "costaudit_analyzed_spend_usd_total",
			Help: "Total spend in USD covered by analyses",
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "costaudit_report_cache_hits_total",
			Help: "Total number of report cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "costaudit_report_cache_misses_total",
			Help: "Total number of report cache misses",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"route"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_jobs_processed_total",
			Help: "Analysis jobs processed by the worker by outcome",
		},
		[]string{"outcome"},
	)

	ConciergeOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_concierge_orders_total",
			Help: "Concierge audits by lifecycle stage",
		},
		[]string{"stage"},
	)

	AdminAuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_admin_auth_failures_total",
			Help: "Rejected back-office requests by reason",
		},
		[]string{"reason"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costaudit_dependency_breaker_state",
			Help: "Circuit breaker state per outbound dependency (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costaudit_dependency_breaker_rejections_total",
			Help: "Calls rejected because a dependency breaker was open",
		},
		[]string{"dependency"},
	)

	InstanceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costaudit_instance_info",
			Help: "Instance information (always 1)",
		},
		[]string{"pod", "version"},
	)
)

// RecordHTTPRequest observes one API request by route pattern and status.
func RecordHTTPRequest(route, status string, durationSec float64) {
	HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(durationSec)
}

// RecordUpload counts an upload attempt and its size.
func RecordUpload(status string, sizeBytes int64) {
	UploadsTotal.WithLabelValues(status).Inc()
	if sizeBytes > 0 {
		UploadBytes.Observe(float64(sizeBytes))
	}
}

// RecordRows adds the row counters of one parsed file.
func RecordRows(valid, invalid, unknown, mismatches int) {
	RowsParsed.WithLabelValues("valid").Add(float64(valid))
	RowsParsed.WithLabelValues("invalid").Add(float64(invalid))
	RowsParsed.WithLabelValues("unknown_model").Add(float64(unknown))
	CostMismatches.Add(float64(mismatches))
}

func RecordRecommendation(rule, severity string) {
	RecommendationsTotal.WithLabelValues(rule, severity).Inc()
}

// RecordAnalysis observes one analysis run by outcome.
func RecordAnalysis(outcome string, durationSec float64) {
	AnalysesTotal.WithLabelValues(outcome).Inc()
	AnalysisDuration.Observe(durationSec)
}

// RecordScore observes an efficiency score and the spend it was computed on.
func RecordScore(score int, spend float64) {
	EfficiencyScore.Observe(float64(score))
	AnalyzedSpend.Add(spend)
}

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordRateLimitHit(route string) {
	RateLimitHits.WithLabelValues(route).Inc()
}

// RecordJob counts a processed queue message by outcome.
func RecordJob(outcome string) {
	JobsProcessed.WithLabelValues(outcome).Inc()
}

// RecordConcierge counts a concierge order reaching stage.
func RecordConcierge(stage string) {
	ConciergeOrders.WithLabelValues(stage).Inc()
}

func RecordAdminAuthFailure(reason string) {
	AdminAuthFailures.WithLabelValues(reason).Inc()
}

// RecordBreakerState exports the current State of a dependency breaker.
func RecordBreakerState(dependency string, state int) {
	BreakerState.WithLabelValues(dependency).Set(float64(state))
}

func RecordBreakerRejection(dependency string) {
	BreakerRejections.WithLabelValues(dependency).Inc()
}

// InitInstanceMetrics publishes the instance info gauge. Call once at startup.
func InitInstanceMetrics(podName, version string) {
	InstanceInfo.WithLabelValues(podName, version).Set(1)
}
