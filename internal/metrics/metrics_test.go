package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics for test isolation
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST /v1/uploads", "201", 0.2)

	count := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST /v1/uploads", "201"))
	if count != 1 {
		t.Errorf("HTTPRequestsTotal = %v, want 1", count)
	}
}

func TestRecordUpload(t *testing.T) {
	UploadsTotal.Reset()

	RecordUpload("accepted", 2048)
	RecordUpload("accepted", 4096)
	RecordUpload("rejected", 0)

	accepted := testutil.ToFloat64(UploadsTotal.WithLabelValues("accepted"))
	if accepted != 2 {
		t.Errorf("accepted uploads = %v, want 2", accepted)
	}

	rejected := testutil.ToFloat64(UploadsTotal.WithLabelValues("rejected"))
	if rejected != 1 {
		t.Errorf("rejected uploads = %v, want 1", rejected)
	}
}

func TestRecordRows(t *testing.T) {
	RowsParsed.Reset()
	before := testutil.ToFloat64(CostMismatches)

	RecordRows(10, 2, 1, 3)

	if v := testutil.ToFloat64(RowsParsed.WithLabelValues("valid")); v != 10 {
		t.Errorf("valid rows = %v, want 10", v)
	}
	if v := testutil.ToFloat64(RowsParsed.WithLabelValues("invalid")); v != 2 {
		t.Errorf("invalid rows = %v, want 2", v)
	}
	if v := testutil.ToFloat64(RowsParsed.WithLabelValues("unknown_model")); v != 1 {
		t.Errorf("unknown rows = %v, want 1", v)
	}
	if v := testutil.ToFloat64(CostMismatches) - before; v != 3 {
		t.Errorf("mismatches = %v, want 3", v)
	}
}

func TestRecordRecommendation(t *testing.T) {
	RecommendationsTotal.Reset()

	RecordRecommendation("legacy-model", "high")
	RecordRecommendation("legacy-model", "high")
	RecordRecommendation("sledgehammer", "critical")

	if v := testutil.ToFloat64(RecommendationsTotal.WithLabelValues("legacy-model", "high")); v != 2 {
		t.Errorf("legacy recommendations = %v, want 2", v)
	}
	if v := testutil.ToFloat64(RecommendationsTotal.WithLabelValues("sledgehammer", "critical")); v != 1 {
		t.Errorf("sledgehammer recommendations = %v, want 1", v)
	}
}

func TestRecordAnalysis(t *testing.T) {
	AnalysesTotal.Reset()

	RecordAnalysis("success", 0.05)
	RecordAnalysis("no_valid_rows", 0.01)

	if v := testutil.ToFloat64(AnalysesTotal.WithLabelValues("success")); v != 1 {
		t.Errorf("successful analyses = %v, want 1", v)
	}
}

func TestRecordScore(t *testing.T) {
	before := testutil.ToFloat64(AnalyzedSpend)

	RecordScore(72, 12.5)

	if v := testutil.ToFloat64(AnalyzedSpend) - before; v != 12.5 {
		t.Errorf("AnalyzedSpend delta = %v, want 12.5", v)
	}
}

func TestRecordCache(t *testing.T) {
	hits := testutil.ToFloat64(CacheHits)
	misses := testutil.ToFloat64(CacheMisses)

	RecordCacheHit()
	RecordCacheHit()
	RecordCacheMiss()

	if v := testutil.ToFloat64(CacheHits) - hits; v != 2 {
		t.Errorf("CacheHits delta = %v, want 2", v)
	}
	if v := testutil.ToFloat64(CacheMisses) - misses; v != 1 {
		t.Errorf("CacheMisses delta = %v, want 1", v)
	}
}

func TestRecordRateLimitHit(t *testing.T) {
	RateLimitHits.Reset()

	RecordRateLimitHit("POST /v1/uploads")

	hits := testutil.ToFloat64(RateLimitHits.WithLabelValues("POST /v1/uploads"))
	if hits != 1 {
		t.Errorf("RateLimitHits = %v, want 1", hits)
	}
}

func TestRecordJobAndConcierge(t *testing.T) {
	JobsProcessed.Reset()
	ConciergeOrders.Reset()

	RecordJob("completed")
	RecordJob("failed")
	RecordJob("completed")
	RecordConcierge("ordered")

	if v := testutil.ToFloat64(JobsProcessed.WithLabelValues("completed")); v != 2 {
		t.Errorf("completed jobs = %v, want 2", v)
	}
	if v := testutil.ToFloat64(ConciergeOrders.WithLabelValues("ordered")); v != 1 {
		t.Errorf("concierge orders = %v, want 1", v)
	}
}

func TestInitInstanceMetrics(t *testing.T) {
	InstanceInfo.Reset()

	InitInstanceMetrics("test-pod", "0.1.0")

	if v := testutil.ToFloat64(InstanceInfo.WithLabelValues("test-pod", "0.1.0")); v != 1 {
		t.Errorf("InstanceInfo = %v, want 1", v)
	}
}

func TestRecordBreaker(t *testing.T) {
	BreakerState.Reset()
	BreakerRejections.Reset()

	RecordBreakerState("stripe", 1)
	RecordBreakerRejection("stripe")
	RecordBreakerRejection("stripe")

	if got := testutil.ToFloat64(BreakerState.WithLabelValues("stripe")); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BreakerRejections.WithLabelValues("stripe")); got != 2 {
		t.Errorf("rejections = %v, want 2", got)
	}
}

func TestRecordAdminAuthFailure(t *testing.T) {
	AdminAuthFailures.Reset()

	RecordAdminAuthFailure("forbidden")

	if got := testutil.ToFloat64(AdminAuthFailures.WithLabelValues("forbidden")); got != 1 {
		t.Errorf("auth failures = %v, want 1", got)
	}
}
