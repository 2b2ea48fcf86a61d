package domain

import (
	"math"
	"time"
)

// UsageRow is one billing line after normalization. Rows are produced once
// by the parser and never modified afterwards.
type UsageRow struct {
	ModelID          string  `json:"model_id"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	ThinkingTokens   int64   `json:"thinking_tokens"`
	IsReasoningModel bool    `json:"is_reasoning_model"`
	InputCost        float64 `json:"input_cost"`
	OutputCost       float64 `json:"output_cost"`
	ThinkingCost     float64 `json:"thinking_cost"`
	TotalCost        float64 `json:"total_cost"`
	Timestamp        string  `json:"timestamp"`
	RequestType      string  `json:"request_type"`
}

// MaxTokenCount is the largest token count a usage row may carry. Counts
// above it cannot be represented exactly as float64 when priced.
const MaxTokenCount = 1 << 53

// TotalTokens sums the three token counts, saturating at math.MaxInt64.
func (r UsageRow) TotalTokens() int64 {
	var total int64
	for _, n := range [...]int64{r.InputTokens, r.OutputTokens, r.ThinkingTokens} {
		if n > 0 && total > math.MaxInt64-n {
			return math.MaxInt64
		}
		total += n
	}
	return total
}

// Severity ranks how urgent a recommendation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for display, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Recommendation is advisory text produced by one triggered rule.
type Recommendation struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
	Action      string   `json:"action"`
	CodeSnippet *string  `json:"code_snippet,omitempty"`
}

// ModelSpend is one model's share of the total spend.
type ModelSpend struct {
	ModelID     string  `json:"model_id"`
	DisplayName string  `json:"display_name"`
	Cost        float64 `json:"cost"`
	Tokens      int64   `json:"tokens"`
}

// DaySpend is the spend of one calendar day, or of the "unknown" bucket.
type DaySpend struct {
	Date string  `json:"date"`
	Cost float64 `json:"cost"`
}

// AnalysisResult is the aggregated view of one billing export.
type AnalysisResult struct {
	TotalSpend      float64          `json:"total_spend"`
	TotalRequests   int              `json:"total_requests"`
	TopModels       []ModelSpend     `json:"top_models"`
	SpendByDay      []DaySpend       `json:"spend_by_day"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Grade buckets an efficiency score.
type Grade string

const (
	GradeExcellent Grade = "Excellent"
	GradeNeedsWork Grade = "Needs Work"
	GradePoor      Grade = "Poor"
	GradeCritical  Grade = "Critical"
)

// EfficiencyScore compares current spend with the spend after every
// recommended change.
type EfficiencyScore struct {
	Score            int     `json:"score"`
	Grade            Grade   `json:"grade"`
	TotalSpend       float64 `json:"total_spend"`
	PotentialSavings float64 `json:"potential_savings"`
	LegacySpend      float64 `json:"legacy_spend"`
	ThinkingWaste    float64 `json:"thinking_waste"`
}

// Diagnostics counts row-level problems absorbed during parsing.
type Diagnostics struct {
	TotalRecords     int      `json:"total_records"`
	ValidRows        int      `json:"valid_rows"`
	InvalidRows      int      `json:"invalid_rows"`
	UnknownModelRows int      `json:"unknown_model_rows"`
	UnknownModels    []string `json:"unknown_models,omitempty"`
	CostMismatches   int      `json:"cost_mismatches"`
}

// Report is the full output of one analysis run.
type Report struct {
	Result         AnalysisResult   `json:"result"`
	Score          *EfficiencyScore `json:"score,omitempty"`
	ScoreUndefined bool             `json:"score_undefined"`
	Diagnostics    Diagnostics      `json:"diagnostics"`
}

// UploadStatus tracks an upload through analysis.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusAnalyzing UploadStatus = "analyzing"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusFailed    UploadStatus = "failed"
)

// UploadTier is the product an upload was bought under.
type UploadTier string

const (
	TierSelfServe          UploadTier = "self_serve"
	TierConciergePending   UploadTier = "concierge_pending"
	TierConciergeDelivered UploadTier = "concierge_delivered"
)

// Account is an API customer identified by a hashed API key.
type Account struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	APIKey     string    `json:"api_key,omitempty"`
	APIKeyHash string    `json:"-"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Upload is one billing export submitted for audit.
type Upload struct {
	ID                    string       `json:"id"`
	AccountID             string       `json:"account_id"`
	Filename              string       `json:"filename"`
	StoragePath           string       `json:"storage_path,omitempty"`
	FileSize              int64        `json:"file_size"`
	Provider              string       `json:"provider"`
	Status                UploadStatus `json:"status"`
	Tier                  UploadTier   `json:"tier"`
	StripePaymentIntentID string       `json:"stripe_payment_intent_id,omitempty"`
	LoomVideoURL          string       `json:"loom_video_url,omitempty"`
	ConsultantNotes       string       `json:"consultant_notes,omitempty"`
	SavingsEstimate       *float64     `json:"savings_estimate,omitempty"`
	FailureReason         string       `json:"failure_reason,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Analysis is a persisted report, one per upload.
type Analysis struct {
	UploadID  string    `json:"upload_id"`
	Report    Report    `json:"report"`
	CreatedAt time.Time `json:"created_at"`
}

// CodeSnippet is a titled piece of code attached to a concierge deliverable.
type CodeSnippet struct {
	Title    string `json:"title"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Deliverable is the manually produced expert audit for a paid upload.
type Deliverable struct {
	ID            string        `json:"id"`
	UploadID      string        `json:"upload_id"`
	ConsultantID  string        `json:"consultant_id,omitempty"`
	LoomVideoURL  string        `json:"loom_video_url"`
	WrittenReport string        `json:"written_report,omitempty"`
	CodeSnippets  []CodeSnippet `json:"code_snippets,omitempty"`
	TopSavings    *float64      `json:"top_savings,omitempty"`
	DeliveredAt   time.Time     `json:"delivered_at"`
}
