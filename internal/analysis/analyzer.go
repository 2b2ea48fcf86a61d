// Package analysis computes spend aggregates, recommendations and the
// efficiency score for a parsed usage export.
package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/ingest"
	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/felipepmaragno/llm-cost-audit/internal/telemetry"
)

// Analyzer runs the full pipeline for one export: parse, aggregate,
// recommend and score. It holds no per-run state and is safe for
// concurrent use.
type Analyzer struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewAnalyzer returns an analyzer that prices rows with cat. A nil logger
// falls back to slog.Default.
func NewAnalyzer(cat *catalog.Catalog, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{catalog: cat, logger: logger}
}

// Catalog returns the catalog the analyzer prices with.
func (a *Analyzer) Catalog() *catalog.Catalog {
	return a.catalog
}

// Analyze fails with domain.ErrMalformedCSV when the input cannot be read as
// CSV and with a *domain.NoValidRowsError when nothing in it can be analyzed.
// Zero spend is not an error: the report then has ScoreUndefined set.
func (a *Analyzer) Analyze(ctx context.Context, r io.Reader) (*domain.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "analysis.Analyze")
	defer span.End()

	_, parseSpan := telemetry.StartSpan(ctx, "analysis.parse")
	parsed, err := ingest.Parse(r, a.catalog)
	if err != nil {
		telemetry.AddErrorAttribute(parseSpan, err)
		parseSpan.End()
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordAnalysis(outcomeOf(err), time.Since(start).Seconds())
		return nil, err
	}
	diag := parsed.Diagnostics
	telemetry.AddRowAttributes(parseSpan, diag.TotalRecords, diag.ValidRows, diag.InvalidRows, diag.UnknownModelRows)
	parseSpan.End()

	metrics.RecordRows(diag.ValidRows, diag.InvalidRows, diag.UnknownModelRows, diag.CostMismatches)

	if diag.ValidRows == 0 {
		err := &domain.NoValidRowsError{TotalRecords: diag.TotalRecords, InvalidRows: diag.InvalidRows}
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordAnalysis(outcomeOf(err), time.Since(start).Seconds())
		return nil, err
	}

	if diag.InvalidRows > 0 {
		a.logger.Warn("dropped invalid rows", "invalid_rows", diag.InvalidRows, "total_records", diag.TotalRecords)
	}
	if diag.UnknownModelRows > 0 {
		a.logger.Warn("rows reference models missing from catalog",
			"rows", diag.UnknownModelRows,
			"models", diag.UnknownModels,
		)
	}
	if diag.CostMismatches > 0 {
		a.logger.Warn("declared cost differs from catalog price", "rows", diag.CostMismatches)
	}

	report := a.Report(ctx, parsed.Rows, diag)

	metrics.RecordAnalysis(outcomeOf(nil), time.Since(start).Seconds())
	return report, nil
}

// Report builds a report from already parsed rows.
func (a *Analyzer) Report(ctx context.Context, rows []domain.UsageRow, diag domain.Diagnostics) *domain.Report {
	_, span := telemetry.StartSpan(ctx, "analysis.report")
	defer span.End()

	result := Aggregate(rows, a.catalog)
	result.Recommendations = Recommend(rows, a.catalog)
	telemetry.AddSpendAttribute(span, result.TotalSpend)

	for _, rec := range result.Recommendations {
		metrics.RecordRecommendation(RuleOf(rec.ID), string(rec.Severity))
	}

	report := &domain.Report{Result: result, Diagnostics: diag}

	score, err := Score(rows, a.catalog)
	switch {
	case errors.Is(err, domain.ErrUndefinedScore):
		report.ScoreUndefined = true
	case err != nil:
		a.logger.Error("score analysis", "error", err)
		report.ScoreUndefined = true
	default:
		report.Score = score
		telemetry.AddScoreAttributes(span, score.Score, string(score.Grade))
		metrics.RecordScore(score.Score, score.TotalSpend)
	}

	return report
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrMalformedCSV):
		return "malformed"
	case errors.Is(err, domain.ErrNoValidRows):
		return "no_valid_rows"
	default:
		return "error"
	}
}
