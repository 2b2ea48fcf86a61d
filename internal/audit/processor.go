// Package audit runs the analysis of a stored upload and records the
// outcome. The upload API calls it inline and the queue worker calls it for
// deferred jobs.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/analysis"
	"github.com/felipepmaragno/llm-cost-audit/internal/cache"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/repository"
	"github.com/felipepmaragno/llm-cost-audit/internal/storage"
	"github.com/felipepmaragno/llm-cost-audit/internal/telemetry"
)

// Processor analyzes archived uploads and records the report, the upload
// status and the cached copy.
type Processor struct {
	analyzer *analysis.Analyzer
	uploads  repository.UploadRepository
	analyses repository.AnalysisRepository
	store    storage.Store
	cache    cache.Cache
	logger   *slog.Logger
}

// NewProcessor wires a Processor. The cache is best effort; the analysis
// repository is the source of truth.
func NewProcessor(
	analyzer *analysis.Analyzer,
	uploads repository.UploadRepository,
	analyses repository.AnalysisRepository,
	store storage.Store,
	reportCache cache.Cache,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		analyzer: analyzer,
		uploads:  uploads,
		analyses: analyses,
		store:    store,
		cache:    reportCache,
		logger:   logger,
	}
}

// IsPermanent reports whether retrying the analysis cannot change its outcome.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrMalformedCSV) ||
		errors.Is(err, domain.ErrNoValidRows) ||
		errors.Is(err, domain.ErrUploadNotFound) ||
		errors.Is(err, domain.ErrObjectNotFound)
}

// ProcessStored analyzes the archived file of an upload.
func (p *Processor) ProcessStored(ctx context.Context, uploadID string) (*domain.Upload, *domain.Report, error) {
	upload, err := p.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}
	if upload.StoragePath == "" {
		return upload, nil, p.fail(ctx, upload, fmt.Errorf("upload %s has no archived file: %w", uploadID, domain.ErrObjectNotFound))
	}

	data, err := p.store.Read(ctx, upload.StoragePath)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return upload, nil, p.fail(ctx, upload, err)
		}
		return upload, nil, fmt.Errorf("read archived upload: %w", err)
	}

	report, err := p.Process(ctx, upload, data)
	return upload, report, err
}

// Process analyzes data for upload, stores the report and moves the upload
// to completed, or to failed when the file cannot be analyzed. Transient
// storage errors leave the upload in analyzing so a retry can pick it up.
func (p *Processor) Process(ctx context.Context, upload *domain.Upload, data []byte) (*domain.Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "audit.Process")
	defer span.End()
	telemetry.AddUploadAttributes(span, upload.AccountID, upload.ID, upload.Filename, int64(len(data)))

	upload.Status = domain.UploadStatusAnalyzing
	upload.FailureReason = ""
	if err := p.uploads.Update(ctx, upload); err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, fmt.Errorf("mark upload analyzing: %w", err)
	}

	report, err := p.analyzer.Analyze(ctx, bytes.NewReader(data))
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		if IsPermanent(err) {
			return nil, p.fail(ctx, upload, err)
		}
		return nil, err
	}

	if err := p.analyses.Save(ctx, &domain.Analysis{
		UploadID:  upload.ID,
		Report:    *report,
		CreatedAt: time.Now(),
	}); err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	upload.Status = domain.UploadStatusCompleted
	if err := p.uploads.Update(ctx, upload); err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, fmt.Errorf("mark upload completed: %w", err)
	}

	if err := p.cache.Set(ctx, cache.ReportKey(upload.ID), report, cache.DefaultTTL); err != nil {
		p.logger.WarnContext(ctx, "cache report", "upload_id", upload.ID, "error", err)
	}

	p.logger.InfoContext(ctx, "upload analyzed",
		"upload_id", upload.ID,
		"account_id", upload.AccountID,
		"total_spend", report.Result.TotalSpend,
		"recommendations", len(report.Result.Recommendations),
	)

	return report, nil
}

func (p *Processor) fail(ctx context.Context, upload *domain.Upload, cause error) error {
	upload.Status = domain.UploadStatusFailed
	upload.FailureReason = cause.Error()
	if err := p.uploads.Update(ctx, upload); err != nil {
		p.logger.ErrorContext(ctx, "mark upload failed", "upload_id", upload.ID, "error", err)
	}
	if err := p.cache.Delete(ctx, cache.ReportKey(upload.ID)); err != nil {
		p.logger.WarnContext(ctx, "invalidate cached report", "upload_id", upload.ID, "error", err)
	}

	p.logger.WarnContext(ctx, "upload analysis failed", "upload_id", upload.ID, "error", cause)
	return cause
}
