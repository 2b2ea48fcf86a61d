package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/audit"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/felipepmaragno/llm-cost-audit/internal/notifications"
)

// Processor analyzes the archived file of an upload.
type Processor interface {
	ProcessStored(ctx context.Context, uploadID string) (*domain.Upload, *domain.Report, error)
}

// WorkerConfig sets how many messages a poll takes and how long to back
// off after a receive error.
type WorkerConfig struct {
	BatchSize  int
	RetryDelay time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{BatchSize: 5, RetryDelay: 5 * time.Second}
}

// Worker drains analysis jobs. A job is acknowledged once it succeeds or
// fails for good; transient failures are left for redelivery.
type Worker struct {
	queue     Queue
	processor Processor
	notifier  notifications.Notifier
	cfg       WorkerConfig
	logger    *slog.Logger
}

// NewWorker returns a worker; call Run to start polling.
func NewWorker(q Queue, processor Processor, notifier notifications.Notifier, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWorkerConfig().BatchSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultWorkerConfig().RetryDelay
	}
	return &Worker{queue: q, processor: processor, notifier: notifier, cfg: cfg, logger: logger}
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("analysis worker started", "batch_size", w.cfg.BatchSize)

	for {
		if ctx.Err() != nil {
			w.logger.Info("analysis worker stopped")
			return nil
		}

		msgs, err := w.queue.Receive(ctx, w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("receive analysis jobs", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.RetryDelay):
			}
			continue
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) {
	job := msg.Job
	logger := w.logger.With("job_id", job.ID, "upload_id", job.UploadID)

	upload, report, err := w.processor.ProcessStored(ctx, job.UploadID)
	switch {
	case err == nil:
		metrics.RecordJob("completed")
		w.notify(ctx, notifications.AnalysisCompleted(upload.ID, upload.AccountID,
			report.Result.TotalSpend, len(report.Result.Recommendations)))
	case audit.IsPermanent(err):
		metrics.RecordJob("failed")
		logger.Warn("analysis job failed", "error", err)
		if !errors.Is(err, domain.ErrUploadNotFound) {
			w.notify(ctx, notifications.AnalysisFailed(job.UploadID, job.AccountID, err.Error()))
		}
	default:
		metrics.RecordJob("retry")
		logger.Error("analysis job will be retried", "error", err)
		return
	}

	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		logger.Error("acknowledge analysis job", "error", err)
	}
}

func (w *Worker) notify(ctx context.Context, n notifications.Notification) {
	if err := w.notifier.Send(ctx, n); err != nil {
		w.logger.Warn("send notification", "type", n.Type, "upload_id", n.UploadID, "error", err)
	}
}
