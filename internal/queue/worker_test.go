package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/notifications"
)

type mockProcessor struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (p *mockProcessor) ProcessStored(ctx context.Context, uploadID string) (*domain.Upload, *domain.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, uploadID)
	if err := p.errs[uploadID]; err != nil {
		return nil, nil, err
	}
	upload := &domain.Upload{ID: uploadID, AccountID: "acct-1", Status: domain.UploadStatusCompleted}
	report := &domain.Report{Result: domain.AnalysisResult{
		TotalSpend:      42,
		Recommendations: []domain.Recommendation{{ID: "batch-requests"}},
	}}
	return upload, report, nil
}

type recordingQueue struct {
	*InMemoryQueue
	mu      sync.Mutex
	deleted []string
}

func (q *recordingQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, receiptHandle)
	return nil
}

func (q *recordingQueue) acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_HandleOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantAcked  bool
		wantNotify notifications.NotificationType
	}{
		{"success", nil, true, notifications.NotificationAnalysisCompleted},
		{"malformed csv", domain.ErrMalformedCSV, true, notifications.NotificationAnalysisFailed},
		{"no valid rows", &domain.NoValidRowsError{TotalRecords: 2, InvalidRows: 2}, true, notifications.NotificationAnalysisFailed},
		{"upload gone", domain.ErrUploadNotFound, true, ""},
		{"transient", errors.New("db timeout"), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &recordingQueue{InMemoryQueue: NewInMemoryQueue()}
			proc := &mockProcessor{errs: map[string]error{"up-1": tt.err}}
			notifier := notifications.NewInMemoryNotifier()
			w := NewWorker(q, proc, notifier, DefaultWorkerConfig(), quietLogger())

			w.handle(context.Background(), Message{Job: AnalysisJob{ID: "job-1", UploadID: "up-1", AccountID: "acct-1"}, ReceiptHandle: "rh-1"})

			acked := len(q.acked()) == 1
			if acked != tt.wantAcked {
				t.Errorf("acked = %v, want %v", acked, tt.wantAcked)
			}

			sent := notifier.GetNotifications()
			if tt.wantNotify == "" {
				if len(sent) != 0 {
					t.Errorf("notifications = %+v, want none", sent)
				}
				return
			}
			if len(sent) != 1 || sent[0].Type != tt.wantNotify {
				t.Fatalf("notifications = %+v, want one %s", sent, tt.wantNotify)
			}
			if sent[0].UploadID != "up-1" {
				t.Errorf("notification upload = %q, want up-1", sent[0].UploadID)
			}
		})
	}
}

func TestWorker_RunDrainsQueueUntilCanceled(t *testing.T) {
	q := &recordingQueue{InMemoryQueue: NewInMemoryQueue()}
	q.waitTime = 10 * time.Millisecond
	proc := &mockProcessor{}
	notifier := notifications.NewInMemoryNotifier()
	w := NewWorker(q, proc, notifier, WorkerConfig{BatchSize: 2}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"up-1", "up-2", "up-3"} {
		q.Enqueue(ctx, AnalysisJob{ID: "job-" + id, UploadID: id})
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(q.acked()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("acked %v before deadline, want 3 jobs", q.acked())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if len(notifier.GetNotifications()) != 3 {
		t.Errorf("notifications = %d, want 3", len(notifier.GetNotifications()))
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(NewInMemoryQueue(), &mockProcessor{}, notifications.NewInMemoryNotifier(), WorkerConfig{}, nil)
	if w.cfg.BatchSize != DefaultWorkerConfig().BatchSize {
		t.Errorf("BatchSize = %d", w.cfg.BatchSize)
	}
	if w.cfg.RetryDelay != DefaultWorkerConfig().RetryDelay {
		t.Errorf("RetryDelay = %v", w.cfg.RetryDelay)
	}
}
