package repository

import (
	"context"

	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

// AccountRepository loads API customers.
type AccountRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
}

// UploadRepository stores upload metadata and status.
type UploadRepository interface {
	Create(ctx context.Context, upload *domain.Upload) error
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	// ListByAccount returns the account's uploads, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]*domain.Upload, error)
	// ListByTier returns uploads in the tier, oldest first.
	ListByTier(ctx context.Context, tier domain.UploadTier) ([]*domain.Upload, error)
	Update(ctx context.Context, upload *domain.Upload) error
}

// AnalysisRepository stores one report per upload.
type AnalysisRepository interface {
	// Save inserts or replaces the analysis for an upload.
	Save(ctx context.Context, analysis *domain.Analysis) error
	Get(ctx context.Context, uploadID string) (*domain.Analysis, error)
}

// DeliverableRepository stores concierge deliverables.
type DeliverableRepository interface {
	Create(ctx context.Context, deliverable *domain.Deliverable) error
	GetByUpload(ctx context.Context, uploadID string) (*domain.Deliverable, error)
}
