package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/crypto"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
)

// DefaultAPIKey authenticates the account seeded into in-memory deployments.
const DefaultAPIKey = "ca-default-key"

// InMemoryAccountRepository is the single-process AccountRepository.
type InMemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	byKey    map[string]string
}

func NewInMemoryAccountRepository() *InMemoryAccountRepository {
	repo := &InMemoryAccountRepository{
		accounts: make(map[string]*domain.Account),
		byKey:    make(map[string]string),
	}

	defaultAccount := &domain.Account{
		ID:         "default",
		Email:      "owner@localhost",
		APIKeyHash: crypto.HashAPIKey(DefaultAPIKey),
		Enabled:    true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	repo.accounts[defaultAccount.ID] = defaultAccount
	repo.byKey[defaultAccount.APIKeyHash] = defaultAccount.ID

	return repo
}

func (r *InMemoryAccountRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[crypto.HashAPIKey(apiKey)]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	account, ok := r.accounts[id]
	if !ok || !account.Enabled {
		return nil, domain.ErrAccountNotFound
	}

	return account, nil
}

func (r *InMemoryAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	return account, nil
}

func (r *InMemoryAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account.APIKeyHash == "" && account.APIKey != "" {
		account.APIKeyHash = crypto.HashAPIKey(account.APIKey)
	}
	r.accounts[account.ID] = account
	r.byKey[account.APIKeyHash] = account.ID

	return nil
}

// InMemoryUploadRepository is the single-process UploadRepository.
type InMemoryUploadRepository struct {
	mu      sync.RWMutex
	uploads map[string]*domain.Upload
}

func NewInMemoryUploadRepository() *InMemoryUploadRepository {
	return &InMemoryUploadRepository{uploads: make(map[string]*domain.Upload)}
}

func (r *InMemoryUploadRepository) Create(ctx context.Context, upload *domain.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *upload
	r.uploads[upload.ID] = &cp
	return nil
}

func (r *InMemoryUploadRepository) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.uploads[id]
	if !ok {
		return nil, domain.ErrUploadNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *InMemoryUploadRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Upload
	for _, u := range r.uploads {
		if u.AccountID == accountID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryUploadRepository) ListByTier(ctx context.Context, tier domain.UploadTier) ([]*domain.Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Upload
	for _, u := range r.uploads {
		if u.Tier == tier {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryUploadRepository) Update(ctx context.Context, upload *domain.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.uploads[upload.ID]; !ok {
		return domain.ErrUploadNotFound
	}

	upload.UpdatedAt = time.Now()
	cp := *upload
	r.uploads[upload.ID] = &cp
	return nil
}

// InMemoryAnalysisRepository is the single-process AnalysisRepository.
type InMemoryAnalysisRepository struct {
	mu       sync.RWMutex
	analyses map[string]*domain.Analysis
}

func NewInMemoryAnalysisRepository() *InMemoryAnalysisRepository {
	return &InMemoryAnalysisRepository{analyses: make(map[string]*domain.Analysis)}
}

func (r *InMemoryAnalysisRepository) Save(ctx context.Context, analysis *domain.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *analysis
	r.analyses[analysis.UploadID] = &cp
	return nil
}

func (r *InMemoryAnalysisRepository) Get(ctx context.Context, uploadID string) (*domain.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.analyses[uploadID]
	if !ok {
		return nil, domain.ErrAnalysisNotFound
	}
	cp := *a
	return &cp, nil
}

// InMemoryDeliverableRepository is the single-process DeliverableRepository.
type InMemoryDeliverableRepository struct {
	mu           sync.RWMutex
	deliverables map[string]*domain.Deliverable
}

func NewInMemoryDeliverableRepository() *InMemoryDeliverableRepository {
	return &InMemoryDeliverableRepository{deliverables: make(map[string]*domain.Deliverable)}
}

func (r *InMemoryDeliverableRepository) Create(ctx context.Context, d *domain.Deliverable) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *d
	r.deliverables[d.UploadID] = &cp
	return nil
}

func (r *InMemoryDeliverableRepository) GetByUpload(ctx context.Context, uploadID string) (*domain.Deliverable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deliverables[uploadID]
	if !ok {
		return nil, domain.ErrDeliverableNotFound
	}
	cp := *d
	return &cp, nil
}
