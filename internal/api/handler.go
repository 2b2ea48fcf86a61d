package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/audit"
	"github.com/felipepmaragno/llm-cost-audit/internal/auth"
	"github.com/felipepmaragno/llm-cost-audit/internal/billing"
	"github.com/felipepmaragno/llm-cost-audit/internal/cache"
	"github.com/felipepmaragno/llm-cost-audit/internal/dedup"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/felipepmaragno/llm-cost-audit/internal/notifications"
	"github.com/felipepmaragno/llm-cost-audit/internal/queue"
	"github.com/felipepmaragno/llm-cost-audit/internal/ratelimit"
	"github.com/felipepmaragno/llm-cost-audit/internal/repository"
	"github.com/felipepmaragno/llm-cost-audit/internal/storage"
	"github.com/felipepmaragno/llm-cost-audit/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxUploadBytes = 10 << 20
	defaultUploadLimit    = 5
	maxWebhookBytes       = 64 << 10
	uploadProvider        = "openai"
)

// HandlerConfig carries the dependencies of the public API. Optional
// fields left nil disable the feature they back.
type HandlerConfig struct {
	Accounts     repository.AccountRepository
	Uploads      repository.UploadRepository
	Analyses     repository.AnalysisRepository
	Deliverables repository.DeliverableRepository
	Processor    *audit.Processor
	Store        storage.Store
	// Queue receives analysis jobs when AsyncAnalysis is set.
	Queue           queue.Queue
	AsyncAnalysis   bool
	RateLimiter     ratelimit.RateLimiter
	UploadRateLimit int
	MaxUploadBytes  int64
	Cache           cache.Cache
	// Checkout is nil when payments are not configured.
	Checkout billing.Checkout
	// WebhookEvents drops Stripe event redeliveries. Optional.
	WebhookEvents  dedup.Deduplicator
	Notifier       notifications.Notifier
	AdminEmail     string
	AppBaseURL     string
	HealthCheckers []HealthChecker
	// BreakerStates reports outbound circuit breakers on /health/ready.
	BreakerStates func(context.Context) map[string]string
	Logger        *slog.Logger
}

// Handler serves the upload, analysis and concierge API.
type Handler struct {
	accounts        repository.AccountRepository
	uploads         repository.UploadRepository
	analyses        repository.AnalysisRepository
	deliverables    repository.DeliverableRepository
	processor       *audit.Processor
	store           storage.Store
	queue           queue.Queue
	async           bool
	rateLimiter     ratelimit.RateLimiter
	uploadRateLimit int
	maxUploadBytes  int64
	cache           cache.Cache
	checkout        billing.Checkout
	webhookEvents   dedup.Deduplicator
	notifier        notifications.Notifier
	adminEmail      string
	baseURL         string
	logger          *slog.Logger
	mux             *http.ServeMux
}

// NewHandler registers every public route on a new ServeMux.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		accounts:        cfg.Accounts,
		uploads:         cfg.Uploads,
		analyses:        cfg.Analyses,
		deliverables:    cfg.Deliverables,
		processor:       cfg.Processor,
		store:           cfg.Store,
		queue:           cfg.Queue,
		async:           cfg.AsyncAnalysis && cfg.Queue != nil,
		rateLimiter:     cfg.RateLimiter,
		uploadRateLimit: cfg.UploadRateLimit,
		maxUploadBytes:  cfg.MaxUploadBytes,
		cache:           cfg.Cache,
		checkout:        cfg.Checkout,
		webhookEvents:   cfg.WebhookEvents,
		notifier:        cfg.Notifier,
		adminEmail:      cfg.AdminEmail,
		baseURL:         cfg.AppBaseURL,
		logger:          cfg.Logger,
		mux:             http.NewServeMux(),
	}
	if h.uploadRateLimit <= 0 {
		h.uploadRateLimit = defaultUploadLimit
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = defaultMaxUploadBytes
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	h.mux.HandleFunc("POST /v1/uploads", h.handleCreateUpload)
	h.mux.HandleFunc("GET /v1/uploads", h.handleListUploads)
	h.mux.HandleFunc("GET /v1/uploads/{id}", h.handleGetUpload)
	h.mux.HandleFunc("GET /v1/uploads/{id}/analysis", h.handleGetAnalysis)
	h.mux.HandleFunc("POST /v1/uploads/{id}/analyze", h.handleReanalyze)
	h.mux.HandleFunc("POST /v1/uploads/{id}/checkout", h.handleCheckout)
	h.mux.HandleFunc("GET /v1/uploads/{id}/deliverable", h.handleGetDeliverable)
	h.mux.HandleFunc("GET /v1/account/free-status", h.handleFreeStatus)
	h.mux.HandleFunc("POST /v1/stripe/webhook", h.handleStripeWebhook)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.HealthCheckers, cfg.BreakerStates, 5*time.Second))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(r)
	w.Header().Set("X-Request-ID", requestID)

	clientIP := ratelimit.ClientIP(r)
	allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, clientIP, h.uploadRateLimit)
	if err != nil {
		h.logger.Error("rate limiter error", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.uploadRateLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

	if !allowed {
		metrics.RecordRateLimitHit("upload")
		h.logger.Warn("upload rate limit exceeded", "client_ip", clientIP, "request_id", requestID)
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(time.Until(resetAt).Seconds()))))
		writeError(w, http.StatusTooManyRequests, "too many uploads, try again later")
		return
	}

	account, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if r.ContentLength > h.maxUploadBytes {
		h.rejectTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectTooLarge(w)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	now := time.Now()
	upload := &domain.Upload{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Filename:  header.Filename,
		FileSize:  int64(len(data)),
		Provider:  uploadProvider,
		Status:    domain.UploadStatusPending,
		Tier:      domain.TierSelfServe,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key := storage.ObjectKey(account.ID, upload.ID, header.Filename)
	if err := h.store.Write(ctx, key, data); err != nil {
		h.logger.Warn("archive upload", "upload_id", upload.ID, "error", err, "request_id", requestID)
	} else {
		upload.StoragePath = key
	}

	if err := h.uploads.Create(ctx, upload); err != nil {
		h.logger.Error("create upload", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	h.logger.Info("upload received",
		"upload_id", upload.ID,
		"account_id", account.ID,
		"size_bytes", upload.FileSize,
		"request_id", requestID,
	)

	if h.async && upload.StoragePath != "" {
		if err := h.enqueue(r, upload); err == nil {
			metrics.RecordUpload("queued", upload.FileSize)
			writeJSON(w, http.StatusAccepted, map[string]any{
				"upload_id": upload.ID,
				"status":    upload.Status,
			})
			return
		}
	}

	report, err := h.processor.Process(ctx, upload, data)
	if err != nil {
		h.writeAnalysisError(w, err, upload.ID, requestID)
		metrics.RecordUpload("failed", upload.FileSize)
		return
	}
	metrics.RecordUpload("completed", upload.FileSize)

	writeJSON(w, http.StatusCreated, map[string]any{
		"upload_id": upload.ID,
		"status":    upload.Status,
		"report":    report,
	})
}

func (h *Handler) rejectTooLarge(w http.ResponseWriter) {
	metrics.RecordUpload("too_large", 0)
	writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
}

func (h *Handler) enqueue(r *http.Request, upload *domain.Upload) error {
	err := h.queue.Enqueue(r.Context(), queue.AnalysisJob{
		ID:        uuid.NewString(),
		UploadID:  upload.ID,
		AccountID: upload.AccountID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.logger.Warn("enqueue analysis, analyzing inline", "upload_id", upload.ID, "error", err)
	}
	return err
}

func (h *Handler) writeAnalysisError(w http.ResponseWriter, err error, uploadID, requestID string) {
	switch {
	case errors.Is(err, domain.ErrMalformedCSV):
		writeError(w, http.StatusBadRequest, "invalid file: could not read CSV")
	case errors.Is(err, domain.ErrNoValidRows):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrObjectNotFound):
		writeError(w, http.StatusConflict, "archived file is not available for re-analysis")
	default:
		h.logger.Error("analyze upload", "upload_id", uploadID, "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "analysis failed")
	}
}

func (h *Handler) handleListUploads(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	uploads, err := h.uploads.ListByAccount(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("list uploads", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list uploads")
		return
	}
	if uploads == nil {
		uploads = []*domain.Upload{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uploads": uploads,
		"count":   len(uploads),
	})
}

func (h *Handler) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	_, upload, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func (h *Handler) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, upload, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}

	key := cache.ReportKey(upload.ID)
	report, hit := h.cache.Get(ctx, key)
	telemetry.AddCacheAttribute(trace.SpanFromContext(ctx), hit)
	if hit {
		metrics.RecordCacheHit()
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, analysisResponse(upload, report))
		return
	}
	metrics.RecordCacheMiss()

	analysis, err := h.analyses.Get(ctx, upload.ID)
	if errors.Is(err, domain.ErrAnalysisNotFound) {
		switch upload.Status {
		case domain.UploadStatusPending, domain.UploadStatusAnalyzing:
			writeJSON(w, http.StatusAccepted, map[string]any{"upload_id": upload.ID, "status": upload.Status})
		case domain.UploadStatusFailed:
			writeError(w, http.StatusUnprocessableEntity, "analysis failed: "+upload.FailureReason)
		default:
			writeError(w, http.StatusNotFound, "analysis not found")
		}
		return
	}
	if err != nil {
		h.logger.Error("get analysis", "upload_id", upload.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	if err := h.cache.Set(ctx, key, &analysis.Report, cache.DefaultTTL); err != nil {
		h.logger.Warn("cache report", "upload_id", upload.ID, "error", err)
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, analysisResponse(upload, &analysis.Report))
}

func analysisResponse(upload *domain.Upload, report *domain.Report) map[string]any {
	return map[string]any{
		"upload_id": upload.ID,
		"status":    upload.Status,
		"tier":      upload.Tier,
		"report":    report,
	}
}

func (h *Handler) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	_, upload, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}

	if h.async && upload.StoragePath != "" {
		if err := h.enqueue(r, upload); err == nil {
			writeJSON(w, http.StatusAccepted, map[string]any{"upload_id": upload.ID, "status": upload.Status})
			return
		}
	}

	upload, report, err := h.processor.ProcessStored(r.Context(), upload.ID)
	if err != nil {
		h.writeAnalysisError(w, err, r.PathValue("id"), requestID)
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse(upload, report))
}

func (h *Handler) handleFreeStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	uploads, err := h.uploads.ListByAccount(r.Context(), account.ID)
	if err != nil {
		h.logger.Error("list uploads", "account_id", account.ID, "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"has_free_upload": false})
		return
	}

	hasFree := false
	for _, u := range uploads {
		if u.StripePaymentIntentID == "" {
			hasFree = true
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"has_free_upload": hasFree})
}

func (h *Handler) handleGetDeliverable(w http.ResponseWriter, r *http.Request) {
	_, upload, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}

	deliverable, err := h.deliverables.GetByUpload(r.Context(), upload.ID)
	if errors.Is(err, domain.ErrDeliverableNotFound) {
		writeError(w, http.StatusNotFound, "deliverable not found")
		return
	}
	if err != nil {
		h.logger.Error("get deliverable", "upload_id", upload.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load deliverable")
		return
	}

	writeJSON(w, http.StatusOK, deliverable)
}

// authenticate resolves the account from the bearer API key and writes a 401
// when it cannot.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	apiKey := auth.ExtractBearerToken(r)
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing API key")
		return nil, false
	}

	account, err := h.accounts.GetByAPIKey(r.Context(), apiKey)
	if err != nil {
		h.logger.Warn("invalid API key", "error", err, "request_id", r.Header.Get("X-Request-ID"))
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return nil, false
	}

	return account, true
}

// ownedUpload loads the {id} upload for the calling account. Uploads of other
// accounts are reported as missing.
func (h *Handler) ownedUpload(w http.ResponseWriter, r *http.Request) (*domain.Account, *domain.Upload, bool) {
	account, ok := h.authenticate(w, r)
	if !ok {
		return nil, nil, false
	}

	upload, err := h.uploads.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrUploadNotFound) || (err == nil && upload.AccountID != account.ID) {
		writeError(w, http.StatusNotFound, "upload not found")
		return nil, nil, false
	}
	if err != nil {
		h.logger.Error("get upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load upload")
		return nil, nil, false
	}

	return account, upload, true
}

func (h *Handler) dashboardURL(uploadID string) string {
	return h.baseURL + "/dashboard/upload/" + uploadID
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": Version,
		"async":   h.async,
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
