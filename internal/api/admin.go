package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/auth"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/felipepmaragno/llm-cost-audit/internal/notifications"
	"github.com/felipepmaragno/llm-cost-audit/internal/repository"
	"github.com/google/uuid"
)

// AdminConfig wires the concierge admin API to its stores and services.
type AdminConfig struct {
	Accounts     repository.AccountRepository
	Uploads      repository.UploadRepository
	Analyses     repository.AnalysisRepository
	Deliverables repository.DeliverableRepository
	Notifier     notifications.Notifier
	AppBaseURL   string
	// RBAC guards every route when set; nil leaves the admin API open.
	RBAC   *auth.RBACMiddleware
	Logger *slog.Logger
}

// AdminHandler serves the back-office concierge queue.
type AdminHandler struct {
	accounts     repository.AccountRepository
	uploads      repository.UploadRepository
	analyses     repository.AnalysisRepository
	deliverables repository.DeliverableRepository
	notifier     notifications.Notifier
	baseURL      string
	logger       *slog.Logger
	handler      http.Handler
}

// NewAdminHandler builds the /admin routes. When an RBAC middleware is
// configured every route requires a consultant login.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	h := &AdminHandler{
		accounts:     cfg.Accounts,
		uploads:      cfg.Uploads,
		analyses:     cfg.Analyses,
		deliverables: cfg.Deliverables,
		notifier:     cfg.Notifier,
		baseURL:      cfg.AppBaseURL,
		logger:       cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	guard := func(p auth.Permission, fn http.HandlerFunc) http.Handler {
		if cfg.RBAC == nil {
			return fn
		}
		return cfg.RBAC.RequirePermission(p)(fn)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /admin/concierge", guard(auth.PermissionConciergeRead, h.listPending))
	mux.Handle("GET /admin/concierge/{id}", guard(auth.PermissionUploadRead, h.getOrder))
	mux.Handle("POST /admin/concierge/{id}/deliver", guard(auth.PermissionConciergeDeliver, h.deliver))

	h.handler = mux
	if cfg.RBAC != nil {
		h.handler = cfg.RBAC.RequireAuth(mux)
	}

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *AdminHandler) listPending(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.uploads.ListByTier(r.Context(), domain.TierConciergePending)
	if err != nil {
		h.logger.Error("list concierge queue", "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to list concierge orders")
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

// OrderResponse is one concierge order as the admin sees it.
type OrderResponse struct {
	Upload      *domain.Upload      `json:"upload"`
	Report      *domain.Report      `json:"report,omitempty"`
	Deliverable *domain.Deliverable `json:"deliverable,omitempty"`
}

func (h *AdminHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	upload, err := h.uploads.GetByID(ctx, id)
	if err != nil {
		writeAdminError(w, http.StatusNotFound, "upload not found")
		return
	}

	resp := OrderResponse{Upload: upload}

	analysis, err := h.analyses.Get(ctx, id)
	switch {
	case err == nil:
		resp.Report = &analysis.Report
	case !errors.Is(err, domain.ErrAnalysisNotFound):
		h.logger.Error("get analysis", "upload_id", id, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	deliverable, err := h.deliverables.GetByUpload(ctx, id)
	switch {
	case err == nil:
		resp.Deliverable = deliverable
	case !errors.Is(err, domain.ErrDeliverableNotFound):
		h.logger.Error("get deliverable", "upload_id", id, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to load deliverable")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeliverRequest is the body of POST /admin/concierge/{id}/deliver.
type DeliverRequest struct {
	LoomURL      string               `json:"loom_url"`
	Report       string               `json:"report,omitempty"`
	Savings      *float64             `json:"savings,omitempty"`
	CodeSnippets []domain.CodeSnippet `json:"code_snippets,omitempty"`
}

func (h *AdminHandler) deliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req DeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validLoomURL(req.LoomURL) {
		writeAdminError(w, http.StatusBadRequest, "loom_url must be an absolute http(s) URL")
		return
	}

	upload, err := h.uploads.GetByID(ctx, id)
	if err != nil {
		writeAdminError(w, http.StatusNotFound, "upload not found")
		return
	}

	deliverable := &domain.Deliverable{
		ID:            uuid.NewString(),
		UploadID:      upload.ID,
		LoomVideoURL:  req.LoomURL,
		WrittenReport: req.Report,
		CodeSnippets:  completeSnippets(req.CodeSnippets),
		TopSavings:    req.Savings,
		ConsultantID:  auth.ConsultantID(ctx),
		DeliveredAt:   time.Now(),
	}

	if err := h.deliverables.Create(ctx, deliverable); err != nil {
		h.logger.Error("save deliverable", "upload_id", id, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to save deliverable")
		return
	}

	upload.Tier = domain.TierConciergeDelivered
	upload.LoomVideoURL = req.LoomURL
	upload.ConsultantNotes = req.Report
	upload.SavingsEstimate = req.Savings
	if err := h.uploads.Update(ctx, upload); err != nil {
		h.logger.Error("mark upload delivered", "upload_id", id, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to update upload")
		return
	}

	metrics.RecordConcierge("delivered")
	h.logger.Info("concierge delivered",
		"upload_id", id,
		"consultant_id", deliverable.ConsultantID,
		"snippets", len(deliverable.CodeSnippets),
	)

	h.notifyDelivered(r, upload)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"deliverable": deliverable,
	})
}

func (h *AdminHandler) notifyDelivered(r *http.Request, upload *domain.Upload) {
	if h.notifier == nil {
		return
	}
	ctx := r.Context()

	var email string
	if account, err := h.accounts.GetByID(ctx, upload.AccountID); err == nil {
		email = account.Email
	} else {
		h.logger.Warn("lookup customer email", "account_id", upload.AccountID, "error", err)
	}

	n := notifications.ConciergeDelivered(email, upload.ID, upload.AccountID,
		h.baseURL+"/dashboard/upload/"+upload.ID, upload.LoomVideoURL)
	if err := h.notifier.Send(ctx, n); err != nil {
		h.logger.Warn("notify delivery", "upload_id", upload.ID, "error", err)
	}
}

func validLoomURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// completeSnippets drops snippets missing a title or code.
func completeSnippets(in []domain.CodeSnippet) []domain.CodeSnippet {
	var out []domain.CodeSnippet
	for _, s := range in {
		if strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.Code) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
