package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/felipepmaragno/llm-cost-audit/internal/billing"
	"github.com/felipepmaragno/llm-cost-audit/internal/circuitbreaker"
	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/felipepmaragno/llm-cost-audit/internal/notifications"
)

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	account, upload, ok := h.ownedUpload(w, r)
	if !ok {
		return
	}
	if upload.Tier != domain.TierSelfServe {
		writeError(w, http.StatusConflict, "expert audit already purchased for this upload")
		return
	}

	session, err := h.checkout.CreateSession(r.Context(), billing.CheckoutRequest{
		UploadID:      upload.ID,
		AccountID:     account.ID,
		CustomerEmail: account.Email,
		SuccessURL:    h.dashboardURL(upload.ID) + "?checkout=success",
		CancelURL:     h.dashboardURL(upload.ID),
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "payments are temporarily unavailable")
		return
	}
	if err != nil {
		h.logger.Error("create checkout session", "upload_id", upload.ID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to start checkout")
		return
	}

	metrics.RecordConcierge("checkout_started")
	h.logger.Info("checkout started", "upload_id", upload.ID, "account_id", account.ID, "session_id", session.ID)

	writeJSON(w, http.StatusOK, map[string]string{
		"url":        session.URL,
		"session_id": session.ID,
	})
}

// handleStripeWebhook acknowledges every verified event so Stripe stops
// retrying; only signature failures and storage errors are reported back.
func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	event, err := h.checkout.ParseEvent(payload, signature)
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		h.logger.Warn("stripe webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	case errors.Is(err, billing.ErrInvalidEvent):
		h.logger.Warn("stripe webhook ignored", "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	case err != nil:
		h.logger.Error("stripe webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if event.Type == billing.EventCheckoutCompleted {
		claimKey := "stripe:event:" + event.ID
		if h.webhookEvents != nil && event.ID != "" && !h.webhookEvents.Claim(r.Context(), claimKey) {
			h.logger.Info("stripe event already handled", "event_id", event.ID)
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		if err := h.markConciergeOrdered(r, event); err != nil {
			if h.webhookEvents != nil && event.ID != "" {
				h.webhookEvents.Release(r.Context(), claimKey)
			}
			h.logger.Error("record concierge order", "upload_id", event.UploadID, "event_id", event.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to record order")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) markConciergeOrdered(r *http.Request, event *billing.Event) error {
	ctx := r.Context()

	upload, err := h.uploads.GetByID(ctx, event.UploadID)
	if errors.Is(err, domain.ErrUploadNotFound) {
		h.logger.Warn("checkout completed for unknown upload", "upload_id", event.UploadID, "event_id", event.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if upload.Tier != domain.TierSelfServe && upload.StripePaymentIntentID == event.PaymentIntentID {
		h.logger.Info("duplicate checkout event", "upload_id", upload.ID, "event_id", event.ID)
		return nil
	}

	upload.Tier = domain.TierConciergePending
	upload.StripePaymentIntentID = event.PaymentIntentID
	if err := h.uploads.Update(ctx, upload); err != nil {
		return err
	}

	metrics.RecordConcierge("ordered")
	h.logger.Info("concierge ordered", "upload_id", upload.ID, "account_id", upload.AccountID)

	if h.notifier != nil && h.adminEmail != "" {
		n := notifications.ConciergeOrdered(h.adminEmail, upload.ID, upload.AccountID, h.baseURL+"/admin/concierge/"+upload.ID)
		if err := h.notifier.Send(ctx, n); err != nil {
			h.logger.Warn("notify concierge order", "upload_id", upload.ID, "error", err)
		}
	}

	return nil
}
