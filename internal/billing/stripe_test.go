package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestCheckout(backendURL string) *StripeCheckout {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewStripeCheckout(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		PriceID:       "price_concierge",
		BackendURL:    backendURL,
	}, &http.Client{Timeout: 5 * time.Second}, logger)
}

func signed(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func TestCreateSession(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s, want /v1/checkout/sessions", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer server.Close()

	c := newTestCheckout(server.URL)
	sess, err := c.CreateSession(context.Background(), CheckoutRequest{
		UploadID:   "up-1",
		AccountID:  "acct-1",
		SuccessURL: "https://audit.example.com/dashboard/up-1?checkout=success",
		CancelURL:  "https://audit.example.com/dashboard/up-1",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if sess.ID != "cs_test_1" || !strings.HasPrefix(sess.URL, "https://checkout.stripe.com/") {
		t.Errorf("session = %+v", sess)
	}
	if got := form.Get("metadata[upload_id]"); got != "up-1" {
		t.Errorf("metadata[upload_id] = %q, want up-1", got)
	}
	if got := form.Get("line_items[0][price]"); got != "price_concierge" {
		t.Errorf("line_items[0][price] = %q", got)
	}
	if got := form.Get("mode"); got != "payment" {
		t.Errorf("mode = %q, want payment", got)
	}
}

func TestCreateSession_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such price"}}`))
	}))
	defer server.Close()

	c := newTestCheckout(server.URL)
	if _, err := c.CreateSession(context.Background(), CheckoutRequest{UploadID: "up-1"}); err == nil {
		t.Fatal("CreateSession() should fail on API error")
	}
}

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	c := newTestCheckout("")
	header, payload := signed(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_intent": "pi_123",
			"metadata": {"upload_id": "up-1"}
		}}
	}`)

	event, err := c.ParseEvent(payload, header)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}

	if event.Type != EventCheckoutCompleted {
		t.Errorf("Type = %q", event.Type)
	}
	if event.UploadID != "up-1" || event.PaymentIntentID != "pi_123" || event.SessionID != "cs_test_1" {
		t.Errorf("event = %+v", event)
	}
}

func TestParseEvent_OtherTypesPassThrough(t *testing.T) {
	c := newTestCheckout("")
	header, payload := signed(t, `{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)

	event, err := c.ParseEvent(payload, header)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if event.Type != "charge.refunded" || event.UploadID != "" {
		t.Errorf("event = %+v", event)
	}
}

func TestParseEvent_MissingUploadID(t *testing.T) {
	c := newTestCheckout("")
	header, payload := signed(t, `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2","object":"checkout.session"}}}`)

	_, err := c.ParseEvent(payload, header)
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("ParseEvent() error = %v, want %v", err, ErrInvalidEvent)
	}
}

func TestParseEvent_BadSignature(t *testing.T) {
	c := newTestCheckout("")
	_, payload := signed(t, `{"id":"evt_4","object":"event","type":"checkout.session.completed"}`)

	tests := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"garbage", "t=1,v1=deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ParseEvent(payload, tt.header)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("ParseEvent() error = %v, want %v", err, ErrInvalidSignature)
			}
		})
	}
}
