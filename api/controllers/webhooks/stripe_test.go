package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	stripewebhook "github.com/angelmondragon/payment-ledger/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const testSigningSecret = "whsec_test"

type webhookHarness struct {
	t       *testing.T
	service *recordingService
	store   *markStore
	handler http.HandlerFunc
}

func newWebhookHarness(t *testing.T, errs ...error) *webhookHarness {
	t.Helper()
	store := &markStore{marks: map[string]string{}}
	guard, err := stripewebhook.NewIdempotencyGuard(store, time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	service := &recordingService{errs: errs}
	return &webhookHarness{
		t:       t,
		service: service,
		store:   store,
		handler: StripeWebhook(service, staticSecret(testSigningSecret), guard, nil),
	}
}

func (h *webhookHarness) deliver(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookProcessesEventOnce(t *testing.T) {
	h := newWebhookHarness(t)
	payload, sig := signedRefundEvent(t)

	for i := 0; i < 2; i++ {
		if rec := h.deliver(payload, sig); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status %d (%s)", i+1, rec.Code, rec.Body.String())
		}
	}
	if h.service.calls != 1 {
		t.Fatalf("service calls = %d, want 1", h.service.calls)
	}
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	payload, _ := signedRefundEvent(t)
	cases := map[string]string{
		"missing":    "",
		"garbage":    "t=1,v1=invalid",
		"wrong key":  signatureFor(payload, "whsec_other", time.Now().Unix()),
		"stale time": signatureFor(payload, testSigningSecret, time.Now().Add(-time.Hour).Unix()),
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			h := newWebhookHarness(t)
			rec := h.deliver(payload, sig)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if h.service.calls != 0 {
				t.Fatalf("service must not see unverified events")
			}
			if len(h.store.marks) != 0 {
				t.Fatalf("unverified events must not be marked")
			}
		})
	}
}

func TestStripeWebhookRetryableFailureReleasesMark(t *testing.T) {
	h := newWebhookHarness(t, pkgerrors.New(pkgerrors.CodeConcurrency, "refund claimed"))
	payload, sig := signedRefundEvent(t)

	if rec := h.deliver(payload, sig); rec.Code != http.StatusConflict {
		t.Fatalf("first delivery status = %d, want 409", rec.Code)
	}
	if rec := h.deliver(payload, sig); rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec.Code)
	}
	if h.service.calls != 2 {
		t.Fatalf("service calls = %d, want 2", h.service.calls)
	}
}

func TestStripeWebhookPermanentFailureKeepsMark(t *testing.T) {
	h := newWebhookHarness(t, pkgerrors.New(pkgerrors.CodeValidation, "bad payload"))
	payload, sig := signedRefundEvent(t)

	if rec := h.deliver(payload, sig); rec.Code != http.StatusBadRequest {
		t.Fatalf("first delivery status = %d, want 400", rec.Code)
	}
	h.deliver(payload, sig)
	if h.service.calls != 1 {
		t.Fatalf("service calls = %d, want 1", h.service.calls)
	}
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	payload, sig := signedRefundEvent(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()

	StripeWebhook(nil, staticSecret(testSigningSecret), nil, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func signedRefundEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	refund, err := json.Marshal(&stripe.Refund{
		ID:       "re_" + uuid.NewString(),
		Status:   stripe.RefundStatusSucceeded,
		Amount:   5000,
		Metadata: map[string]string{"refund_request_id": uuid.NewString()},
	})
	if err != nil {
		t.Fatalf("marshal refund: %v", err)
	}
	payload, err := json.Marshal(&stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       "refund.updated",
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: refund},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, signatureFor(payload, testSigningSecret, time.Now().Unix())
}

func signatureFor(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type recordingService struct {
	calls int
	errs  []error
}

func (s *recordingService) HandleEvent(context.Context, *stripe.Event) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

type markStore struct {
	mu    sync.Mutex
	marks map[string]string
}

func (s *markStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[key], nil
}

func (s *markStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.marks[key]; ok {
		return false, nil
	}
	s.marks[key] = fmt.Sprint(value)
	return true, nil
}

func (s *markStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[key] = fmt.Sprint(value)
	return nil
}

func (s *markStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.marks, key)
	}
	return nil
}

func (s *markStore) IdempotencyKey(scope, id string) string { return "ledger:idempotency:" + scope + ":" + id }
