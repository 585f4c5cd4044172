package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	str, _ := value.(string)
	f.data[key] = str
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestIdempotencyTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"create payment", http.MethodPost, "/api/v1/payments", "/api/v1/payments", defaultIdempotencyTTL, true},
		{"create refund on subrouter", http.MethodPost, "/api/v1/refunds/", "/api/v1/*", defaultIdempotencyTTL, true},
		{"process refund", http.MethodPost, "/api/admin/v1/refunds/r-1/process", "/api/admin/v1/refunds/{refundId}/process", criticalIdempotencyTTL, true},
		{"review refund", http.MethodPost, "/api/admin/v1/refunds/r-1/review", "/api/admin/v1/*", defaultIdempotencyTTL, true},
		{"installment", http.MethodPatch, "/api/admin/v1/payments/p-1/installments/2", "/api/admin/v1/*", defaultIdempotencyTTL, true},
		{"read refunds", http.MethodGet, "/api/v1/refunds", "/api/v1/refunds", 0, false},
		{"sweep", http.MethodPost, "/api/admin/v1/payments/sweep-overdue", "/api/admin/v1/*", 0, false},
	}

	for _, tt := range tests {
		req := requestWithPattern(tt.method, tt.path, tt.pattern, nil)
		ttl, ok := idempotencyTTL(req)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

const (
	refundsPath    = "/api/v1/refunds"
	processPath    = "/api/admin/v1/refunds/1/process"
	processPattern = "/api/admin/v1/refunds/{refundId}/process"
)

// send runs one request through mw; an empty key omits the header.
func send(mw func(http.Handler) http.Handler, h http.Handler, path, pattern, key, body string) *httptest.ResponseRecorder {
	req := requestWithPattern(http.MethodPost, path, pattern, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	mw(h).ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload.Error.Code
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	ran := false
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { ran = true })

	rec := send(Idempotency(newFakeStore(), nil), h, refundsPath, refundsPath, "", `{"amount":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := errorCode(t, rec); got != string(pkgerrors.CodeValidation) {
		t.Fatalf("code = %s", got)
	}
	if ran {
		t.Fatal("handler ran without a key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	calls := 0
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"r-1"}}`)
	})

	first := send(mw, h, refundsPath, refundsPath, "abc", `{"amount":1}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	if first.Header().Get("Idempotent-Replayed") != "" {
		t.Fatal("first response must not be marked as a replay")
	}

	replay := send(mw, h, refundsPath, refundsPath, "abc", `{"amount":1}`)
	switch {
	case replay.Code != http.StatusCreated:
		t.Fatalf("replay status = %d", replay.Code)
	case replay.Header().Get("Content-Type") != "application/json":
		t.Fatal("content type not replayed")
	case strings.TrimSpace(replay.Body.String()) != `{"data":{"id":"r-1"}}`:
		t.Fatalf("replay body = %s", replay.Body.String())
	case replay.Header().Get("Idempotent-Replayed") != "true":
		t.Fatal("missing replay marker")
	case calls != 1:
		t.Fatalf("handler calls = %d, want 1", calls)
	}
}

func TestIdempotencyMiddlewareRejectsInFlightDuplicate(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	never := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("duplicate reached the handler")
	})
	var dup *httptest.ResponseRecorder
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dup = send(mw, never, processPath, processPattern, "same", `{}`)
		w.WriteHeader(http.StatusOK)
	})

	send(mw, h, processPath, processPattern, "same", `{}`)
	if dup == nil || dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight duplicate, got %+v", dup)
	}
	if got := errorCode(t, dup); got != string(pkgerrors.CodeConcurrency) {
		t.Fatalf("code = %s, want %s", got, pkgerrors.CodeConcurrency)
	}
}

func TestMatchPattern(t *testing.T) {
	if !matchPattern("/api/admin/v1/refunds/{refundId}/process", "/api/admin/v1/refunds/abc/process/") {
		t.Fatal("expected wildcard match")
	}
	if matchPattern("/api/admin/v1/refunds/{refundId}/process", "/api/admin/v1/refunds//process") {
		t.Fatal("empty segment must not match a parameter")
	}
	if matchPattern("/api/v1/payments", "/api/v1/payments/pending") {
		t.Fatal("length mismatch must not match")
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	send(mw, h, refundsPath, refundsPath, "xyz", `{"amount":1}`)
	rec := send(mw, h, refundsPath, refundsPath, "xyz", `{"amount":2}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := errorCode(t, rec); got != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("code = %s, want %s", got, pkgerrors.CodeIdempotency)
	}
}

func TestIdempotencyMiddlewareReleasesKeyOnRetryableStatus(t *testing.T) {
	for _, status := range []int{http.StatusServiceUnavailable, http.StatusTooManyRequests} {
		store := newFakeStore()
		calls := 0
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(status)
		})
		mw := Idempotency(store, nil)
		send(mw, h, processPath, processPattern, "retry-me", `{}`)
		send(mw, h, processPath, processPattern, "retry-me", `{}`)

		if calls != 2 {
			t.Fatalf("status %d: handler calls = %d, want 2", status, calls)
		}
		if len(store.data) != 0 {
			t.Fatalf("status %d: %d records left behind", status, len(store.data))
		}
	}
}

func TestIdempotencyMiddlewarePassesUnlistedRoutes(t *testing.T) {
	ran := false
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { ran = true })
	req := requestWithPattern(http.MethodGet, refundsPath, refundsPath, nil)
	Idempotency(newFakeStore(), nil)(h).ServeHTTP(httptest.NewRecorder(), req)
	if !ran {
		t.Fatal("reads must pass without a key")
	}
}
