package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (c *countingLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if c.err != nil {
		return false, 0, c.err
	}
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[scope]++
	return c.counts[scope] <= limit, c.counts[scope], nil
}

func serveAs(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds", nil)
	if userID != "" {
		req = req.WithContext(WithUserID(req.Context(), userID))
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestUserRateLimitBlocksAfterLimit(t *testing.T) {
	limiter := &countingLimiter{}
	handler := UserRateLimit(NewRateLimitPolicy("refund-create", time.Hour, 2), limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		if resp := serveAs(handler, "user-a"); resp.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201 got %d", i, resp.Code)
		}
	}
	resp := serveAs(handler, "user-a")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "3600" {
		t.Fatalf("expected Retry-After 3600, got %q", resp.Header().Get("Retry-After"))
	}

	if resp := serveAs(handler, "user-b"); resp.Code != http.StatusCreated {
		t.Fatalf("other users keep their own window, got %d", resp.Code)
	}
}

func TestUserRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	limiter := &countingLimiter{}
	handler := UserRateLimit(NewRateLimitPolicy("refund-create", time.Hour, 0), limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		if resp := serveAs(handler, "user-a"); resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", resp.Code)
		}
	}
	if len(limiter.counts) != 0 {
		t.Fatalf("limiter should not be consulted")
	}
}

func TestUserRateLimitStoreErrorIsDependency(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	handler := UserRateLimit(NewRateLimitPolicy("refund-create", time.Hour, 1), limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	if resp := serveAs(handler, "user-a"); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}
