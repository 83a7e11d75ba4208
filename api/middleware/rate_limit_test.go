package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rmoralesdev/ledgerflow-backend/internal/ratelimit"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

type scriptedCounterRepo struct {
	counts map[string]int64
	calls  []string
}

func (s *scriptedCounterRepo) Upsert(ctx context.Context, bucket, key string, window time.Duration) (ratelimit.WindowState, error) {
	s.calls = append(s.calls, key)
	return ratelimit.WindowState{WindowStart: time.Now(), Count: s.counts[key]}, nil
}

func newLimiter(t *testing.T, repo ratelimit.Repository) *ratelimit.Service {
	t.Helper()
	limiter, err := ratelimit.NewService(ratelimit.ServiceParams{Repo: repo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return limiter
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitAllowsAndSetsHeaders(t *testing.T) {
	repo := &scriptedCounterRepo{counts: map[string]int64{"ip:1.2.3.4": 2}}
	policy := ratelimit.NewPolicy("manual_reconcile", time.Minute, 20, 5)
	handler := RateLimit(policy, newLimiter(t, repo), nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/reconcile", nil)
	req.RemoteAddr = "1.2.3.4:9999"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "20" {
		t.Fatalf("limit header wrong: %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "18" {
		t.Fatalf("remaining header wrong: %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitDeniesWithRetryAfter(t *testing.T) {
	repo := &scriptedCounterRepo{counts: map[string]int64{"ip:1.2.3.4": 21}}
	policy := ratelimit.NewPolicy("manual_reconcile", time.Minute, 20, 5)
	handler := RateLimit(policy, newLimiter(t, repo), logger.New(logger.Options{ServiceName: "test"}))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/reconcile", nil)
	req.RemoteAddr = "1.2.3.4:9999"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED envelope, got %s", rec.Body.String())
	}
}

func TestRateLimitCountsUserKeyWhenAuthenticated(t *testing.T) {
	repo := &scriptedCounterRepo{counts: map[string]int64{}}
	policy := ratelimit.NewPolicy("refund_approve", 5*time.Minute, 30, 10)
	handler := RateLimit(policy, newLimiter(t, repo), nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refund-requests/x/approve", nil)
	req.RemoteAddr = "1.2.3.4:9999"
	req = req.WithContext(WithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(repo.calls) != 2 {
		t.Fatalf("expected ip and user keys counted, got %v", repo.calls)
	}
}

func TestRateLimitPrefersForwardedForHeader(t *testing.T) {
	repo := &scriptedCounterRepo{counts: map[string]int64{}}
	policy := ratelimit.NewPolicy("manual_reconcile", time.Minute, 20, 5)
	handler := RateLimit(policy, newLimiter(t, repo), nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/reconcile", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if len(repo.calls) != 1 || repo.calls[0] != "ip:203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %v", repo.calls)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	repo := &scriptedCounterRepo{counts: map[string]int64{}}
	handler := RateLimit(ratelimit.Policy{}, newLimiter(t, repo), nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/reconcile", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(repo.calls) != 0 {
		t.Fatalf("disabled policy must not touch the store")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("disabled policy must not emit limiter headers")
	}
}
