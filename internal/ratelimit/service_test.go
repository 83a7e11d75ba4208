package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubRepo struct {
	states map[string]WindowState
	err    error
	calls  []string
}

func (s *stubRepo) Upsert(ctx context.Context, bucket, key string, window time.Duration) (WindowState, error) {
	s.calls = append(s.calls, bucket+"/"+key)
	if s.err != nil {
		return WindowState{}, s.err
	}
	return s.states[key], nil
}

func newTestService(t *testing.T, repo Repository, reportOnly bool) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Repo: repo, ReportOnly: reportOnly})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	repo := &stubRepo{states: map[string]WindowState{
		"user:u1": {WindowStart: time.Now(), Count: 3},
	}}
	svc := newTestService(t, repo, false)

	decision := svc.Check(context.Background(), "refund_approve", "user:u1", 10, 5*time.Minute)
	if !decision.Allowed {
		t.Fatalf("expected allow, got deny")
	}
	if decision.Remaining != 7 {
		t.Fatalf("expected remaining 7, got %d", decision.Remaining)
	}
}

func TestCheckCountsOverflowRequestAndDenies(t *testing.T) {
	// Post-increment: the 11th request lands as count 11 against limit 10.
	repo := &stubRepo{states: map[string]WindowState{
		"user:u1": {WindowStart: time.Now().Add(-time.Minute), Count: 11},
	}}
	svc := newTestService(t, repo, false)

	decision := svc.Check(context.Background(), "refund_approve", "user:u1", 10, 5*time.Minute)
	if decision.Allowed {
		t.Fatalf("expected deny at count 11")
	}
	if decision.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", decision.Remaining)
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > 5*time.Minute {
		t.Fatalf("retry-after out of range: %v", decision.RetryAfter)
	}
}

func TestCheckRetryAfterFloorsAtOneSecond(t *testing.T) {
	// Window nearly elapsed: the remainder is below a second.
	repo := &stubRepo{states: map[string]WindowState{
		"user:u1": {WindowStart: time.Now().Add(-5*time.Minute + 100*time.Millisecond), Count: 11},
	}}
	svc := newTestService(t, repo, false)

	decision := svc.Check(context.Background(), "refund_approve", "user:u1", 10, 5*time.Minute)
	if decision.Allowed {
		t.Fatalf("expected deny")
	}
	if decision.RetryAfter < time.Second {
		t.Fatalf("expected retry-after >= 1s, got %v", decision.RetryAfter)
	}
}

func TestCheckFailsOpenOnStoreError(t *testing.T) {
	repo := &stubRepo{err: errors.New("connection refused")}
	svc := newTestService(t, repo, false)

	decision := svc.Check(context.Background(), "refund_approve", "user:u1", 10, 5*time.Minute)
	if !decision.Allowed {
		t.Fatalf("store failure must fail open")
	}
}

func TestCheckReportOnlyAllowsOverLimit(t *testing.T) {
	repo := &stubRepo{states: map[string]WindowState{
		"user:u1": {WindowStart: time.Now(), Count: 50},
	}}
	svc := newTestService(t, repo, true)

	decision := svc.Check(context.Background(), "refund_approve", "user:u1", 10, 5*time.Minute)
	if !decision.Allowed {
		t.Fatalf("report-only mode must allow over-limit traffic")
	}
}

func TestCheckPolicyEvaluatesBothKeys(t *testing.T) {
	repo := &stubRepo{states: map[string]WindowState{
		"ip:1.2.3.4": {WindowStart: time.Now(), Count: 1},
		"user:u1":    {WindowStart: time.Now(), Count: 2},
	}}
	svc := newTestService(t, repo, false)
	policy := NewPolicy("refund_approve", 5*time.Minute, 30, 10)

	decision := svc.CheckPolicy(context.Background(), policy, "1.2.3.4", "u1")
	if !decision.Allowed {
		t.Fatalf("expected allow")
	}
	if len(repo.calls) != 2 {
		t.Fatalf("expected both keys counted, got %v", repo.calls)
	}
}

func TestCheckPolicyMostRestrictiveDenialWins(t *testing.T) {
	now := time.Now()
	repo := &stubRepo{states: map[string]WindowState{
		// IP window started later, so its retry-after is longer.
		"ip:1.2.3.4": {WindowStart: now.Add(-time.Minute), Count: 31},
		"user:u1":    {WindowStart: now.Add(-4 * time.Minute), Count: 11},
	}}
	svc := newTestService(t, repo, false)
	policy := NewPolicy("refund_approve", 5*time.Minute, 30, 10)

	decision := svc.CheckPolicy(context.Background(), policy, "1.2.3.4", "u1")
	if decision.Allowed {
		t.Fatalf("expected deny")
	}
	if decision.RetryAfter < 3*time.Minute {
		t.Fatalf("expected the longer ip retry-after to win, got %v", decision.RetryAfter)
	}
}

func TestCheckPolicyAnonymousOnlyCountsIP(t *testing.T) {
	repo := &stubRepo{states: map[string]WindowState{
		"ip:1.2.3.4": {WindowStart: time.Now(), Count: 1},
	}}
	svc := newTestService(t, repo, false)
	policy := NewPolicy("manual_reconcile", time.Minute, 20, 5)

	decision := svc.CheckPolicy(context.Background(), policy, "1.2.3.4", "")
	if !decision.Allowed {
		t.Fatalf("expected allow")
	}
	if len(repo.calls) != 1 {
		t.Fatalf("expected only ip key counted, got %v", repo.calls)
	}
}

func TestCheckDisabledPolicy(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(t, repo, false)

	decision := svc.CheckPolicy(context.Background(), Policy{}, "1.2.3.4", "u1")
	if !decision.Allowed {
		t.Fatalf("disabled policy must allow")
	}
	if len(repo.calls) != 0 {
		t.Fatalf("disabled policy must not touch the store")
	}
}
