package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/metrics"
)

// Policy defines the throttling parameters for one traffic surface. IP and
// user keys are counted independently inside the same logical bucket.
type Policy struct {
	Bucket    string
	Window    time.Duration
	IPLimit   int
	UserLimit int
}

// NewPolicy builds a policy with the supplied window and limits.
func NewPolicy(bucket string, window time.Duration, ipLimit, userLimit int) Policy {
	return Policy{
		Bucket:    strings.ToLower(strings.TrimSpace(bucket)),
		Window:    window,
		IPLimit:   ipLimit,
		UserLimit: userLimit,
	}
}

// Enabled reports whether the policy throttles anything at all.
func (p Policy) Enabled() bool {
	return p.Window > 0 && (p.IPLimit > 0 || p.UserLimit > 0)
}

// Decision is the outcome of a limiter check. RetryAfter is only meaningful
// when Allowed is false.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// ServiceParams groups dependencies for the limiter service.
type ServiceParams struct {
	Repo       Repository
	Logger     *logger.Logger
	Metrics    *metrics.RateLimitMetrics
	ReportOnly bool
}

// Service evaluates sliding-window counters against configured policies. The
// counter store is the cross-process coordination point; the service itself
// holds no mutable state.
type Service struct {
	repo       Repository
	logg       *logger.Logger
	metrics    *metrics.RateLimitMetrics
	reportOnly bool
}

// NewService builds a limiter service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{
		repo:       params.Repo,
		logg:       params.Logger,
		metrics:    params.Metrics,
		reportOnly: params.ReportOnly,
	}, nil
}

// Check counts one request against (bucket, key) and decides on the
// post-increment count, so the request that overflows the window is itself
// counted and rejected. A store failure fails OPEN: the request is allowed
// and the failure is logged, never surfaced to the caller.
func (s *Service) Check(ctx context.Context, bucket, key string, limit int, window time.Duration) Decision {
	if key == "" || limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	state, err := s.repo.Upsert(ctx, bucket, key, window)
	if err != nil {
		if s.logg != nil {
			fields := map[string]any{"bucket": bucket, "error": err.Error()}
			s.logg.Warn(s.logg.WithFields(ctx, fields), "ratelimit.store_unavailable")
		}
		s.metrics.IncFailOpen(bucket)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	decision := Decision{
		Allowed:   state.Count <= int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, state.Count),
	}
	if !decision.Allowed {
		decision.RetryAfter = retryAfter(state.WindowStart, window)
	}

	if decision.Allowed {
		s.metrics.IncAllowed(bucket)
		return decision
	}

	s.metrics.IncBlocked(bucket)
	if s.logg != nil {
		fields := map[string]any{
			"bucket":         bucket,
			"attempts":       state.Count,
			"limit":          limit,
			"window_seconds": int(window.Seconds()),
			"report_only":    s.reportOnly,
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "ratelimit.blocked")
	}

	if s.reportOnly {
		decision.Allowed = true
	}
	return decision
}

// CheckPolicy evaluates the IP key and the optional user key against their
// independent limits. The call is denied if either check denies, and the most
// restrictive denial (longest retry) wins.
func (s *Service) CheckPolicy(ctx context.Context, policy Policy, ip, userID string) Decision {
	if !policy.Enabled() {
		return Decision{Allowed: true}
	}

	decisions := make([]Decision, 0, 2)
	if policy.IPLimit > 0 && ip != "" {
		decisions = append(decisions, s.Check(ctx, policy.Bucket, ipKey(ip), policy.IPLimit, policy.Window))
	}
	if policy.UserLimit > 0 && userID != "" {
		decisions = append(decisions, s.Check(ctx, policy.Bucket, userKey(userID), policy.UserLimit, policy.Window))
	}
	if len(decisions) == 0 {
		return Decision{Allowed: true}
	}

	result := decisions[0]
	for _, d := range decisions[1:] {
		if !d.Allowed && (result.Allowed || d.RetryAfter > result.RetryAfter) {
			result = d
			continue
		}
		if d.Allowed == result.Allowed && d.Remaining < result.Remaining {
			result = d
		}
	}
	return result
}

func ipKey(ip string) string {
	return fmt.Sprintf("ip:%s", ip)
}

func userKey(id string) string {
	return fmt.Sprintf("user:%s", id)
}

func remaining(limit int, count int64) int {
	left := int64(limit) - count
	if left < 0 {
		return 0
	}
	return int(left)
}

func retryAfter(windowStart time.Time, window time.Duration) time.Duration {
	left := time.Until(windowStart.Add(window))
	if left < time.Second {
		return time.Second
	}
	return left
}
