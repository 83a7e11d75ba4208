package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rmoralesdev/ledgerflow-backend/api/responses"
	"github.com/rmoralesdev/ledgerflow-backend/internal/ratelimit"
	pkgerrors "github.com/rmoralesdev/ledgerflow-backend/pkg/errors"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

// RateLimit enforces a sliding-window policy per client IP and, when the
// request is authenticated, per user. Denials carry Retry-After; the limiter
// itself decides fail-open behavior on store errors.
func RateLimit(policy ratelimit.Policy, limiter *ratelimit.Service, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.Enabled() || limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			decision := limiter.CheckPolicy(ctx, policy, clientIP(r), UserIDFromContext(ctx))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retryAfterSec := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfterSec < 1 {
					retryAfterSec = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
				err := pkgerrors.New(pkgerrors.CodeRateLimited, "rate limit exceeded").
					WithDetails(map[string]any{"retryAfterSec": retryAfterSec})
				responses.WriteError(ctx, logg, w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
