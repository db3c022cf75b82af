package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/mdrennan/bulwark/internal/models"
	pkghttp "github.com/mdrennan/bulwark/pkg/http"
)

// storeCallTimeout bounds every engine call made on the request path
const storeCallTimeout = 100 * time.Millisecond

// RateLimiter is the engine surface the guard middleware consumes
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key models.RateLimitKey) (models.RateLimitResult, error)
	RecordAttempt(ctx context.Context, key models.RateLimitKey, outcome models.AttemptOutcome, attemptCtx models.AttemptContext) error
}

// IPBlockChecker reports whether an IP is under lockdown
type IPBlockChecker interface {
	IsIPBlocked(ctx context.Context, ip string) bool
}

// RateLimitByIP creates a coarse per-IP request limiter for the admin API
func RateLimitByIP(requestsPerMinute int) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteThrottled(w, time.Minute)
		}),
	)
}

// Protect guards one protected action: it rejects locked-down IPs, applies
// the sliding-window decision with its progressive delay, and records the
// attempt outcome from the response status after the handler runs.
func Protect(limiter RateLimiter, blocks IPBlockChecker, action models.Action) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ClientIP(r)
			key := models.RateLimitKey{Kind: models.KeyKindIP, Value: ip, Action: action}

			checkCtx, cancel := context.WithTimeout(r.Context(), storeCallTimeout)
			blocked := blocks.IsIPBlocked(checkCtx, ip)
			cancel()
			if blocked {
				pkghttp.WriteAccessDenied(w)
				return
			}

			checkCtx, cancel = context.WithTimeout(r.Context(), storeCallTimeout)
			result, err := limiter.CheckRateLimit(checkCtx, key)
			cancel()
			if err != nil {
				// Engine misconfiguration surfaces at startup; a per-request
				// error here degrades to serving the request
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				pkghttp.WriteThrottled(w, result.RetryAfter)
				return
			}

			if result.ProgressiveDelay > 0 {
				select {
				case <-time.After(result.ProgressiveDelay):
				case <-r.Context().Done():
					return
				}
			}

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			outcome := models.OutcomeSuccess
			if wrapped.Status() >= http.StatusBadRequest {
				outcome = models.OutcomeFailure
			}

			recordCtx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
			defer cancel()
			_ = limiter.RecordAttempt(recordCtx, key, outcome, models.AttemptContext{
				UserAgent: r.UserAgent(),
			})
		})
	}
}
