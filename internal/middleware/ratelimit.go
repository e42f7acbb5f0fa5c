package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/serroba/ratelimit-go/internal/audit"
	"github.com/serroba/ratelimit-go/internal/ratelimit"
	"go.uber.org/zap"
)

// RateLimiter returns a Huma middleware that limits requests keyed by client
// IP and User-Agent. Quota headers are set on every response; denials get a
// Retry-After header and a 429. The publisher may be nil to disable audit
// events.
func RateLimiter(
	api huma.API,
	limiter ratelimit.Limiter,
	cfg ratelimit.Config,
	publisher *audit.Publisher,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		key := clientKey(ctx)

		decision, err := limiter.Decide(ctx.Context(), key, 1)
		if err != nil {
			// Only configuration-class errors reach here; store outages
			// resolve into a Decision via the failure policy.
			logger.Error("rate limit check failed",
				zap.String("path", operationPath(ctx)),
				zap.Error(err),
			)
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		setQuotaHeaders(ctx, cfg, decision)

		if decision.Remaining == ratelimit.RemainingUnknown {
			publishDegraded(ctx, cfg, key, publisher, logger)
		}

		if !decision.Allowed {
			denyRequest(api, ctx, cfg, decision, key, publisher, logger)

			return
		}

		next(ctx)
	}
}

// setQuotaHeaders exposes the quota state on every response so clients can
// pace themselves before hitting the limit.
func setQuotaHeaders(ctx huma.Context, cfg ratelimit.Config, decision ratelimit.Decision) {
	ctx.SetHeader("X-RateLimit-Limit", strconv.FormatInt(cfg.Capacity, 10))

	if decision.Remaining >= 0 {
		ctx.SetHeader("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	}

	if !decision.ResetAt.IsZero() {
		ctx.SetHeader("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}

func denyRequest(
	api huma.API,
	ctx huma.Context,
	cfg ratelimit.Config,
	decision ratelimit.Decision,
	key string,
	publisher *audit.Publisher,
	logger *zap.Logger,
) {
	ctx.SetHeader("Retry-After", strconv.FormatInt(retryAfterSeconds(decision.RetryAfter), 10))

	logger.Warn("rate limit exceeded",
		zap.String("key", key),
		zap.String("path", operationPath(ctx)),
		zap.String("method", ctx.Method()),
		zap.Duration("retryAfter", decision.RetryAfter),
		zap.String("client_ip", clientIP(ctx)),
	)

	if publisher != nil {
		event := &audit.LimitExceededEvent{
			ID:         uuid.NewString(),
			Key:        key,
			Algorithm:  string(cfg.Algorithm),
			Limit:      cfg.Capacity,
			RetryAfter: decision.RetryAfter,
			Path:       operationPath(ctx),
			Method:     ctx.Method(),
			ClientIP:   clientIP(ctx),
			UserAgent:  ctx.Header("User-Agent"),
			DeniedAt:   time.Now(),
		}

		if err := publisher.PublishLimitExceeded(event); err != nil {
			logger.Error("failed to publish limit exceeded event", zap.Error(err))
		}
	}

	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "rate limit exceeded")
}

func publishDegraded(
	ctx huma.Context,
	cfg ratelimit.Config,
	key string,
	publisher *audit.Publisher,
	logger *zap.Logger,
) {
	if publisher == nil {
		return
	}

	event := &audit.LimiterDegradedEvent{
		ID:         uuid.NewString(),
		Key:        key,
		Policy:     string(cfg.FailurePolicy),
		Path:       operationPath(ctx),
		OccurredAt: time.Now(),
	}

	if err := publisher.PublishLimiterDegraded(event); err != nil {
		logger.Error("failed to publish limiter degraded event", zap.Error(err))
	}
}

// retryAfterSeconds rounds up to whole seconds with a floor of one, since
// Retry-After cannot express sub-second waits.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}

	return secs
}

// operationPath extracts the route template from the operation, if available.
func operationPath(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil {
		return op.Path
	}

	u := ctx.URL()

	return u.Path
}

// clientKey generates a unique key for rate limiting based on IP and User-Agent.
func clientKey(ctx huma.Context) string {
	ip := clientIP(ctx)
	ua := ctx.Header("User-Agent")

	hash := sha256.Sum256([]byte(ip + "|" + ua))

	return hex.EncodeToString(hash[:])
}

// clientIP extracts the client IP from the request, considering proxies.
func clientIP(ctx huma.Context) string {
	// Check X-Forwarded-For header (may contain multiple IPs)
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}

		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header
	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to Host (which contains remote addr in Huma context)
	host := ctx.Host()

	ip, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}

	return ip
}
