package middleware_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/ratelimit-go/internal/audit"
	"github.com/serroba/ratelimit-go/internal/middleware"
	"github.com/serroba/ratelimit-go/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const (
	testHostAddr       = "192.168.1.1:12345"
	testUserAgent      = "TestAgent/1.0"
	testUserAgentShort = "TestAgent"
)

var errMultipartNotSupported = errors.New("multipart not supported in mock")

func newTestAPI() huma.API {
	return humachi.New(chi.NewMux(), huma.DefaultConfig("Test", "1.0.0"))
}

func testConfig() ratelimit.Config {
	return ratelimit.Config{
		Algorithm:  ratelimit.AlgorithmTokenBucket,
		Capacity:   100,
		RefillRate: 10,
	}
}

type mockLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (m *mockLimiter) Decide(_ context.Context, _ string, _ int64) (ratelimit.Decision, error) {
	return m.decision, m.err
}

type mockPublisher struct {
	messages []*message.Message
	topics   []string
}

func (m *mockPublisher) Publish(topic string, msgs ...*message.Message) error {
	m.topics = append(m.topics, topic)
	m.messages = append(m.messages, msgs...)

	return nil
}

func (m *mockPublisher) Close() error { return nil }

// mockHumaContext implements huma.Context for testing.
type mockHumaContext struct {
	headers    map[string]string
	setHeaders map[string]string
	host       string
	remoteAddr string
	written    []byte
	statusCode int
	method     string
	operation  *huma.Operation
}

func newMockHumaContext() *mockHumaContext {
	return &mockHumaContext{
		headers:    make(map[string]string),
		setHeaders: make(map[string]string),
		method:     "GET",
	}
}

func (m *mockHumaContext) Operation() *huma.Operation {
	return m.operation
}
func (m *mockHumaContext) Context() context.Context              { return context.Background() }
func (m *mockHumaContext) TLS() *tls.ConnectionState             { return nil }
func (m *mockHumaContext) Version() huma.ProtoVersion            { return huma.ProtoVersion{} }
func (m *mockHumaContext) Method() string                        { return m.method }
func (m *mockHumaContext) Host() string                          { return m.host }
func (m *mockHumaContext) RemoteAddr() string                    { return m.remoteAddr }
func (m *mockHumaContext) URL() url.URL                          { return url.URL{} }
func (m *mockHumaContext) Param(_ string) string                 { return "" }
func (m *mockHumaContext) Query(_ string) string                 { return "" }
func (m *mockHumaContext) Header(name string) string             { return m.headers[name] }
func (m *mockHumaContext) EachHeader(_ func(name, value string)) {}
func (m *mockHumaContext) BodyReader() io.Reader                 { return nil }
func (m *mockHumaContext) GetMultipartForm() (*multipart.Form, error) {
	return nil, errMultipartNotSupported
}
func (m *mockHumaContext) SetReadDeadline(_ time.Time) error { return nil }
func (m *mockHumaContext) SetStatus(code int)                { m.statusCode = code }
func (m *mockHumaContext) Status() int                       { return m.statusCode }
func (m *mockHumaContext) AppendHeader(_, _ string)          {}
func (m *mockHumaContext) SetHeader(name, value string)      { m.setHeaders[name] = value }
func (m *mockHumaContext) BodyWriter() io.Writer             { return &mockBodyWriter{ctx: m} }

type mockBodyWriter struct {
	ctx *mockHumaContext
}

func (w *mockBodyWriter) Write(p []byte) (n int, err error) {
	w.ctx.written = append(w.ctx.written, p...)

	return len(p), nil
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows request and sets quota headers", func(t *testing.T) {
		api := newTestAPI()
		resetAt := time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC)
		limiter := &mockLimiter{decision: ratelimit.Decision{
			Allowed:   true,
			Remaining: 9,
			ResetAt:   resetAt,
		}}
		mw := middleware.RateLimiter(api, limiter, testConfig(), nil, zap.NewNop())

		ctx := newMockHumaContext()
		ctx.host = testHostAddr
		ctx.headers["User-Agent"] = testUserAgent

		nextCalled := false

		mw(ctx, func(_ huma.Context) {
			nextCalled = true
		})

		assert.True(t, nextCalled, "next should be called when allowed")
		assert.Equal(t, "100", ctx.setHeaders["X-RateLimit-Limit"])
		assert.Equal(t, "9", ctx.setHeaders["X-RateLimit-Remaining"])
		assert.Equal(t, "1740830460", ctx.setHeaders["X-RateLimit-Reset"])
	})

	t.Run("returns 429 with Retry-After when denied", func(t *testing.T) {
		api := newTestAPI()
		limiter := &mockLimiter{decision: ratelimit.Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: 1500 * time.Millisecond,
		}}
		pub := &mockPublisher{}
		mw := middleware.RateLimiter(api, limiter, testConfig(), audit.NewPublisher(pub), zap.NewNop())

		ctx := newMockHumaContext()
		ctx.host = testHostAddr
		ctx.headers["User-Agent"] = testUserAgent

		nextCalled := false

		mw(ctx, func(_ huma.Context) {
			nextCalled = true
		})

		assert.False(t, nextCalled, "next should not be called when rate limited")
		assert.Equal(t, 429, ctx.statusCode)
		assert.Equal(t, "2", ctx.setHeaders["Retry-After"], "1.5s rounds up to 2s")
		assert.Equal(t, "0", ctx.setHeaders["X-RateLimit-Remaining"])
		assert.Contains(t, string(ctx.written), "rate limit")
		assert.Equal(t, []string{audit.TopicLimitExceeded}, pub.topics)
	})

	t.Run("sub-second wait reports at least one second", func(t *testing.T) {
		api := newTestAPI()
		limiter := &mockLimiter{decision: ratelimit.Decision{
			Allowed:    false,
			RetryAfter: 300 * time.Millisecond,
		}}
		mw := middleware.RateLimiter(api, limiter, testConfig(), nil, zap.NewNop())

		ctx := newMockHumaContext()
		ctx.host = testHostAddr
		ctx.headers["User-Agent"] = testUserAgent

		mw(ctx, func(_ huma.Context) {})

		assert.Equal(t, "1", ctx.setHeaders["Retry-After"])
	})

	t.Run("fail-open decision admits and publishes degraded event", func(t *testing.T) {
		api := newTestAPI()
		limiter := &mockLimiter{decision: ratelimit.Decision{
			Allowed:   true,
			Remaining: ratelimit.RemainingUnknown,
		}}
		pub := &mockPublisher{}

		cfg := testConfig()
		cfg.FailurePolicy = ratelimit.FailOpen

		mw := middleware.RateLimiter(api, limiter, cfg, audit.NewPublisher(pub), zap.NewNop())

		ctx := newMockHumaContext()
		ctx.host = testHostAddr
		ctx.headers["User-Agent"] = testUserAgent

		nextCalled := false

		mw(ctx, func(_ huma.Context) {
			nextCalled = true
		})

		assert.True(t, nextCalled, "fail-open admits the request")
		assert.NotContains(t, ctx.setHeaders, "X-RateLimit-Remaining", "unknown remaining is omitted")
		assert.Equal(t, []string{audit.TopicLimiterDegraded}, pub.topics)
	})

	t.Run("uses IP and User-Agent for client key", func(t *testing.T) {
		api := newTestAPI()

		var capturedKey string

		limiter := &capturingLimiter{capturedKey: &capturedKey}
		mw := middleware.RateLimiter(api, limiter, testConfig(), nil, zap.NewNop())

		ctx1 := newMockHumaContext()
		ctx1.host = testHostAddr
		ctx1.headers["User-Agent"] = testUserAgent

		mw(ctx1, func(_ huma.Context) {})

		key1 := capturedKey

		ctx2 := newMockHumaContext()
		ctx2.host = testHostAddr
		ctx2.headers["User-Agent"] = testUserAgent

		mw(ctx2, func(_ huma.Context) {})

		key2 := capturedKey

		assert.Equal(t, key1, key2, "same IP and User-Agent should produce same key")

		// Different User-Agent should produce different key
		ctx3 := newMockHumaContext()
		ctx3.host = testHostAddr
		ctx3.headers["User-Agent"] = "DifferentAgent/2.0"

		mw(ctx3, func(_ huma.Context) {})

		key3 := capturedKey

		assert.NotEqual(t, key1, key3, "different User-Agent should produce different key")
	})

	t.Run("extracts IP from X-Forwarded-For header", func(t *testing.T) {
		api := newTestAPI()

		var capturedKey string

		limiter := &capturingLimiter{capturedKey: &capturedKey}
		mw := middleware.RateLimiter(api, limiter, testConfig(), nil, zap.NewNop())

		ctx := newMockHumaContext()
		ctx.host = "10.0.0.1:12345"
		ctx.headers["X-Forwarded-For"] = "203.0.113.195, 70.41.3.18, 150.172.238.178"
		ctx.headers["User-Agent"] = testUserAgentShort

		mw(ctx, func(_ huma.Context) {})

		keyWithXFF := capturedKey

		// Request with same first XFF IP should have same key
		ctx2 := newMockHumaContext()
		ctx2.host = "10.0.0.2:54321"
		ctx2.headers["X-Forwarded-For"] = "203.0.113.195"
		ctx2.headers["User-Agent"] = testUserAgentShort

		mw(ctx2, func(_ huma.Context) {})

		assert.Equal(t, keyWithXFF, capturedKey, "should use first IP from X-Forwarded-For")
	})
}

type capturingLimiter struct {
	capturedKey *string
}

func (c *capturingLimiter) Decide(_ context.Context, key string, _ int64) (ratelimit.Decision, error) {
	*c.capturedKey = key

	return ratelimit.Decision{Allowed: true, Remaining: 1}, nil
}

func TestRateLimiter_LimiterError(t *testing.T) {
	api := newTestAPI()
	limiter := &mockLimiter{err: errors.New("limiter error")}
	mw := middleware.RateLimiter(api, limiter, testConfig(), nil, zap.NewNop())

	ctx := newMockHumaContext()
	ctx.host = testHostAddr
	ctx.headers["User-Agent"] = testUserAgent

	nextCalled := false

	mw(ctx, func(_ huma.Context) {
		nextCalled = true
	})

	assert.False(t, nextCalled, "next should not be called when limiter errors")
	assert.Equal(t, 500, ctx.statusCode)
}

func TestClientIP_XRealIP(t *testing.T) {
	api := newTestAPI()

	var capturedKey string

	limiter := &capturingLimiter{capturedKey: &capturedKey}
	mw := middleware.RateLimiter(api, limiter, testConfig(), nil, zap.NewNop())

	ctx := newMockHumaContext()
	ctx.host = "10.0.0.1:12345"
	ctx.headers["X-Real-IP"] = "203.0.113.100"
	ctx.headers["User-Agent"] = testUserAgentShort

	mw(ctx, func(_ huma.Context) {})

	keyWithXRI := capturedKey

	// Request with same X-Real-IP should have same key
	ctx2 := newMockHumaContext()
	ctx2.host = "10.0.0.2:54321"
	ctx2.headers["X-Real-IP"] = "203.0.113.100"
	ctx2.headers["User-Agent"] = testUserAgentShort

	mw(ctx2, func(_ huma.Context) {})

	assert.Equal(t, keyWithXRI, capturedKey, "should use X-Real-IP when present")
}

func TestClientIP_HostWithoutPort(t *testing.T) {
	api := newTestAPI()

	var capturedKey string

	limiter := &capturingLimiter{capturedKey: &capturedKey}
	mw := middleware.RateLimiter(api, limiter, testConfig(), nil, zap.NewNop())

	// Host without port (SplitHostPort will fail)
	ctx := newMockHumaContext()
	ctx.host = "192.168.1.1"
	ctx.headers["User-Agent"] = testUserAgentShort

	mw(ctx, func(_ huma.Context) {})

	key1 := capturedKey

	// Same host should produce same key
	ctx2 := newMockHumaContext()
	ctx2.host = "192.168.1.1"
	ctx2.headers["User-Agent"] = testUserAgentShort

	mw(ctx2, func(_ huma.Context) {})

	assert.Equal(t, key1, capturedKey, "should use host as-is when SplitHostPort fails")
}
