package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/ratelimit-go/internal/ratelimit"
)

// Checker defines the interface for checking a dependency's health.
type Checker interface {
	Ping(ctx context.Context) error
}

// StoreChecker probes the rate limit backend with a read. It works for any
// Store implementation, local or distributed.
type StoreChecker struct {
	store ratelimit.Store
}

// NewStoreChecker creates a health checker for the rate limit backend.
func NewStoreChecker(store ratelimit.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

// Ping reads a probe key. Absence is fine; only transport errors count.
func (s *StoreChecker) Ping(ctx context.Context) error {
	_, err := s.store.Get(ctx, "healthz:probe")

	return err
}

// Handler handles health check operations.
type Handler struct {
	backend Checker
}

// NewHandler creates a new health handler.
func NewHandler(backend Checker) *Handler {
	return &Handler{backend: backend}
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status  string `json:"status"`
		Backend string `json:"backend"`
	}
}

// Check performs a health check of the application and its dependencies.
// The service stays up when the backend is unreachable; the limiter's
// failure policy decides what happens to requests in the meantime.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = "ok"

	if err := h.backend.Ping(ctx); err != nil {
		resp.Body.Backend = "unhealthy"
		resp.Body.Status = "degraded"
	} else {
		resp.Body.Backend = "healthy"
	}

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Get(api, "/health", h.Check)
}
