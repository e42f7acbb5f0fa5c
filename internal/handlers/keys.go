package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// KeyGenerator generates unique API key identifiers.
type KeyGenerator func() string

type requestMetaKey struct{}

// RequestMeta holds HTTP request metadata for audit logging.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
	Referrer  string
}

// ContextWithRequestMeta adds request metadata to context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext extracts request metadata from context.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if v, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return v
	}

	return RequestMeta{}
}

// KeysHandler mints API keys that clients present to identify themselves
// to the limiter.
type KeysHandler struct {
	generateKey KeyGenerator
	logger      *zap.Logger
}

// NewKeysHandler creates a new keys handler with an injected generator.
func NewKeysHandler(generator KeyGenerator, logger *zap.Logger) *KeysHandler {
	return &KeysHandler{
		generateKey: generator,
		logger:      logger,
	}
}

// CreateKeyRequest is the request body for minting an API key.
type CreateKeyRequest struct {
	Body struct {
		Label string `doc:"Optional label describing the key's owner" example:"mobile-app" json:"label,omitempty" required:"false"`
	}
}

// CreateKeyResponse is the response for a successfully minted API key.
type CreateKeyResponse struct {
	Body struct {
		Key       string    `doc:"The minted API key"         example:"rl_V1StGXR8Z5jdHi6BmyT9"  json:"key"`
		Label     string    `doc:"The label the key was minted with" example:"mobile-app"       json:"label,omitempty"`
		CreatedAt time.Time `doc:"When the key was minted"                                      json:"createdAt"`
	}
}

func (h *KeysHandler) CreateKey(ctx context.Context, req *CreateKeyRequest) (*CreateKeyResponse, error) {
	key := "rl_" + h.generateKey()

	meta := RequestMetaFromContext(ctx)
	h.logger.Info("api key minted",
		zap.String("label", req.Body.Label),
		zap.String("client_ip", meta.ClientIP),
		zap.String("user_agent", meta.UserAgent),
	)

	resp := &CreateKeyResponse{}
	resp.Body.Key = key
	resp.Body.Label = req.Body.Label
	resp.Body.CreatedAt = time.Now()

	return resp, nil
}
