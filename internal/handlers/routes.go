package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes registers the public API routes.
func RegisterRoutes(api huma.API, keysHandler *KeysHandler, pingHandler *PingHandler) {
	huma.Register(api, huma.Operation{
		Method:      http.MethodPost,
		Path:        "/v1/keys",
		Summary:     "Mint API key",
		Description: "Mints a new API key clients can present to identify themselves.",
		Tags:        []string{"Keys"},
	}, keysHandler.CreateKey)

	huma.Register(api, huma.Operation{
		Method:      http.MethodGet,
		Path:        "/v1/ping",
		Summary:     "Ping",
		Description: "Returns pong and the server time. Subject to rate limiting like any other endpoint.",
		Tags:        []string{"Ping"},
	}, pingHandler.Ping)
}
