package handlers

import (
	"context"
	"time"

	"github.com/serroba/ratelimit-go/internal/clock"
)

// PingHandler answers a trivial request, useful for exercising the limiter.
type PingHandler struct {
	clock clock.Clock
}

// NewPingHandler creates a new ping handler. A nil clock means the system clock.
func NewPingHandler(clk clock.Clock) *PingHandler {
	if clk == nil {
		clk = clock.System()
	}

	return &PingHandler{clock: clk}
}

// PingResponse is the response for the ping endpoint.
type PingResponse struct {
	Body struct {
		Message string    `doc:"Always pong" example:"pong" json:"message"`
		Time    time.Time `doc:"Server time"                json:"time"`
	}
}

func (h *PingHandler) Ping(_ context.Context, _ *struct{}) (*PingResponse, error) {
	resp := &PingResponse{}
	resp.Body.Message = "pong"
	resp.Body.Time = h.clock.Now()

	return resp, nil
}
