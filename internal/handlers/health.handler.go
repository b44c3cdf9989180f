package handlers

import (
	"context"

	"github.com/fasthttp/router"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
	"github.com/sendloop/wa-gateway/pkg/logger"
)

type StatusReporter interface {
	ServerID() string
	InFlight() int64
	ConnectedDevices(ctx context.Context) (int64, error)
}

type HealthHandler struct {
	reporter StatusReporter
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(reporter StatusReporter) *HealthHandler {
	return &HealthHandler{reporter: reporter}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	connected, err := h.reporter.ConnectedDevices(ctx)
	if err != nil {
		logger.Error("health check could not count connected devices", "error", err.Error())
		writeError(ctx, 503, "device store unavailable")
		return
	}

	writeJSON(ctx, 200, map[string]any{
		"status":            "ok",
		"server_id":         h.reporter.ServerID(),
		"in_flight":         h.reporter.InFlight(),
		"connected_devices": connected,
	})
}
