package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	"github.com/sendloop/wa-gateway/internal/model"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
)

type BroadcastService interface {
	Create(ctx context.Context, p model.BroadcastCreateRequest) (*model.Broadcast, error)
	Get(ctx context.Context, id string) (*model.Broadcast, error)
	Cancel(ctx context.Context, id string) error
}

type BroadcastHandler struct {
	svc BroadcastService
}

func RegisterBroadcastRoutes(e *router.Group, h *BroadcastHandler) {
	e.POST("/broadcasts", h.CreateBroadcast)
	e.GET("/broadcasts/{id}", h.GetBroadcast)
	e.POST("/broadcasts/{id}/cancel", h.CancelBroadcast)
}

func NewBroadcastHandler(svc BroadcastService) *BroadcastHandler {
	return &BroadcastHandler{svc: svc}
}

type createBroadcastRequest struct {
	OwnerID     string               `json:"owner_id"`
	DeviceID    string               `json:"device_id"`
	Recipients  []string             `json:"recipients"`
	Payload     model.MessagePayload `json:"payload"`
	BatchSize   int                  `json:"batch_size"`
	BatchPause  int64                `json:"batch_pause_ms"`
	DelayMode   string               `json:"delay_mode"`
	DelayBase   int64                `json:"delay_base_ms"`
	ScheduledAt *time.Time           `json:"scheduled_at"`
}

func (h *BroadcastHandler) CreateBroadcast(ctx *xhttp.RequestCtx) {
	var req createBroadcastRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	p := model.BroadcastCreateRequest{
		OwnerID:    req.OwnerID,
		DeviceID:   req.DeviceID,
		Recipients: req.Recipients,
		Payload:    req.Payload,
		Batch: model.BatchPolicy{
			Size:         req.BatchSize,
			PauseBetween: time.Duration(req.BatchPause) * time.Millisecond,
		},
		Delay: model.DelayPolicy{
			Mode: model.DelayMode(req.DelayMode),
			Base: time.Duration(req.DelayBase) * time.Millisecond,
		},
		ScheduledAt: req.ScheduledAt,
	}

	b, err := h.svc.Create(ctx, p)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, b)
}

func (h *BroadcastHandler) GetBroadcast(ctx *xhttp.RequestCtx) {
	b, err := h.svc.Get(ctx, param(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, b)
}

func (h *BroadcastHandler) CancelBroadcast(ctx *xhttp.RequestCtx) {
	if err := h.svc.Cancel(ctx, param(ctx, "id")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "cancelled"})
}
