package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/services"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
)

type DeviceService interface {
	Create(ctx context.Context, p services.DeviceCreateRequest) (*model.Device, error)
	Get(ctx context.Context, id string) (*model.Device, error)
	Assign(ctx context.Context, deviceID, ownerID string) error
	ReportStatus(ctx context.Context, deviceID string, status model.DeviceStatus) error
	ReportMetrics(ctx context.Context, dm *model.DeviceMetrics) error
	Health(ctx context.Context, deviceID string) (*services.DeviceHealth, error)
}

type DeviceHandler struct {
	svc DeviceService
}

func RegisterDeviceRoutes(e *router.Group, h *DeviceHandler) {
	e.POST("/devices", h.CreateDevice)
	e.GET("/devices/{id}", h.GetDevice)
	e.POST("/devices/{id}/assign", h.AssignDevice)
	e.GET("/devices/{id}/health", h.GetDeviceHealth)
	e.POST("/devices/{id}/status", h.ReportDeviceStatus)
	e.POST("/devices/{id}/metrics", h.ReportDeviceMetrics)
}

func NewDeviceHandler(svc DeviceService) *DeviceHandler {
	return &DeviceHandler{svc: svc}
}

type createDeviceRequest struct {
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}

func (h *DeviceHandler) CreateDevice(ctx *xhttp.RequestCtx) {
	var req createDeviceRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	device, err := h.svc.Create(ctx, services.DeviceCreateRequest{
		OwnerID: req.OwnerID,
		Name:    req.Name,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, device)
}

func (h *DeviceHandler) GetDevice(ctx *xhttp.RequestCtx) {
	device, err := h.svc.Get(ctx, param(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, device)
}

type assignDeviceRequest struct {
	OwnerID string `json:"owner_id"`
}

// AssignDevice claims the device for the server handling this request.
// A lost claim race returns 409.
func (h *DeviceHandler) AssignDevice(ctx *xhttp.RequestCtx) {
	var req assignDeviceRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	if err := h.svc.Assign(ctx, param(ctx, "id"), req.OwnerID); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "assigned"})
}

func (h *DeviceHandler) GetDeviceHealth(ctx *xhttp.RequestCtx) {
	view, err := h.svc.Health(ctx, param(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, view)
}

type reportStatusRequest struct {
	Status string `json:"status"`
}

func (h *DeviceHandler) ReportDeviceStatus(ctx *xhttp.RequestCtx) {
	var req reportStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	if err := h.svc.ReportStatus(ctx, param(ctx, "id"), model.DeviceStatus(req.Status)); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "ok"})
}

func (h *DeviceHandler) ReportDeviceMetrics(ctx *xhttp.RequestCtx) {
	var dm model.DeviceMetrics
	if err := readJSON(ctx, &dm); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	dm.DeviceID = param(ctx, "id")

	if err := h.svc.ReportMetrics(ctx, &dm); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "ok"})
}
