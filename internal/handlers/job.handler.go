package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/sendloop/wa-gateway/internal/model"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
)

type JobService interface {
	Get(ctx context.Context, id string) (*model.DeliveryJob, error)
	List(ctx context.Context, f model.JobFilter) ([]*model.DeliveryJob, int64, error)
	Cancel(ctx context.Context, id string) error
	Attempts(ctx context.Context, jobID string) ([]*model.DeliveryAttemptLog, error)
}

type JobHandler struct {
	svc JobService
}

func RegisterJobRoutes(e *router.Group, h *JobHandler) {
	e.GET("/jobs", h.ListJobs)
	e.GET("/jobs/{id}", h.GetJob)
	e.POST("/jobs/{id}/cancel", h.CancelJob)
	e.GET("/jobs/{id}/attempts", h.ListJobAttempts)
}

func NewJobHandler(svc JobService) *JobHandler {
	return &JobHandler{svc: svc}
}

type jobListResponse struct {
	Items []*model.DeliveryJob `json:"items"`
	Total int64                `json:"total"`
}

func (h *JobHandler) ListJobs(ctx *xhttp.RequestCtx) {
	var f model.JobFilter

	if v := query(ctx, "device_id"); v != "" {
		f.DeviceID = &v
	}
	if v := query(ctx, "owner_id"); v != "" {
		f.OwnerID = &v
	}
	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				f.Statuses = append(f.Statuses, model.JobStatus(part))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, err := parseTime(v); err == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, err := parseTime(v); err == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, jobListResponse{Items: items, Total: total})
}

func (h *JobHandler) GetJob(ctx *xhttp.RequestCtx) {
	job, err := h.svc.Get(ctx, param(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, job)
}

func (h *JobHandler) CancelJob(ctx *xhttp.RequestCtx) {
	if err := h.svc.Cancel(ctx, param(ctx, "id")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 202, map[string]string{"status": "cancel_requested"})
}

func (h *JobHandler) ListJobAttempts(ctx *xhttp.RequestCtx) {
	attempts, err := h.svc.Attempts(ctx, param(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, attempts)
}
