package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	"github.com/sendloop/wa-gateway/internal/model"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
)

type ScheduleService interface {
	Create(ctx context.Context, s *model.RecurringSchedule) (*model.RecurringSchedule, error)
	Get(ctx context.Context, id string) (*model.RecurringSchedule, error)
	Deactivate(ctx context.Context, id string) error
}

type ScheduleHandler struct {
	svc ScheduleService
}

func RegisterScheduleRoutes(e *router.Group, h *ScheduleHandler) {
	e.POST("/schedules", h.CreateSchedule)
	e.GET("/schedules/{id}", h.GetSchedule)
	e.POST("/schedules/{id}/deactivate", h.DeactivateSchedule)
}

func NewScheduleHandler(svc ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{svc: svc}
}

type createScheduleRequest struct {
	OwnerID       string               `json:"owner_id"`
	DeviceID      string               `json:"device_id"`
	Name          string               `json:"name"`
	Frequency     string               `json:"frequency"`
	Weekdays      []int                `json:"weekdays"`
	DayOfMonth    int                  `json:"day_of_month"`
	IntervalDays  int                  `json:"interval_days"`
	TimeOfDay     string               `json:"time_of_day"`
	Timezone      string               `json:"timezone"`
	StartDate     time.Time            `json:"start_date"`
	EndDate       *time.Time           `json:"end_date"`
	MaxExecutions int                  `json:"max_executions"`
	Recipients    []string             `json:"recipients"`
	Payload       model.MessagePayload `json:"payload"`
	BatchSize     int                  `json:"batch_size"`
	BatchPause    int64                `json:"batch_pause_ms"`
	DelayMode     string               `json:"delay_mode"`
	DelayBase     int64                `json:"delay_base_ms"`
}

func (h *ScheduleHandler) CreateSchedule(ctx *xhttp.RequestCtx) {
	var req createScheduleRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, d := range req.Weekdays {
		weekdays = append(weekdays, time.Weekday(d))
	}

	s := &model.RecurringSchedule{
		OwnerID:       req.OwnerID,
		DeviceID:      req.DeviceID,
		Name:          req.Name,
		Frequency:     model.Frequency(req.Frequency),
		Weekdays:      weekdays,
		DayOfMonth:    req.DayOfMonth,
		IntervalDays:  req.IntervalDays,
		TimeOfDay:     req.TimeOfDay,
		Timezone:      req.Timezone,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		MaxExecutions: req.MaxExecutions,
		Recipients:    req.Recipients,
		Payload:       req.Payload,
		Batch: model.BatchPolicy{
			Size:         req.BatchSize,
			PauseBetween: time.Duration(req.BatchPause) * time.Millisecond,
		},
		Delay: model.DelayPolicy{
			Mode: model.DelayMode(req.DelayMode),
			Base: time.Duration(req.DelayBase) * time.Millisecond,
		},
	}

	created, err := h.svc.Create(ctx, s)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, created)
}

func (h *ScheduleHandler) GetSchedule(ctx *xhttp.RequestCtx) {
	s, err := h.svc.Get(ctx, param(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, s)
}

func (h *ScheduleHandler) DeactivateSchedule(ctx *xhttp.RequestCtx) {
	if err := h.svc.Deactivate(ctx, param(ctx, "id")); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "deactivated"})
}
