// Package handlers is the HTTP surface of the orchestrator. Handlers
// parse and delegate; all rules live in the services.
package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/services"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
)

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case model.IsValidation(err):
		writeError(ctx, 400, err.Error())
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, services.ErrDeviceNotFound):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, services.ErrNotOwner),
		errors.Is(err, model.ErrOwnershipMismatch):
		writeError(ctx, 403, err.Error())
	case errors.Is(err, model.ErrAssignmentConflict),
		errors.Is(err, model.ErrDuplicateEnqueue):
		writeError(ctx, 409, err.Error())
	case errors.Is(err, services.ErrTooManyRecipients),
		errors.Is(err, services.ErrScheduledInPast),
		errors.Is(err, services.ErrNeverFires):
		writeError(ctx, 400, err.Error())
	default:
		writeError(ctx, 500, err.Error())
	}
}

func param(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
