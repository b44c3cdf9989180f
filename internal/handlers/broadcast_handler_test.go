package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/internal/services"
	xhttp "github.com/sendloop/wa-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockBroadcastService struct {
	mock.Mock
}

func (m *MockBroadcastService) Create(ctx context.Context, p model.BroadcastCreateRequest) (*model.Broadcast, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Broadcast), args.Error(1)
}

func (m *MockBroadcastService) Get(ctx context.Context, id string) (*model.Broadcast, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Broadcast), args.Error(1)
}

func (m *MockBroadcastService) Cancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestBroadcastHandler_CreateBroadcast(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		reqBody := createBroadcastRequest{
			OwnerID:    "owner-1",
			DeviceID:   "dev-1",
			Recipients: []string{"+15550001", "+15550002"},
			Payload:    model.MessagePayload{Type: "text", Text: "hello"},
			BatchSize:  50,
			BatchPause: 2000,
			DelayMode:  "jitter",
			DelayBase:  1500,
		}
		bodyBytes, _ := json.Marshal(reqBody)

		expected := &model.Broadcast{
			ID:       "bc-1",
			OwnerID:  "owner-1",
			DeviceID: "dev-1",
			Status:   model.BroadcastStatusPending,
		}

		svc.On("Create", mock.Anything, mock.MatchedBy(func(p model.BroadcastCreateRequest) bool {
			return p.DeviceID == "dev-1" &&
				p.Batch.Size == 50 &&
				p.Batch.PauseBetween == 2*time.Second &&
				p.Delay.Mode == model.DelayModeJitter &&
				p.Delay.Base == 1500*time.Millisecond
		})).Return(expected, nil)

		ctx := setupTestContext("POST", "/broadcasts", bodyBytes)
		handler.CreateBroadcast(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var response model.Broadcast
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, "bc-1", response.ID)
		assert.Equal(t, model.BroadcastStatusPending, response.Status)

		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		ctx := setupTestContext("POST", "/broadcasts", []byte("not json"))
		handler.CreateBroadcast(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("validation error maps to 400", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		svc.On("Create", mock.Anything, mock.Anything).
			Return(nil, model.NewValidationError("recipients", "no valid recipients"))

		bodyBytes, _ := json.Marshal(createBroadcastRequest{OwnerID: "owner-1"})
		ctx := setupTestContext("POST", "/broadcasts", bodyBytes)
		handler.CreateBroadcast(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("foreign device maps to 403", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		svc.On("Create", mock.Anything, mock.Anything).Return(nil, services.ErrNotOwner)

		bodyBytes, _ := json.Marshal(createBroadcastRequest{OwnerID: "owner-2"})
		ctx := setupTestContext("POST", "/broadcasts", bodyBytes)
		handler.CreateBroadcast(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})
}

func TestBroadcastHandler_GetBroadcast(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		svc.On("Get", mock.Anything, "bc-1").
			Return(&model.Broadcast{ID: "bc-1", Status: model.BroadcastStatusEnqueued}, nil)

		ctx := setupTestContext("GET", "/broadcasts/bc-1", nil)
		ctx.SetUserValue("id", "bc-1")
		handler.GetBroadcast(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		svc.On("Get", mock.Anything, "missing").Return(nil, model.ErrNotFound)

		ctx := setupTestContext("GET", "/broadcasts/missing", nil)
		ctx.SetUserValue("id", "missing")
		handler.GetBroadcast(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})
}

func TestBroadcastHandler_CancelBroadcast(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		svc.On("Cancel", mock.Anything, "bc-1").Return(nil)

		ctx := setupTestContext("POST", "/broadcasts/bc-1/cancel", nil)
		ctx.SetUserValue("id", "bc-1")
		handler.CancelBroadcast(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("already enqueued", func(t *testing.T) {
		svc := new(MockBroadcastService)
		handler := NewBroadcastHandler(svc)

		svc.On("Cancel", mock.Anything, "bc-1").Return(model.ErrNotFound)

		ctx := setupTestContext("POST", "/broadcasts/bc-1/cancel", nil)
		ctx.SetUserValue("id", "bc-1")
		handler.CancelBroadcast(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})
}
