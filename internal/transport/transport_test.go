package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
	})
}

func TestHTTPClient_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/messages", r.URL.Path)

			var req SendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "dev-1", req.DeviceID)
			assert.Equal(t, "+15550001", req.Recipient)

			now := time.Now()
			_ = json.NewEncoder(w).Encode(SendResponse{
				MessageID: "msg-1",
				Status:    "sent",
				SentAt:    &now,
			})
		})

		resp, err := client.Send(ctx, &SendRequest{
			DeviceID:  "dev-1",
			Recipient: "+15550001",
			Type:      "text",
			Text:      "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, "msg-1", resp.MessageID)
	})

	t.Run("throttled is transient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := client.Send(ctx, &SendRequest{DeviceID: "dev-1", Recipient: "+15550001"})
		require.Error(t, err)
		assert.True(t, model.IsTransientDelivery(err))
	})

	t.Run("server error is transient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.Send(ctx, &SendRequest{DeviceID: "dev-1", Recipient: "+15550001"})
		require.Error(t, err)
		assert.True(t, model.IsTransientDelivery(err))
	})

	t.Run("rejection is permanent", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})

		_, err := client.Send(ctx, &SendRequest{DeviceID: "dev-1", Recipient: "bogus"})
		require.Error(t, err)
		assert.True(t, model.IsPermanentDelivery(err))
	})

	t.Run("invalid recipient in body is permanent", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(SendResponse{
				Status:    "failed",
				ErrorCode: "invalid_recipient",
				ErrorMsg:  "not a whatsapp user",
			})
		})

		_, err := client.Send(ctx, &SendRequest{DeviceID: "dev-1", Recipient: "+15550001"})
		require.Error(t, err)
		assert.True(t, model.IsPermanentDelivery(err))
	})

	t.Run("unreachable connector is transient", func(t *testing.T) {
		client := NewHTTPClient(Config{
			BaseURL: "http://127.0.0.1:1",
			Timeout: 200 * time.Millisecond,
		})

		_, err := client.Send(ctx, &SendRequest{DeviceID: "dev-1", Recipient: "+15550001"})
		require.Error(t, err)
		assert.True(t, model.IsTransientDelivery(err))
	})
}

func TestHTTPClient_CircuitBreaker(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(Config{
		BaseURL:          srv.URL,
		Timeout:          time.Second,
		BreakerThreshold: 2,
		BreakerCooloff:   time.Hour,
	})

	for i := 0; i < 2; i++ {
		_, err := client.Send(ctx, &SendRequest{DeviceID: "dev-1", Recipient: "+15550001"})
		require.Error(t, err)
	}

	// circuit is open now: fails fast without reaching the connector
	_, err := client.Send(ctx, &SendRequest{DeviceID: "dev-1", Recipient: "+15550001"})
	require.Error(t, err)
	assert.True(t, model.IsTransientDelivery(err))

	var transient *model.TransientDeliveryError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "circuit_open", transient.Code)
}

func TestHTTPClient_DeviceStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/devices/dev-1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "connected"})
	})

	status, err := client.DeviceStatus(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, model.DeviceStatusConnected, status)
}
