// Package transport talks to the WhatsApp connector process that holds
// the actual device sessions. Send failures are classified into
// transient and permanent so the dispatch layer knows what to retry.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

// SendRequest is one message to one recipient through one device.
type SendRequest struct {
	DeviceID  string `json:"device_id"`
	Recipient string `json:"recipient"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
}

type SendResponse struct {
	MessageID string     `json:"message_id"`
	Status    string     `json:"status"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	ErrorMsg  string     `json:"error_message,omitempty"`
}

// Client is the external send capability the workers call.
type Client interface {
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)
	DeviceStatus(ctx context.Context, deviceID string) (model.DeviceStatus, error)
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int

	// BreakerThreshold consecutive connector failures open the circuit
	// for BreakerCooloff; sends fail fast as transient until it expires.
	BreakerThreshold int
	BreakerCooloff   time.Duration
}

type HTTPClient struct {
	config Config
	client *fasthttp.Client

	consecutiveFails atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewHTTPClient(config Config) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 512
	}
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerCooloff <= 0 {
		config.BreakerCooloff = 30 * time.Second
	}
	c := &HTTPClient{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		},
	}
	logger.Info("connector client initialized", "url", config.BaseURL, "timeout", config.Timeout)
	return c
}

// Send delivers one message. Classification:
//   - network error / timeout / 5xx / 429 -> TransientDeliveryError
//   - 4xx (bad recipient, blocked)        -> PermanentDeliveryError
func (c *HTTPClient) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if c.circuitOpen() {
		return nil, &model.TransientDeliveryError{Code: "circuit_open", Err: fmt.Errorf("connector circuit is open")}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &model.PermanentDeliveryError{Code: "encode", Err: err}
	}

	respBody, status, err := c.doRequest(ctx, "POST", "/api/v1/messages", body)
	if err != nil {
		c.recordFailure()
		return nil, &model.TransientDeliveryError{Code: "network", Err: err}
	}

	switch {
	case status == fasthttp.StatusOK || status == fasthttp.StatusAccepted:
		c.recordSuccess()
	case status == fasthttp.StatusTooManyRequests:
		// connector is alive, just pushing back; not a breaker failure
		return nil, &model.TransientDeliveryError{Code: "throttled", Err: fmt.Errorf("connector throttled the send")}
	case status >= 500:
		c.recordFailure()
		return nil, &model.TransientDeliveryError{Code: "connector", Err: fmt.Errorf("connector returned %d", status)}
	default:
		c.recordSuccess()
		return nil, &model.PermanentDeliveryError{
			Code: "rejected",
			Err:  fmt.Errorf("connector rejected the send with %d: %s", status, respBody),
		}
	}

	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &model.TransientDeliveryError{Code: "decode", Err: err}
	}

	if resp.Status == "failed" {
		if resp.ErrorCode == "invalid_recipient" || resp.ErrorCode == "blocked" {
			return nil, &model.PermanentDeliveryError{Code: resp.ErrorCode, Err: fmt.Errorf("%s", resp.ErrorMsg)}
		}
		return nil, &model.TransientDeliveryError{Code: resp.ErrorCode, Err: fmt.Errorf("%s", resp.ErrorMsg)}
	}

	return &resp, nil
}

func (c *HTTPClient) circuitOpen() bool {
	openUntil := c.circuitOpenUntil.Load()
	if openUntil == 0 {
		return false
	}
	if time.Now().UnixNano() > openUntil {
		// cooloff expired; let sends probe again, one failure re-opens
		c.circuitOpenUntil.Store(0)
		c.consecutiveFails.Store(int32(c.config.BreakerThreshold - 1))
		return false
	}
	return true
}

func (c *HTTPClient) recordFailure() {
	fails := c.consecutiveFails.Add(1)
	if int(fails) >= c.config.BreakerThreshold {
		c.circuitOpenUntil.Store(time.Now().Add(c.config.BreakerCooloff).UnixNano())
		logger.Warn("connector circuit opened",
			"consecutive_failures", fails,
			"cooloff", c.config.BreakerCooloff)
	}
}

func (c *HTTPClient) recordSuccess() {
	c.consecutiveFails.Store(0)
	c.circuitOpenUntil.Store(0)
}

func (c *HTTPClient) DeviceStatus(ctx context.Context, deviceID string) (model.DeviceStatus, error) {
	respBody, status, err := c.doRequest(ctx, "GET", "/api/v1/devices/"+deviceID+"/status", nil)
	if err != nil {
		return model.DeviceStatusError, err
	}
	if status != fasthttp.StatusOK {
		return model.DeviceStatusError, fmt.Errorf("connector returned %d", status)
	}

	var resp struct {
		Status model.DeviceStatus `json:"status"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return model.DeviceStatusError, err
	}
	return resp.Status, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, resp.StatusCode(), nil
}
