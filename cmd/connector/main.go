package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendMessageRequest is one outbound message through one device session.
type SendMessageRequest struct {
	DeviceID  string `json:"device_id" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Type      string `json:"type" binding:"required"`
	Text      string `json:"text"`
	MediaURL  string `json:"media_url"`
}

// SendMessageResponse mirrors what a real connector reports back.
type SendMessageResponse struct {
	MessageID string     `json:"message_id"`
	Status    string     `json:"status"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	ErrorMsg  string     `json:"error_message,omitempty"`
}

// DeviceStatusResponse is the session state for one device.
type DeviceStatusResponse struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	ConnectorID  string    `json:"connector_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// MockConnector simulates the process holding WhatsApp device sessions.
type MockConnector struct {
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	connectorID  string
	rng          *rand.Rand
}

func NewMockConnector(deliveryRate float64, minDelay, maxDelay time.Duration) *MockConnector {
	return &MockConnector{
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		connectorID:  "MOCK_CONNECTOR_" + uuid.New().String()[:8],
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// simulateSend applies a random session delay, then succeeds or fails
// according to the configured delivery rate.
func (m *MockConnector) simulateSend(req *SendMessageRequest) *SendMessageResponse {
	delay := m.randomDelay()
	time.Sleep(delay)

	response := &SendMessageResponse{
		MessageID: uuid.New().String(),
	}

	if m.shouldSucceed() {
		now := time.Now()
		response.Status = "sent"
		response.SentAt = &now

		log.Info().
			Str("device_id", req.DeviceID).
			Str("recipient", req.Recipient).
			Dur("delay", delay).
			Msg("message sent")
	} else {
		response.Status = "failed"
		response.ErrorCode = m.randomErrorCode()
		response.ErrorMsg = m.errorMessage(response.ErrorCode)

		log.Warn().
			Str("device_id", req.DeviceID).
			Str("recipient", req.Recipient).
			Str("error_code", response.ErrorCode).
			Msg("message delivery failed")
	}

	return response
}

func (m *MockConnector) randomDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	delta := m.maxDelay - m.minDelay
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockConnector) shouldSucceed() bool {
	return m.rng.Float64() < m.deliveryRate
}

func (m *MockConnector) randomErrorCode() string {
	// invalid_recipient and blocked read as permanent on the caller side,
	// the rest as transient.
	errorCodes := []string{
		"invalid_recipient",
		"blocked",
		"timeout",
		"session_dropped",
		"rate_limited",
	}
	return errorCodes[m.rng.Intn(len(errorCodes))]
}

func (m *MockConnector) errorMessage(code string) string {
	messages := map[string]string{
		"invalid_recipient": "The recipient number is not registered on WhatsApp",
		"blocked":           "The recipient has blocked this sender",
		"timeout":           "Message delivery timed out",
		"session_dropped":   "Device session dropped mid-send",
		"rate_limited":      "Device is sending too fast",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Unknown error occurred"
}

// Handler struct holds the mock connector and routes
type Handler struct {
	connector *MockConnector
}

func NewHandler(connector *MockConnector) *Handler {
	return &Handler{connector: connector}
}

// SendMessage handles single message send requests
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("device_id", req.DeviceID).
		Str("recipient", req.Recipient).
		Str("type", req.Type).
		Msg("Received message send request")

	response := h.connector.simulateSend(&req)

	statusCode := http.StatusOK
	if response.Status == "failed" {
		statusCode = http.StatusAccepted // 202: accepted but failed delivery
	}

	c.JSON(statusCode, response)
}

// GetDeviceStatus reports the session state for a device. The mock keeps
// no session table; it answers connected with occasional flaps.
func (h *Handler) GetDeviceStatus(c *gin.Context) {
	deviceID := c.Param("id")

	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "device id is required",
		})
		return
	}

	status := "connected"
	if h.connector.rng.Float64() < 0.05 {
		status = "disconnected"
	}

	c.JSON(http.StatusOK, DeviceStatusResponse{
		DeviceID: deviceID,
		Status:   status,
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		ConnectorID:  h.connector.connectorID,
		Timestamp:    time.Now(),
		DeliveryRate: h.connector.deliveryRate,
	})
}

// UpdateConfig allows changing connector configuration at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.DeliveryRate != nil {
		if *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
			h.connector.deliveryRate = *config.DeliveryRate
			log.Info().Float64("rate", *config.DeliveryRate).Msg("Updated delivery rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Configuration updated",
		"delivery_rate": h.connector.deliveryRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages", handler.SendMessage)
		v1.GET("/devices/:id/status", handler.GetDeviceStatus)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock WhatsApp Connector")

	// Create mock connector
	connector := NewMockConnector(deliveryRate, minDelay, maxDelay)
	handler := NewHandler(connector)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
