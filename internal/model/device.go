package model

import "time"

// DeviceStatus is the connection state reported by the transport layer.
type DeviceStatus string

const (
	DeviceStatusDisconnected DeviceStatus = "disconnected"
	DeviceStatusConnecting   DeviceStatus = "connecting"
	DeviceStatusConnected    DeviceStatus = "connected"
	DeviceStatusError        DeviceStatus = "error"
)

// Device is a registered WhatsApp endpoint owned by a user. A device
// with a nil AssignedServerID is eligible for claim by any instance.
type Device struct {
	ID               string       `json:"id"`
	OwnerID          string       `json:"owner_id"`
	Name             string       `json:"name"`
	AssignedServerID *string      `json:"assigned_server_id"`
	Status           DeviceStatus `json:"status"`
	LastConnectedAt  *time.Time   `json:"last_connected_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// DeviceMetrics is the per-device health aggregation the monitor
// classifies against its thresholds.
type DeviceMetrics struct {
	DeviceID            string       `json:"device_id"`
	Status              DeviceStatus `json:"status"`
	UptimeMinutes       int64        `json:"uptime_minutes"`
	MessagesSentToday   int64        `json:"messages_sent_today"`
	MessagesFailedToday int64        `json:"messages_failed_today"`
	ReconnectsToday     int          `json:"reconnects_today"`
	ErrorRatePercent    float64      `json:"error_rate_percent"`
}

// HealthLevel classifies a device's delivery health.
type HealthLevel string

const (
	HealthLevelHealthy  HealthLevel = "healthy"
	HealthLevelWarning  HealthLevel = "warning"
	HealthLevelCritical HealthLevel = "critical"
	HealthLevelOffline  HealthLevel = "offline"
)

// DeviceHealthIssue is emitted when a device crosses a health threshold.
// The monitor only reports; it never reconnects or retries.
type DeviceHealthIssue struct {
	ID        int64       `json:"id"`
	DeviceID  string      `json:"device_id"`
	Level     HealthLevel `json:"level"`
	Detail    string      `json:"detail"`
	CreatedAt time.Time   `json:"created_at"`
}
