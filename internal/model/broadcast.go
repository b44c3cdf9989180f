package model

import (
	"errors"
	"time"
)

// BroadcastStatus is the intake state of a one-shot broadcast. Pending
// broadcasts are picked up on the next scheduler tick; scheduled ones
// are promoted to pending once their due time passes.
type BroadcastStatus string

const (
	BroadcastStatusPending   BroadcastStatus = "pending"
	BroadcastStatusScheduled BroadcastStatus = "scheduled"
	BroadcastStatusEnqueued  BroadcastStatus = "enqueued"
	BroadcastStatusCancelled BroadcastStatus = "cancelled"
)

// Broadcast is a one-shot "send message to N recipients" request,
// immediate or time-scheduled.
type Broadcast struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	DeviceID    string          `json:"device_id"`
	Recipients  []string        `json:"recipients"`
	Payload     MessagePayload  `json:"payload"`
	Batch       BatchPolicy     `json:"batch"`
	Delay       DelayPolicy     `json:"delay"`
	Status      BroadcastStatus `json:"status"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BroadcastCreateRequest is the intake input for a broadcast.
type BroadcastCreateRequest struct {
	OwnerID     string
	DeviceID    string
	Recipients  []string
	Payload     MessagePayload
	Batch       BatchPolicy
	Delay       DelayPolicy
	ScheduledAt *time.Time
}

func (p BroadcastCreateRequest) Validate() error {
	if p.OwnerID == "" {
		return errors.New("owner_id is required")
	}
	if p.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if len(p.Recipients) == 0 {
		return errors.New("recipients are required")
	}
	if p.Payload.Text == "" && p.Payload.MediaURL == "" {
		return errors.New("payload is empty")
	}
	return nil
}
