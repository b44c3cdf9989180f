package model

import (
	"errors"
	"time"
)

// JobStatus is the lifecycle state of a delivery job.
type JobStatus string

const (
	JobStatusQueued        JobStatus = "queued"
	JobStatusRunning       JobStatus = "running"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusPartialFailed JobStatus = "partial_failed"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartialFailed, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DelayMode selects how the inter-message delay inside a batch behaves.
type DelayMode string

const (
	DelayModeFixed    DelayMode = "fixed"
	DelayModeJitter   DelayMode = "jitter"
	DelayModeAdaptive DelayMode = "adaptive"
)

// BatchPolicy controls how a recipient list is split and paced.
type BatchPolicy struct {
	Size         int           `json:"size"`
	PauseBetween time.Duration `json:"pause_between"`
}

// DelayPolicy controls spacing between individual sends within a batch.
type DelayPolicy struct {
	Mode DelayMode     `json:"mode"`
	Base time.Duration `json:"base"`
}

// MessagePayload is the content delivered to every recipient of a job.
type MessagePayload struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	MediaURL string `json:"media_url,omitempty"`
}

// JobSource identifies which producer path created a job.
type JobSource string

const (
	JobSourceBroadcast JobSource = "broadcast"
	JobSourceSchedule  JobSource = "schedule"
)

// DeliveryJob is one unit of work: send Payload to Recipients via
// DeviceID. Created by the scheduler, mutated only by the worker that
// leased it, terminal once completed/failed/cancelled.
type DeliveryJob struct {
	ID              string         `json:"id"`
	DeviceID        string         `json:"device_id"`
	OwnerID         string         `json:"owner_id"`
	Source          JobSource      `json:"source"`
	SourceID        string         `json:"source_id"`
	Recipients      []string       `json:"recipients"`
	Payload         MessagePayload `json:"payload"`
	Batch           BatchPolicy    `json:"batch"`
	Delay           DelayPolicy    `json:"delay"`
	Status          JobStatus      `json:"status"`
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	IdempotencyKey  string         `json:"idempotency_key"`
	CancelRequested bool           `json:"cancel_requested"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

func (j *DeliveryJob) Validate() error {
	if j.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if len(j.Recipients) == 0 {
		return errors.New("recipients are required")
	}
	if j.Payload.Text == "" && j.Payload.MediaURL == "" {
		return errors.New("payload is empty")
	}
	if j.IdempotencyKey == "" {
		return errors.New("idempotency_key is required")
	}
	return nil
}

// BatchCount returns the number of batches for n recipients: ceil(n/size).
func (p BatchPolicy) BatchCount(n int) int {
	if p.Size <= 0 {
		return 1
	}
	return (n + p.Size - 1) / p.Size
}

// JobFilter controls job list queries.
type JobFilter struct {
	DeviceID *string
	OwnerID  *string
	Statuses []JobStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
	Desc     bool
}
