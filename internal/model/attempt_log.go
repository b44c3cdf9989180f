package model

import "time"

// RecipientOutcome is the per-recipient result inside an attempt log.
type RecipientOutcome struct {
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"` // sent | failed | skipped
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// DeliveryAttemptLog is the append-only record of one job execution.
// Created by workers, never mutated.
type DeliveryAttemptLog struct {
	ID          int64              `json:"id"`
	JobID       string             `json:"job_id"`
	DeviceID    string             `json:"device_id"`
	Occurrence  string             `json:"occurrence"` // the job's idempotency key
	Outcomes    []RecipientOutcome `json:"outcomes"`
	SentCount   int                `json:"sent_count"`
	FailedCount int                `json:"failed_count"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}
