package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAssignmentConflict is returned when a conditional device claim
	// loses the race against another server instance.
	ErrAssignmentConflict = errors.New("device already claimed by another server")

	// ErrOwnershipMismatch is returned when a device does not belong to
	// the owner on whose behalf an operation was requested.
	ErrOwnershipMismatch = errors.New("device does not belong to owner")

	// ErrDuplicateEnqueue is returned when a job with the same
	// idempotency key has already been enqueued.
	ErrDuplicateEnqueue = errors.New("job with idempotency key already enqueued")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// ValidationError marks input that is rejected outright and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientDeliveryError is a recoverable send failure: timeout, network
// blip, or an observed throttle signal. Retried with bounded backoff.
type TransientDeliveryError struct {
	Code string
	Err  error
}

func (e *TransientDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient delivery error (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transient delivery error (%s)", e.Code)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError is a non-recoverable send failure: invalid or
// blocked recipient. Counted as failed without retry.
type PermanentDeliveryError struct {
	Code string
	Err  error
}

func (e *PermanentDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent delivery error (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("permanent delivery error (%s)", e.Code)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

func IsTransientDelivery(err error) bool {
	var te *TransientDeliveryError
	return errors.As(err, &te)
}

func IsPermanentDelivery(err error) bool {
	var pe *PermanentDeliveryError
	return errors.As(err, &pe)
}
