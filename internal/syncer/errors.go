package syncer

import (
	"errors"
	"fmt"
)

// ReplayErrorCode categorizes replay failures.
type ReplayErrorCode string

const (
	// ErrCodeUnknownType indicates the action's tag has no route.
	ErrCodeUnknownType ReplayErrorCode = "UNKNOWN_ACTION_TYPE"

	// ErrCodeRejected indicates the endpoint answered with a non-success
	// status.
	ErrCodeRejected ReplayErrorCode = "ENDPOINT_REJECTED"

	// ErrCodeNetwork indicates the POST never completed.
	ErrCodeNetwork ReplayErrorCode = "NETWORK_FAILURE"

	// ErrCodeStorage indicates the queue store failed mid-drain.
	ErrCodeStorage ReplayErrorCode = "STORAGE_FAILURE"
)

// ReplayError is a structured failure for one record's replay attempt.
type ReplayError struct {
	Code       ReplayErrorCode
	Message    string
	ActionID   int64
	ActionType string
	Status     int // HTTP status for ErrCodeRejected
	Err        error
}

func (e *ReplayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (action=%d type=%s status=%d)", e.Code, e.Message, e.ActionID, e.ActionType, e.Status)
	}
	return fmt.Sprintf("%s: %s (action=%d type=%s)", e.Code, e.Message, e.ActionID, e.ActionType)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// IsUnknownType reports whether err is an unknown-action-type failure.
// Uses errors.As to handle wrapped errors.
func IsUnknownType(err error) bool {
	var re *ReplayError
	return errors.As(err, &re) && re.Code == ErrCodeUnknownType
}

// IsRejected reports whether err is an endpoint rejection.
func IsRejected(err error) bool {
	var re *ReplayError
	return errors.As(err, &re) && re.Code == ErrCodeRejected
}
