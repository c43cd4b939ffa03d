// Package common provides shared utilities and types used across the engine.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound         = errors.New("not found")
	ErrDuplicatePeriod  = errors.New("settlement already exists for period")
	ErrDuplicateTranche = errors.New("tranches already exist for settlement")

	// Commission errors.
	ErrUnresolvedRate     = errors.New("no rate rule resolves for category")
	ErrInvalidRevenueLine = errors.New("invalid revenue line")

	// Settlement errors.
	ErrNegativeNetPayout = errors.New("net payout would be negative")
	ErrSettlementFrozen  = errors.New("settlement is completed and frozen")

	// Payout errors.
	ErrStaleStatus           = errors.New("status changed by a concurrent transition")
	ErrNotPending            = errors.New("settlement is not pending")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrDisbursement          = errors.New("disbursement failed")
	ErrTrancheNotCancellable = errors.New("tranche can no longer be cancelled")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to an operator.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new operator-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// RetryableError wraps an error with retry-specific metadata. External
// payment providers signal transient failures this way.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error should trigger a retry.
//
// Deadline and cancellation errors are deliberately not retryable: a
// disbursement call that timed out must leave its settlement in
// processing for the reconciliation sweep, never be blindly re-sent.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
