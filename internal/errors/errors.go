// Package errors provides structured error handling for vigil operations.
// It defines error codes, typed error values for the orchestration engine,
// and utilities for inspecting errors without parsing message text.
package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Validation errors.
	CodeInvalidParameters   ErrorCode = "INVALID_PARAMETERS"
	CodeUnsupportedScanType ErrorCode = "UNSUPPORTED_SCAN_TYPE"

	// Job lifecycle errors.
	CodeTooManyPendingJobs ErrorCode = "TOO_MANY_PENDING_JOBS"
	CodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	CodeJobStillActive     ErrorCode = "JOB_STILL_ACTIVE"
	CodeResultNotReady     ErrorCode = "RESULT_NOT_READY"
	CodeExecutorFailure    ErrorCode = "EXECUTOR_FAILURE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeCanceled           ErrorCode = "CANCELED"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"
)

// ValidationError reports a rejected scan parameter or request field.
type ValidationError struct {
	Code     ErrorCode
	Message  string
	Field    string
	ScanType string
	Cause    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	if e.ScanType != "" {
		return fmt.Sprintf("[%s] %s (scan_type: %s)", e.Code, e.Message, e.ScanType)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error for a specific field.
func NewValidationError(message, field string) *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidParameters,
		Message: message,
		Field:   field,
	}
}

// NewUnsupportedScanType creates an error for an unknown scan type.
func NewUnsupportedScanType(scanType string) *ValidationError {
	return &ValidationError{
		Code:     CodeUnsupportedScanType,
		Message:  "unsupported scan type",
		ScanType: scanType,
	}
}

// JobError reports an error tied to a specific scan job.
type JobError struct {
	Code    ErrorCode
	Message string
	JobID   uuid.UUID
	Status  string
	Cause   error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("[%s] %s (job: %s, status: %s)", e.Code, e.Message, e.JobID, e.Status)
	}
	return fmt.Sprintf("[%s] %s (job: %s)", e.Code, e.Message, e.JobID)
}

// Unwrap returns the underlying error.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// NewJobError creates a job error with the given code.
func NewJobError(code ErrorCode, message string, jobID uuid.UUID) *JobError {
	return &JobError{Code: code, Message: message, JobID: jobID}
}

// WithStatus attaches the job status at the time of the error.
func (e *JobError) WithStatus(status string) *JobError {
	e.Status = status
	return e
}

// AdmissionError reports a rejected job submission, carrying the limits
// that were exceeded so callers can act without parsing the message.
type AdmissionError struct {
	Code       ErrorCode
	Message    string
	AccountID  uuid.UUID
	QueueDepth int
	QueueLimit int
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	return fmt.Sprintf("[%s] %s (account: %s, queued: %d, limit: %d)",
		e.Code, e.Message, e.AccountID, e.QueueDepth, e.QueueLimit)
}

// NewTooManyPendingJobs creates an admission rejection error.
func NewTooManyPendingJobs(accountID uuid.UUID, queueDepth, queueLimit int) *AdmissionError {
	return &AdmissionError{
		Code:       CodeTooManyPendingJobs,
		Message:    "too many pending jobs for account",
		AccountID:  accountID,
		QueueDepth: queueDepth,
		QueueLimit: queueLimit,
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// NotFoundError reports an absent entity, or one not owned by the caller.
// Ownership misses deliberately look identical to absence.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("[%s] %s not found (id: %s)", CodeNotFound, e.Entity, e.ID)
}

// NewNotFound creates a not-found error for the named entity.
func NewNotFound(entity string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    CodeConfiguration,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Code
	}
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	var de *DatabaseError
	if errors.As(err, &de) {
		return de.Code
	}
	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		return CodeNotFound
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsNotFound reports whether the error indicates an absent entity.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsConflict reports whether the error indicates a conflicting state.
func IsConflict(err error) bool {
	code := GetCode(err)
	return code == CodeConflict || code == CodeJobStillActive || code == CodeInvalidTransition
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeDatabaseTimeout, CodeDatabaseConnection:
		return true
	default:
		return false
	}
}
