package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(jobID string) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s not found", jobID)}
}

type ErrUnknownJobType struct {
	error
}

func NewErrUnknownJobType(jobType string) *ErrUnknownJobType {
	return &ErrUnknownJobType{fmt.Errorf("unknown job type: %s", jobType)}
}

type ErrConcurrencyLimitExceeded struct {
	error
}

func NewErrConcurrencyLimitExceeded(limit int) *ErrConcurrencyLimitExceeded {
	return &ErrConcurrencyLimitExceeded{fmt.Errorf("maximum concurrent jobs (%d) exceeded", limit)}
}

// ExecutionTimeoutMessage is the error message of a job that ran past its timeout.
const ExecutionTimeoutMessage = "execution timeout"

type ErrExecutionTimeout struct {
	error
}

func NewErrExecutionTimeout() *ErrExecutionTimeout {
	return &ErrExecutionTimeout{errors.New(ExecutionTimeoutMessage)}
}

// ConnectionError means a backend was unreachable or refused the credentials.
type ConnectionError struct {
	SourceType string
	cause      error
}

func NewConnectionError(sourceType string, cause error) *ConnectionError {
	return &ConnectionError{SourceType: sourceType, cause: cause}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.SourceType, e.cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

type ErrUnknownSourceType struct {
	error
}

func NewErrUnknownSourceType(tag string, supported []string) *ErrUnknownSourceType {
	return &ErrUnknownSourceType{fmt.Errorf("unsupported data source type: %s (supported: %s)", tag, strings.Join(supported, ", "))}
}

type ErrInvalidCredentials struct {
	error
}

func NewErrInvalidCredentials(tag string, required []string) *ErrInvalidCredentials {
	return &ErrInvalidCredentials{fmt.Errorf("invalid credentials for %s (required: %s)", tag, strings.Join(required, " | "))}
}

type ErrValidation struct {
	error
}

func NewErrValidation(format string, args ...interface{}) *ErrValidation {
	return &ErrValidation{fmt.Errorf(format, args...)}
}

type ErrJobAlreadyRunning struct {
	error
}

func NewErrJobAlreadyRunning(jobID string) *ErrJobAlreadyRunning {
	return &ErrJobAlreadyRunning{fmt.Errorf("job %s is already running", jobID)}
}

type ErrJobAlreadyExecuted struct {
	error
}

func NewErrJobAlreadyExecuted(jobID string, status JobStatus) *ErrJobAlreadyExecuted {
	return &ErrJobAlreadyExecuted{fmt.Errorf("job %s already executed (status %s)", jobID, status)}
}

type ErrDuplicateJob struct {
	error
}

func NewErrDuplicateJob(jobID string) *ErrDuplicateJob {
	return &ErrDuplicateJob{fmt.Errorf("job %s already exists", jobID)}
}

func IsJobNotFound(err error) bool {
	var e *ErrJobNotFound
	return errors.As(err, &e)
}

func IsConcurrencyLimitExceeded(err error) bool {
	var e *ErrConcurrencyLimitExceeded
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ErrValidation
	return errors.As(err, &e)
}

func IsConnectionError(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}
