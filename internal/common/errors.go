// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Dependency graph errors.
	ErrCyclicDependency = errors.New("cyclic observer dependency")
	ErrUnknownObserver  = errors.New("unknown observer")
	ErrInvalidAspect    = errors.New("invalid subscription aspect")

	// Dataset errors.
	ErrDatasetAccess = errors.New("dataset access fault")
	ErrRowOutOfRange = errors.New("row out of range")
	ErrUnknownColumn = errors.New("unknown column")

	// Scheduler errors.
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigurationError reports a registration or settings problem. It is
// fatal to the call that produced it and leaves existing state untouched.
type ConfigurationError struct {
	Err error
	Op  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps err as a ConfigurationError.
func NewConfigurationError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// DatasetAccessFault reports that the dataset collaborator failed to read
// or write a cell.
type DatasetAccessFault struct {
	Err    error
	Op     string
	Column string
	Row    int
}

func (e *DatasetAccessFault) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("%s %s column %q: %v", ErrDatasetAccess, e.Op, e.Column, e.Err)
	}
	return fmt.Sprintf("%s %s cell (%d, %s): %v", ErrDatasetAccess, e.Op, e.Row, e.Column, e.Err)
}

func (e *DatasetAccessFault) Unwrap() []error {
	return []error{ErrDatasetAccess, e.Err}
}

// NewReadFault wraps a failed column read.
func NewReadFault(column string, err error) error {
	return &DatasetAccessFault{Op: "read", Column: column, Row: -1, Err: err}
}

// NewWriteFault wraps a failed cell write.
func NewWriteFault(row int, column string, err error) error {
	return &DatasetAccessFault{Op: "write", Column: column, Row: row, Err: err}
}

// UserError represents an error that should be shown to the user.
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

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
