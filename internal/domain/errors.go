package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrRecordNotFound     = fmt.Errorf("record: %w", ErrNotFound)
	ErrEmptyDataset       = fmt.Errorf("dataset has no features: %w", ErrInvalidInput)
	ErrInvalidCellSize    = fmt.Errorf("cell size: %w", ErrInvalidInput)
	ErrSaveNotInProgress  = fmt.Errorf("no save in progress: %w", ErrUnsupported)
	ErrNotReady           = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
	ErrActorStopped       = fmt.Errorf("persistence actor stopped: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// QueryError represents an error during a radius query.
type QueryError struct {
	Center Point // Query center
	Err    error // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error at %s: %v", e.Center, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, put, load_chunks, etc.)
	Key       string // Object or record key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// BuildError represents a problem with one source group during a build.
type BuildError struct {
	Source string // Source label
	Index  int    // Feature position within the source, -1 if not applicable
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("build error in source %s at feature %d: %v", e.Source, e.Index, e.Err)
	}
	return fmt.Sprintf("build error in source %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
