package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryInput     Category = "input"
	CategoryDecode    Category = "decode"
	CategoryResize    Category = "resize"
	CategoryEncode    Category = "encode"
	CategoryStorage   Category = "storage"
	CategoryPipeline  Category = "pipeline"
	CategoryTransient Category = "transient"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable ProcessingError.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.  An error that is already a
// ProcessingError keeps its category so the innermost classification wins.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// IsFatal reports whether err must abort a batch before any processing:
// invalid configuration or an unreadable source directory.
func IsFatal(err error) bool {
	return IsCategory(err, CategoryConfig) || IsCategory(err, CategoryInput)
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrEmptyInput         = errors.New("empty input")
	ErrInvalidSize        = errors.New("invalid size, numbers required")
	ErrUnknownFormat      = errors.New("invalid format")
	ErrSourceTooLarge     = errors.New("source exceeds size limit")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
