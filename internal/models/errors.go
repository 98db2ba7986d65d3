package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed input or out-of-range configuration.
	ErrValidation = errors.New("validation failed")
	// ErrTextTooLarge marks ingest text longer than maxTextLength.
	ErrTextTooLarge = errors.New("text too long")
	// ErrDimensionMismatch marks an embedding whose length differs from embedDim.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrZeroChunks marks a non-empty text for which the chunker produced nothing.
	ErrZeroChunks = errors.New("no chunks generated from text")
	// ErrInvalidChunkConfig marks chunker options with size <= 0 or overlap outside [0, size).
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")
	// ErrNotFound marks a missing document.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable marks a store that cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError carries field-level messages such as "chunkSize: must be between 100 and 2000".
type ValidationError struct {
	Fields []string
}

// NewValidationError returns a ValidationError for the given field messages.
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Fields, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TextTooLargeError reports the configured limit and the submitted length.
type TextTooLargeError struct {
	MaxLength    int
	ActualLength int
}

func (e *TextTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d characters exceeds maximum of %d", ErrTextTooLarge, e.ActualLength, e.MaxLength)
}

func (e *TextTooLargeError) Is(target error) bool {
	return target == ErrTextTooLarge || target == ErrValidation
}

// DimensionMismatchError reports expected and actual embedding lengths.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }
