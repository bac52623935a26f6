// Package errors provides structured error types for the Starforge pipeline.
// All errors include a category, code, message, and fatal flag so callers
// can distinguish run-aborting failures (missing input) from conditions
// that only degrade into the run report.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline component.
type ErrorCategory string

const (
	ErrCategoryExtract   ErrorCategory = "EXTRACT"
	ErrCategoryTransform ErrorCategory = "TRANSFORM"
	ErrCategoryWarehouse ErrorCategory = "WAREHOUSE"
	ErrCategoryLoad      ErrorCategory = "LOAD"
	ErrCategoryQuality   ErrorCategory = "QUALITY"
	ErrCategoryStorage   ErrorCategory = "STORAGE"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Extract codes
	CodeMissingInput     = "MISSING_INPUT"
	CodeInvalidDateRange = "INVALID_DATE_RANGE"
	CodeDecodeFailed     = "DECODE_FAILED"

	// Warehouse codes
	CodeSchemaInitFailed = "SCHEMA_INIT_FAILED"
	CodeSeedFailed       = "SEED_FAILED"
	CodeQueryFailed      = "QUERY_FAILED"

	// Load codes
	CodeLoadFailed     = "LOAD_FAILED"
	CodeInvalidMode    = "INVALID_MODE"
	CodeMissingKey     = "MISSING_KEY_COLUMN"
	CodeUnknownTable   = "UNKNOWN_TABLE"
	CodeTxCommitFailed = "TX_COMMIT_FAILED"

	// Quality codes
	CodeCheckQueryFailed = "CHECK_QUERY_FAILED"
	CodeBadIdentifier    = "BAD_IDENTIFIER"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsMissingInput reports whether the error chain contains a missing-input
// failure. This is the only error class the orchestrator treats specially:
// an expected file or partition is absent and the run aborts. Everything
// else that can go wrong with individual rows or checks degrades into the
// run report instead of becoming an error at all.
func IsMissingInput(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category == ErrCategoryExtract && pe.Code == CodeMissingInput
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewMissingInput(message string) *PipelineError {
	return New(ErrCategoryExtract, CodeMissingInput, message)
}

func NewExtractError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryExtract, code, message, cause)
}

func NewWarehouseError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryWarehouse, code, message, cause)
}

func NewLoadError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryLoad, code, message, cause)
}

func NewQualityError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryQuality, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
