// Package errors provides structured error types for the strata engine.
// Every error carries a category, code, message and retryable flag so that
// the commit loop, the catalog service and the CLI classify failures the
// same way.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by subsystem.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryMetadata    ErrorCategory = "METADATA"
	ErrCategoryCommit      ErrorCategory = "COMMIT"
	ErrCategorySchema      ErrorCategory = "SCHEMA"
	ErrCategoryMaintenance ErrorCategory = "MAINTENANCE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeMissingFile     = "MISSING_FILE"
	CodeTableNotFound   = "TABLE_NOT_FOUND"
	CodeTableExists     = "TABLE_EXISTS"
	CodeRefNotFound     = "REF_NOT_FOUND"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeAlreadyExists  = "ALREADY_EXISTS"

	// Metadata codes
	CodeCorruptMetadata    = "CORRUPT_METADATA"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"

	// Commit codes
	CodeCommitConflict = "COMMIT_CONFLICT"
	CodeCommitFailed   = "COMMIT_FAILED"

	// Schema codes
	CodeSchemaIncompatible = "SCHEMA_INCOMPATIBLE"

	// Maintenance codes
	CodeOrphanReference = "ORPHAN_REFERENCE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StrataError is the structured error type used throughout the engine.
type StrataError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StrataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StrataError) Is(target error) bool {
	var t *StrataError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StrataError.
func New(category ErrorCategory, code, message string) *StrataError {
	return &StrataError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StrataError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StrataError {
	return &StrataError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StrataError) WithDetails(details map[string]interface{}) *StrataError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCategory(err error) ErrorCategory {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StrataError.
func GetCode(err error) string {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCommitConflict reports whether err is a commit conflict.
func IsCommitConflict(err error) bool {
	return GetCode(err) == CodeCommitConflict
}

// IsCorruptMetadata reports whether err reports unreadable metadata.
func IsCorruptMetadata(err error) bool {
	return GetCode(err) == CodeCorruptMetadata
}

// IsSchemaIncompatible reports whether err rejects a schema change.
func IsSchemaIncompatible(err error) bool {
	return GetCode(err) == CodeSchemaIncompatible
}

// IsNotFound reports whether err is a missing table, ref or object.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case CodeTableNotFound, CodeRefNotFound, CodeObjectNotFound:
		return true
	}
	return false
}

// isRetryable determines whether a category/code pair may be retried.
// Only transient storage failures and commit conflicts qualify.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCommit && code == CodeCommitConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *StrataError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *StrataError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCorruptMetadata(message string, cause error) *StrataError {
	return Wrap(ErrCategoryMetadata, CodeCorruptMetadata, message, cause)
}

func NewCommitConflict(message string, cause error) *StrataError {
	return Wrap(ErrCategoryCommit, CodeCommitConflict, message, cause)
}

func NewSchemaIncompatible(message string) *StrataError {
	return New(ErrCategorySchema, CodeSchemaIncompatible, message)
}

func NewOrphanReference(location string) *StrataError {
	return New(ErrCategoryMaintenance, CodeOrphanReference, "unreferenced object").
		WithDetails(map[string]interface{}{"location": location})
}

func NewInternalError(message string, cause error) *StrataError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
