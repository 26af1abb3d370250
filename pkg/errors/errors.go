package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile             ErrorCategory = "file"
	CategoryFormat           ErrorCategory = "format"
	CategoryUnsupportedImage ErrorCategory = "unsupported_image"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryUnexpected       ErrorCategory = "unexpected"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileWrite      ErrorCode = "file_write"

	// Format errors: a pattern matched but the captured value did not convert
	CodeInvalidAmount   ErrorCode = "invalid_amount"
	CodeInvalidNumber   ErrorCode = "invalid_number"
	CodeInvalidDocument ErrorCode = "invalid_document"

	// Unsupported image errors
	CodeUndecodableImage ErrorCode = "undecodable_image"
	CodeNoPageImage      ErrorCode = "no_page_image"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Unexpected errors
	CodeSubCheckFailed  ErrorCode = "sub_check_failed"
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// DetectionError is the base error type for all application errors
type DetectionError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *DetectionError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *DetectionError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryFormat, CategoryUnsupportedImage:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryUnexpected:
		return 5
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *DetectionError) WithContext(key string, value interface{}) *DetectionError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *DetectionError) WithSuggestion(suggestion string) *DetectionError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DetectionError
func New(category ErrorCategory, code ErrorCode, message string) *DetectionError {
	return &DetectionError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with DetectionError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *DetectionError {
	if err == nil {
		return nil
	}

	return &DetectionError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *DetectionError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *DetectionError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileWrite:
		message = fmt.Sprintf("failed to write file: %s", path)
		suggestion = "ensure the output directory exists and is writable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// FormatError reports a captured value that matched a pattern but could not
// be converted. Callers skip the offending claim or entry and continue.
func FormatError(code ErrorCode, field string, value string, err error) *DetectionError {
	var message string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in %s: %q", field, value)
	case CodeInvalidNumber:
		message = fmt.Sprintf("invalid number in %s: %q", field, value)
	case CodeInvalidDocument:
		message = fmt.Sprintf("invalid document input in %s: %q", field, value)
	default:
		message = fmt.Sprintf("format error in %s: %q", field, value)
	}

	return build(CategoryFormat, code, message, err).
		WithContext("field", field).
		WithContext("value", value)
}

// UnsupportedImageError reports bytes that could not be decoded as a raster
// image. Forensics reports such input as not analyzed.
func UnsupportedImageError(code ErrorCode, filename string, err error) *DetectionError {
	var message, suggestion string

	switch code {
	case CodeNoPageImage:
		message = fmt.Sprintf("no page image found in %s", describeFile(filename))
		suggestion = "only scanned PDFs with embedded page images can be analyzed"
	default:
		message = fmt.Sprintf("could not decode image %s", describeFile(filename))
		suggestion = "supported formats are JPEG, PNG, GIF, TIFF, BMP, WebP and scanned PDF"
	}

	return build(CategoryUnsupportedImage, code, message, err).
		WithSuggestion(suggestion).
		WithContext("filename", filename)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *DetectionError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// UnexpectedError reports a failure inside a sub-check. The aggregator
// records it on the sub-check result and continues with the other checks.
func UnexpectedError(code ErrorCode, operation string, err error) *DetectionError {
	var message string

	switch code {
	case CodeSubCheckFailed:
		message = fmt.Sprintf("%s failed", operation)
	default:
		message = fmt.Sprintf("unexpected error during %s", operation)
	}
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}

	return build(CategoryUnexpected, code, message, err).
		WithContext("operation", operation)
}

// RecoveredError converts a recovered panic value into an UnexpectedError.
func RecoveredError(operation string, recovered interface{}) *DetectionError {
	if err, ok := recovered.(error); ok {
		return UnexpectedError(CodeSubCheckFailed, operation, err)
	}
	return UnexpectedError(CodeSubCheckFailed, operation, fmt.Errorf("%v", recovered))
}

func describeFile(filename string) string {
	if filename == "" {
		return "(unnamed input)"
	}
	return filename
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*DetectionError     `json:"errors"`
	SampleErrors []*DetectionError     `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*DetectionError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*DetectionError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// IsCategory reports whether err carries a DetectionError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	detErr, ok := AsDetectionError(err)
	return ok && detErr.Category == category
}

// AsDetectionError extracts a DetectionError from an error chain
func AsDetectionError(err error) (*DetectionError, bool) {
	var detErr *DetectionError
	if errors.As(err, &detErr) {
		return detErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a DetectionError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *DetectionError {
	if err == nil {
		return nil
	}

	if detErr, ok := AsDetectionError(err); ok {
		return detErr
	}

	return Wrap(err, category, code, message)
}
