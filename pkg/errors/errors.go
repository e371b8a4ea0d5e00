package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the layer that raised them
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStorage        ErrorCategory = "storage"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeUnsupportedExt ErrorCode = "unsupported_extension"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"
	CodeSchemaInvalid ErrorCode = "schema_invalid"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeNotRun          ErrorCode = "not_run"
	CodeProcessingError ErrorCode = "processing_error"

	// Storage errors
	CodeStorageOpen   ErrorCode = "storage_open"
	CodeStorageQuery  ErrorCode = "storage_query"
	CodeStorageLocked ErrorCode = "storage_locked"
	CodeNotFound      ErrorCode = "not_found"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries key/value details about where the error happened
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode maps the category onto a process exit code
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryStorage:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion sets a hint for the operator
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps err with category and code. A nil err yields nil.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
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

// template is the operator-facing text for one code. Messages use explicit
// argument indexes so each constructor can pass all of its arguments.
type template struct {
	message    string
	suggestion string
}

type catalog struct {
	category ErrorCategory
	fallback template
	codes    map[ErrorCode]template
}

func (c catalog) build(code ErrorCode, cause error, args ...interface{}) *ReconcilerError {
	t, ok := c.codes[code]
	if !ok {
		t = c.fallback
	}
	message := fmt.Sprintf(t.message, args...)

	var result *ReconcilerError
	if cause != nil {
		result = Wrap(cause, c.category, code, message)
	} else {
		result = New(c.category, code, message)
	}
	return result.WithSuggestion(t.suggestion)
}

var fileCatalog = catalog{
	category: CategoryFile,
	fallback: template{"file error: %[1]s", "check the file and try again"},
	codes: map[ErrorCode]template{
		CodeFileNotFound:   {"file not found: %[1]s", "check the file path and that the export was saved"},
		CodeFilePermission: {"permission denied accessing file: %[1]s", "check file permissions and ensure you have read access"},
		CodeFileCorrupted:  {"file could not be read: %[1]s", "re-export the file from the source system"},
		CodeUnsupportedExt: {"unsupported input format: %[1]s", "use a .csv, .json, .html or .htm export"},
	},
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	return fileCatalog.build(code, err, path).WithContext("file_path", path)
}

// parse arguments: 1 file, 2 line, 3 column, 4 value
var parseCatalog = catalog{
	category: CategoryParse,
	fallback: template{"parse error in %[1]s at line %[2]d", "check the file format and data integrity"},
	codes: map[ErrorCode]template{
		CodeInvalidFormat: {"invalid format in %[1]s at line %[2]d", "check that the export is a well-formed table"},
		CodeMissingColumn: {"missing required column '%[3]s' in %[1]s", "verify the export has all required columns or configure a column alias"},
		CodeInvalidData:   {"invalid value in %[1]s at line %[2]d, column '%[3]s': '%[4]s'", "correct the value or remove the row"},
		CodeEncodingError: {"encoding error in %[1]s at line %[2]d", "save the file in UTF-8 encoding"},
		CodeSchemaInvalid: {"%[1]s does not match the expected document shape", "compare the JSON document against the documented field names"},
	},
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	return parseCatalog.build(code, err, file, line, column, value).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

var validationCatalog = catalog{
	category: CategoryValidation,
	fallback: template{"validation error in field '%[1]s': %[2]v", "check the field value and format"},
	codes: map[ErrorCode]template{
		CodeInvalidAmount: {"invalid amount in field '%[1]s': %[2]v", "use a plain decimal amount such as 35.00"},
		CodeInvalidDate:   {"invalid date in field '%[1]s': %[2]v", "use the YYYY-MM-DD date format"},
		CodeMissingField:  {"required field '%[1]s' is missing or empty", "provide a value for this required field"},
		CodeOutOfRange:    {"value out of range in field '%[1]s': %[2]v", "ensure the value is within the acceptable range"},
	},
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	return validationCatalog.build(code, err, field, value).
		WithContext("field", field).
		WithContext("value", value)
}

var configurationCatalog = catalog{
	category: CategoryConfiguration,
	fallback: template{"configuration error: %[1]s", "check your configuration and try again"},
	codes: map[ErrorCode]template{
		CodeInvalidConfig: {"invalid configuration for '%[1]s': %[2]v", "run 'reconciler config init' to see valid defaults"},
		CodeMissingConfig: {"missing required configuration: %[1]s", "pass the flag, set RECONCILER_ environment variable, or use a config file"},
	},
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	return configurationCatalog.build(code, err, setting, value).
		WithContext("setting", setting).
		WithContext("value", value)
}

var reconciliationCatalog = catalog{
	category: CategoryReconciliation,
	fallback: template{"reconciliation error during %[1]s", "review the data and configuration"},
	codes: map[ErrorCode]template{
		CodeNotRun:          {"reconciliation not run: %[1]s", "supply both the receipt export and the external record export"},
		CodeProcessingError: {"processing error during %[1]s", "check the input data and try again"},
	},
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	return reconciliationCatalog.build(code, err, operation).WithContext("operation", operation)
}

var storageCatalog = catalog{
	category: CategoryStorage,
	fallback: template{"storage error during %[1]s", "check the override database"},
	codes: map[ErrorCode]template{
		CodeStorageOpen:   {"cannot open override store during %[1]s", "check the --overrides-db path and directory permissions"},
		CodeStorageQuery:  {"override store query failed during %[1]s", "the database file may be damaged; restore it from backup"},
		CodeStorageLocked: {"override store is locked during %[1]s", "another operator is saving overrides; retry in a moment"},
		CodeNotFound:      {"override not found during %[1]s", "run 'reconciler override list' to see stored overrides"},
	},
}

// StorageError creates an override-store error
func StorageError(code ErrorCode, operation string, err error) *ReconcilerError {
	return storageCatalog.build(code, err, operation).WithContext("operation", operation)
}

var internalCatalog = catalog{
	category: CategoryInternal,
	fallback: template{"internal error during %[1]s", "try again or contact support if the problem persists"},
	codes: map[ErrorCode]template{
		CodeUnexpectedError: {"unexpected error during %[1]s", "this is likely a bug; please report it with the error details"},
		CodeCancelled:       {"%[1]s was cancelled", "re-run the command"},
	},
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return internalCatalog.build(code, err, operation).WithContext("operation", operation)
}

// HasCode reports whether err carries a ReconcilerError with code
func HasCode(err error, code ErrorCode) bool {
	recErr, ok := AsReconcilerError(err)
	return ok && recErr.Code == code
}

// ErrorSummary aggregates several errors into one
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
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

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory reports whether any error of the category was collected
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// GetExitCode returns the highest exit code across all errors
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

// IsReconcilerError checks if an error is a ReconcilerError
func IsReconcilerError(err error) bool {
	_, ok := AsReconcilerError(err)
	return ok
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}
