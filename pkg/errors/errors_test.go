package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
		expectText string
	}{
		{
			name:       "file error with cause",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
			expectText: "file not found: no such file",
		},
		{
			name:       "parse error",
			category:   CategoryParse,
			code:       CodeInvalidFormat,
			message:    "invalid format",
			expectCode: 3,
			expectText: "invalid format",
		},
		{
			name:       "configuration error",
			category:   CategoryConfiguration,
			code:       CodeInvalidConfig,
			message:    "invalid config",
			expectCode: 4,
			expectText: "invalid config",
		},
		{
			name:       "storage error",
			category:   CategoryStorage,
			code:       CodeStorageQuery,
			message:    "query failed",
			cause:      errors.New("disk I/O error"),
			expectCode: 6,
			expectText: "query failed: disk I/O error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.expectCode, err.GetExitCode())
			assert.Equal(t, tt.expectText, err.Error())
			assert.NotEmpty(t, err.StackTrace)
			if tt.cause != nil {
				assert.Same(t, tt.cause, err.Unwrap())
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CategoryFile, CodeFileNotFound, "unused"))
	assert.Nil(t, WrapIfNeeded(nil, CategoryFile, CodeFileNotFound, "unused"))
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryFile, CodeFileNotFound, "test error").
		WithContext("file", "/path/to/file").
		WithContext("line", 42).
		WithSuggestion("check file path")

	assert.Equal(t, "/path/to/file", err.Context["file"])
	assert.Equal(t, 42, err.Context["line"])
	assert.Equal(t, "test error (suggestion: check file path)", err.Error())
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("FileError", func(t *testing.T) {
		cause := errors.New("permission denied")
		err := FileError(CodeFilePermission, "/test/receipts.csv", cause)

		assert.Equal(t, CategoryFile, err.Category)
		assert.Equal(t, CodeFilePermission, err.Code)
		assert.Equal(t, "/test/receipts.csv", err.Context["file_path"])
		assert.NotEmpty(t, err.Suggestion)
		assert.Same(t, cause, err.Cause)
	})

	t.Run("ParseError", func(t *testing.T) {
		err := ParseError(CodeInvalidData, "receipts.csv", 10, "fee", "12.3.4", nil)

		assert.Equal(t, CategoryParse, err.Category)
		assert.Equal(t, "receipts.csv", err.Context["file"])
		assert.Equal(t, 10, err.Context["line"])
		assert.Contains(t, err.Message, "12.3.4")
	})

	t.Run("StorageError", func(t *testing.T) {
		err := StorageError(CodeStorageLocked, "override add", nil)

		assert.Equal(t, CategoryStorage, err.Category)
		assert.Equal(t, "override add", err.Context["operation"])
	})

	t.Run("ReconciliationError not run", func(t *testing.T) {
		err := ReconciliationError(CodeNotRun, "no receipts supplied", nil)

		assert.Contains(t, err.Message, "reconciliation not run")
		assert.Equal(t, 5, err.GetExitCode())
	})
}

func TestCatalogMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     *ReconcilerError
		message string
	}{
		{"missing column", ParseError(CodeMissingColumn, "records.csv", 1, "Last Name", "", nil), "missing required column 'Last Name' in records.csv"},
		{"schema", ParseError(CodeSchemaInvalid, "rows.json", 0, "", "", nil), "rows.json does not match the expected document shape"},
		{"missing field", ValidationError(CodeMissingField, "receipts", nil, nil), "required field 'receipts' is missing or empty"},
		{"invalid date", ValidationError(CodeInvalidDate, "run-date", "March 15", nil), "invalid date in field 'run-date': March 15"},
		{"missing config", ConfigurationError(CodeMissingConfig, "overrides-db", nil, nil), "missing required configuration: overrides-db"},
		{"cancelled", InternalError(CodeCancelled, "load receipts", nil), "load receipts was cancelled"},
		{"unknown file code", FileError(CodeNotRun, "x.csv", nil), "file error: x.csv"},
		{"unknown storage code", StorageError(CodeInvalidDate, "list", nil), "storage error during list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Message)
			assert.NotEmpty(t, tt.err.Suggestion)
			assert.NotEmpty(t, tt.err.StackTrace)
		})
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("delete: %w", StorageError(CodeNotFound, "delete override", nil))
	assert.True(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(err, CodeStorageLocked))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
	assert.False(t, HasCode(nil, CodeNotFound))
}

func TestAsReconcilerErrorThroughWrapping(t *testing.T) {
	inner := ValidationError(CodeInvalidDate, "run-date", "04/01", nil)
	wrapped := fmt.Errorf("validate flags: %w", inner)

	got, ok := AsReconcilerError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, IsReconcilerError(wrapped))
	assert.False(t, IsReconcilerError(errors.New("plain")))

	assert.Same(t, inner, WrapIfNeeded(wrapped, CategoryInternal, CodeUnexpectedError, "x"))
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryFile, CodeFileNotFound, "error 1"),
		New(CategoryParse, CodeInvalidFormat, "error 2"),
		New(CategoryParse, CodeInvalidData, "error 3"),
		New(CategoryStorage, CodeStorageQuery, "error 4"),
	}

	summary := NewErrorSummary(errs)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.ByCategory[CategoryParse])
	assert.Equal(t, 1, summary.ByCode[CodeFileNotFound])
	assert.True(t, summary.HasCategory(CategoryStorage))
	assert.False(t, summary.HasCategory(CategoryConfiguration))
	assert.Equal(t, 6, summary.GetExitCode())
	assert.Equal(t, "4 errors occurred (file: 1, parse: 2, storage: 1)", summary.Error())

	empty := NewErrorSummary(nil)
	assert.Equal(t, 0, empty.GetExitCode())
	assert.Equal(t, "no errors", empty.Error())
}
