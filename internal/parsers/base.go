// Package parsers reads the two reconciliation inputs, cash-register fee
// lines and external line-of-business records, from the formats they are
// commonly exported in.
//
// Supported formats:
//   - CSV with a header row (column names matched through aliases)
//   - JSON arrays of objects, validated against an embedded JSON Schema
//   - HTML tables (external records only), as produced by "export to web page"
//
// A malformed row never aborts a parse: it is recorded in ParseStats and
// skipped. Only file-level problems (missing file, bad encoding, missing
// required column) are returned as errors.
//
// Example usage:
//
//	parser, err := parsers.NewReceiptParser(nil)
//	lines, stats, err := parser.ParseFile(ctx, "register.csv")
//
//	rows, stats, err := parsers.LoadExternalRecords(ctx, "cases.html", nil)
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

const utf8BOM = "\uFEFF"

// ParseError represents a problem with a single input row
type ParseError struct {
	Line    int
	Column  int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d, column %d (%s='%s'): %s: %v",
			e.Line, e.Column, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d, column %d (%s='%s'): %s",
		e.Line, e.Column, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"has_header":        config.HasHeader,
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source      string
	LineNumber  int
	Headers     []string
	HeaderMap   map[string]int
	RecordCount int
	ctx         context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// Err returns the cancellation cause, if any
func (pc *ParseContext) Err() error {
	return pc.ctx.Err()
}

// GetColumnIndex returns the index of a canonical column, or -1 if absent
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}
	return -1
}

// OpenFile opens a CSV file and returns a configured csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := openInput(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		return nil, nil, err
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	return file, bp.NewReader(file), nil
}

// NewReader wraps r in a csv.Reader configured from the parse config
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// openInput opens a file, mapping OS errors onto file error codes
func openInput(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err == nil {
		return file, nil
	}
	switch {
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
	default:
		return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
}

// validateEncoding checks that the first lines of the file are valid UTF-8
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), bp.maxLineSize())
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	return nil
}

func (bp *BaseParser) maxLineSize() int {
	if bp.config.MaxFieldSize > 0 {
		return bp.config.MaxFieldSize * 16
	}
	return 1024 * 1024
}

// ReadHeaders reads the header row, renames aliased columns to their
// canonical names and checks that every required column is present
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, aliases map[string]string, required []string) error {
	if !bp.config.HasHeader {
		parseCtx.Headers = append([]string(nil), required...)
		buildHeaderMap(parseCtx)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(
				errors.CodeMissingField,
				"file_content",
				"empty",
				nil,
			).WithContext("file", parseCtx.Source).
				WithSuggestion("Ensure the file contains a header row and data rows")
		}
		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.Source,
			1,
			"headers",
			"",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.Headers = canonicalHeaders(headers, aliases)
	buildHeaderMap(parseCtx)

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read headers")

	return checkRequired(parseCtx, required)
}

// checkRequired reports all missing required columns as one error
func checkRequired(parseCtx *ParseContext, required []string) error {
	var missing []string
	for _, name := range required {
		if parseCtx.GetColumnIndex(name) == -1 {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.ParseError(
		errors.CodeMissingColumn,
		parseCtx.Source,
		parseCtx.LineNumber,
		strings.Join(missing, ", "),
		"",
		nil,
	).WithSuggestion(fmt.Sprintf("Add the columns %s (or a known alias); found: %s",
		strings.Join(missing, ", "), strings.Join(parseCtx.Headers, ", ")))
}

// CanonicalColumn folds a header to snake case: "Receipt #" -> "receipt",
// "Date/Time" -> "date_time"
func CanonicalColumn(header string) string {
	header = strings.TrimPrefix(strings.TrimSpace(header), utf8BOM)
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(header) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

func canonicalHeaders(headers []string, aliases map[string]string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		name := CanonicalColumn(h)
		if canonical, ok := aliases[name]; ok {
			name = canonical
		}
		out[i] = name
	}
	return out
}

func buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, header := range parseCtx.Headers {
		if _, dup := parseCtx.HeaderMap[header]; !dup {
			parseCtx.HeaderMap[header] = i
		}
	}
}

// ReadRecord reads the next non-empty record
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeCancelled, "csv_parsing", parseCtx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				parseCtx.LineNumber++
			}
			return nil, err
		}
		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, &ParseError{
						Line:    parseCtx.LineNumber,
						Column:  i,
						Field:   headerAt(parseCtx, i),
						Value:   truncate(field, 50),
						Message: fmt.Sprintf("field exceeds maximum size of %d bytes", bp.config.MaxFieldSize),
					}
				}
			}
		}

		parseCtx.RecordCount++
		return record, nil
	}
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func headerAt(parseCtx *ParseContext, i int) string {
	if i < len(parseCtx.Headers) {
		return parseCtx.Headers[i]
	}
	return fmt.Sprintf("field_%d", i)
}

// GetFieldValue returns the trimmed value of a canonical column, or "" when
// the column is absent or the row is short
func (bp *BaseParser) GetFieldValue(record []string, parseCtx *ParseContext, fieldName string) string {
	index := parseCtx.GetColumnIndex(fieldName)
	if index == -1 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Source        string        `json:"source"`
	Format        Format        `json:"format"`
	TotalLines    int           `json:"total_lines"`
	RecordsParsed int           `json:"records_parsed"`
	RecordsValid  int           `json:"records_valid"`
	ErrorCount    int           `json:"error_count"`
	Errors        []*ParseError `json:"-"`
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(source string, format Format) *ParseStats {
	return &ParseStats{
		Source: source,
		Format: format,
		Errors: make([]*ParseError, 0),
	}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}

// logCompletion logs the standard end-of-parse summary
func logCompletion(log logger.Logger, stats *ParseStats) {
	log.WithFields(logger.Fields{
		"file_path":      stats.Source,
		"format":         stats.Format,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Info("Parsing completed")

	if stats.HasErrors() {
		log.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}
}

// EachRecord reads every remaining record and hands it to handle. Read
// failures and rows rejected by handle are recorded in stats; only
// cancellation stops the loop early.
func (bp *BaseParser) EachRecord(reader *csv.Reader, parseCtx *ParseContext, stats *ParseStats, handle func(record []string) *ParseError) error {
	progress := logger.NewRowProgress(parseCtx.Source, bp.logger, 0)

	for {
		record, err := bp.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			if errors.IsReconcilerError(err) {
				bp.logger.WithField(logger.FieldSource, parseCtx.Source).Warn("Parsing was cancelled")
				return err
			}

			bp.logger.WithError(err).WithField(logger.FieldLine, parseCtx.LineNumber).Warn("Failed to read record")
			stats.AddError(asParseError(err, parseCtx.LineNumber))
			continue
		}

		stats.RecordsParsed++

		parseErr := handle(record)
		progress.Row(parseErr == nil)
		if parseErr != nil {
			bp.logger.WithFields(logger.Fields{
				logger.FieldLine: parseErr.Line,
				"field":       parseErr.Field,
				"value":       parseErr.Value,
			}).Warn(parseErr.Message)
			stats.AddError(parseErr)
			continue
		}
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	progress.Done()
	return nil
}

func asParseError(err error, line int) *ParseError {
	if pe, ok := err.(*ParseError); ok {
		return pe
	}
	return &ParseError{
		Line:    line,
		Field:   "record",
		Message: "malformed record",
		Err:     err,
	}
}
