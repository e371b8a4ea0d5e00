package parsers

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	receiptLinesSchema    = "schemas/receipt_lines.schema.json"
	externalRecordsSchema = "schemas/external_records.schema.json"
)

// jsonRow is one decoded array element with its keys folded to canonical
// column names
type jsonRow map[string]interface{}

func (r jsonRow) str(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// ParseReceiptLinesJSON reads a JSON array of receipt line objects
func ParseReceiptLinesJSON(ctx context.Context, r io.Reader, source string, config *ReceiptParserConfig) ([]models.ReceiptLine, *ParseStats, error) {
	if config == nil {
		config = DefaultReceiptParserConfig()
	}
	log := logger.GetGlobalLogger().WithComponent("receipt_parser")
	stats := NewParseStats(source, FormatJSON)

	rows, err := decodeJSONRows(r, source, config.Aliases(), receiptLinesSchema)
	if err != nil {
		return nil, stats, err
	}

	lines := make([]models.ReceiptLine, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return lines, stats, errors.InternalError(errors.CodeCancelled, "json_parsing", err)
		}
		stats.RecordsParsed++

		fee, parseErr := parseFee(row.str(ColFee), i+1, -1)
		if parseErr != nil {
			log.WithFields(logger.Fields{"row": i + 1, "value": parseErr.Value}).Warn(parseErr.Message)
			stats.AddError(parseErr)
			continue
		}

		lines = append(lines, models.ReceiptLine{
			ReceiptNumber: row.str(ColReceiptNumber),
			OfficeRaw:     row.str(ColOffice),
			OwnerRaw:      row.str(ColOwner),
			CustomerRaw:   row.str(ColCustomer),
			CategoryRaw:   row.str(ColCategory),
			FeeAmount:     fee,
			DateTimeRaw:   row.str(ColDateTime),
			MethodRaw:     row.str(ColMethod),
			SourceLine:    i + 1,
		})
		stats.RecordsValid++
	}
	stats.TotalLines = len(rows)

	logCompletion(log, stats)
	return lines, stats, nil
}

// ParseExternalRecordsJSON reads a JSON array of external record objects
func ParseExternalRecordsJSON(ctx context.Context, r io.Reader, source string, config *RecordParserConfig) ([]models.ExternalRecordRow, *ParseStats, error) {
	if config == nil {
		config = DefaultRecordParserConfig()
	}
	stats := NewParseStats(source, FormatJSON)

	rows, err := decodeJSONRows(r, source, config.Aliases(), externalRecordsSchema)
	if err != nil {
		return nil, stats, err
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, errors.InternalError(errors.CodeCancelled, "json_parsing", err)
	}

	out := make([]models.ExternalRecordRow, 0, len(rows))
	for i, row := range rows {
		out = append(out, models.ExternalRecordRow{
			OfficeRaw:    row.str(ColOffice),
			CaseYear:     row.str(ColCaseYear),
			FirstNameRaw: row.str(ColFirstName),
			LastNameRaw:  row.str(ColLastName),
			PreparerRaw:  row.str(ColPreparer),
			StatusRaw:    row.str(ColStatus),
			SourceLine:   i + 1,
		})
	}
	stats.TotalLines = len(rows)
	stats.RecordsParsed = len(rows)
	stats.RecordsValid = len(rows)

	logCompletion(logger.GetGlobalLogger().WithComponent("record_parser"), stats)
	return out, stats, nil
}

// decodeJSONRows decodes an array of objects, renames aliased keys and
// validates the result against the embedded schema
func decodeJSONRows(r io.Reader, source string, aliases map[string]string, schemaName string) ([]jsonRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, source, err)
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))

	var raw []map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, errors.ParseError(
			errors.CodeInvalidFormat,
			source,
			0,
			"document",
			"",
			err,
		).WithSuggestion("The file must contain a JSON array of objects")
	}

	rows := make([]jsonRow, len(raw))
	for i, obj := range raw {
		row := make(jsonRow, len(obj))
		for key, value := range obj {
			name := CanonicalColumn(key)
			if canonical, ok := aliases[name]; ok {
				name = canonical
			}
			if _, dup := row[name]; !dup {
				row[name] = value
			}
		}
		rows[i] = row
	}

	if err := validateAgainstSchema(schemaName, source, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func validateAgainstSchema(schemaName, source string, rows []jsonRow) error {
	schemaBytes, err := schemaFS.ReadFile(schemaName)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "load_schema", err)
	}

	// gojsonschema wants plain maps and a non-nil array
	doc := make([]interface{}, len(rows))
	for i, row := range rows {
		doc[i] = map[string]interface{}(row)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "validate_schema", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.ParseError(
		errors.CodeSchemaInvalid,
		source,
		0,
		"document",
		"",
		fmt.Errorf("%s", strings.Join(problems, "; ")),
	).WithSuggestion("Check the field names and types of every object in the array")
}
