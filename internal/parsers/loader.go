package parsers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
)

// Format identifies an input file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// DetectFormat picks the format from the file extension
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", errors.FileError(
			errors.CodeUnsupportedExt,
			path,
			fmt.Errorf("unsupported extension %q", filepath.Ext(path)),
		).WithSuggestion("Use a .csv, .json, .html or .htm file")
	}
}

// LoadReceiptLines reads receipt lines from path in whichever format its
// extension names
func LoadReceiptLines(ctx context.Context, path string, config *ReceiptParserConfig) ([]models.ReceiptLine, *ParseStats, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, nil, err
	}

	parser, err := NewReceiptParser(config)
	if err != nil {
		return nil, nil, err
	}

	if format == FormatCSV {
		return parser.ParseFile(ctx, path)
	}

	file, err := openInput(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	if format == FormatJSON {
		return ParseReceiptLinesJSON(ctx, file, path, parser.config)
	}
	return parser.ParseHTML(ctx, file, path)
}

// LoadExternalRecords reads external record rows from path in whichever
// format its extension names
func LoadExternalRecords(ctx context.Context, path string, config *RecordParserConfig) ([]models.ExternalRecordRow, *ParseStats, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, nil, err
	}

	parser, err := NewRecordParser(config)
	if err != nil {
		return nil, nil, err
	}

	if format == FormatCSV {
		return parser.ParseFile(ctx, path)
	}

	file, err := openInput(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	if format == FormatJSON {
		return ParseExternalRecordsJSON(ctx, file, path, parser.config)
	}
	return parser.ParseHTML(ctx, file, path)
}
