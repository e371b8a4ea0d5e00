package parsers

import (
	"context"
	"io"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// RecordParser handles parsing of external record CSV files
type RecordParser struct {
	*BaseParser
	config *RecordParserConfig
	logger logger.Logger
}

// NewRecordParser creates a new RecordParser with the given configuration
func NewRecordParser(config *RecordParserConfig) (*RecordParser, error) {
	if config == nil {
		config = DefaultRecordParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"record_parser_config",
			config,
			err,
		).WithSuggestion("Check the record parser configuration values")
	}

	return &RecordParser{
		BaseParser: NewBaseParser(config.parseConfig()),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("record_parser"),
	}, nil
}

// ParseFile parses a CSV file of external records
func (rp *RecordParser) ParseFile(ctx context.Context, filePath string) ([]models.ExternalRecordRow, *ParseStats, error) {
	rp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"operation": "parse_records",
	}).Info("Starting record parsing")

	file, _, err := rp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return rp.ParseReader(ctx, file, filePath)
}

// ParseReader parses external records from r
func (rp *RecordParser) ParseReader(ctx context.Context, r io.Reader, source string) ([]models.ExternalRecordRow, *ParseStats, error) {
	reader := rp.NewReader(r)
	parseCtx := NewParseContext(ctx, source)
	stats := NewParseStats(source, FormatCSV)

	if err := rp.ReadHeaders(reader, parseCtx, rp.config.Aliases(), rp.config.RequiredColumns()); err != nil {
		rp.logger.WithError(err).WithFields(logger.Fields{
			"file_path":        source,
			"required_columns": rp.config.RequiredColumns(),
		}).Error("Failed to read or validate headers")
		return nil, stats, err
	}

	var rows []models.ExternalRecordRow
	err := rp.EachRecord(reader, parseCtx, stats, func(record []string) *ParseError {
		rows = append(rows, rp.rowFromRecord(record, parseCtx))
		return nil
	})
	if err != nil {
		return rows, stats, err
	}

	logCompletion(rp.logger, stats)
	return rows, stats, nil
}

func (rp *RecordParser) rowFromRecord(record []string, parseCtx *ParseContext) models.ExternalRecordRow {
	return models.ExternalRecordRow{
		OfficeRaw:    rp.GetFieldValue(record, parseCtx, ColOffice),
		CaseYear:     rp.GetFieldValue(record, parseCtx, ColCaseYear),
		FirstNameRaw: rp.GetFieldValue(record, parseCtx, ColFirstName),
		LastNameRaw:  rp.GetFieldValue(record, parseCtx, ColLastName),
		PreparerRaw:  rp.GetFieldValue(record, parseCtx, ColPreparer),
		StatusRaw:    rp.GetFieldValue(record, parseCtx, ColStatus),
		SourceLine:   parseCtx.LineNumber,
	}
}
