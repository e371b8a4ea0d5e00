package parsers

import (
	"context"
	"io"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// ReceiptParser handles parsing of cash-register receipt line CSV files
type ReceiptParser struct {
	*BaseParser
	config *ReceiptParserConfig
	logger logger.Logger
}

// NewReceiptParser creates a new ReceiptParser with the given configuration
func NewReceiptParser(config *ReceiptParserConfig) (*ReceiptParser, error) {
	if config == nil {
		config = DefaultReceiptParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"receipt_parser_config",
			config,
			err,
		).WithSuggestion("Check the receipt parser configuration values")
	}

	log := logger.GetGlobalLogger().WithComponent("receipt_parser")
	log.WithFields(logger.Fields{
		"has_header": config.HasHeader,
		"delimiter":  string(config.Delimiter),
	}).Debug("Created receipt parser")

	return &ReceiptParser{
		BaseParser: NewBaseParser(config.parseConfig()),
		config:     config,
		logger:     log,
	}, nil
}

// ParseFile parses a CSV file of receipt lines
func (rp *ReceiptParser) ParseFile(ctx context.Context, filePath string) ([]models.ReceiptLine, *ParseStats, error) {
	rp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"operation": "parse_receipts",
	}).Info("Starting receipt parsing")

	file, _, err := rp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return rp.ParseReader(ctx, file, filePath)
}

// ParseReader parses receipt lines from r. source names the input in
// errors and logs.
func (rp *ReceiptParser) ParseReader(ctx context.Context, r io.Reader, source string) ([]models.ReceiptLine, *ParseStats, error) {
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

	var lines []models.ReceiptLine
	err := rp.EachRecord(reader, parseCtx, stats, func(record []string) *ParseError {
		line, parseErr := rp.lineFromRecord(record, parseCtx)
		if parseErr != nil {
			return parseErr
		}
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return lines, stats, err
	}

	logCompletion(rp.logger, stats)
	return lines, stats, nil
}

func (rp *ReceiptParser) lineFromRecord(record []string, parseCtx *ParseContext) (models.ReceiptLine, *ParseError) {
	field := func(name string) string {
		return rp.GetFieldValue(record, parseCtx, name)
	}

	line := models.ReceiptLine{
		ReceiptNumber: field(ColReceiptNumber),
		OfficeRaw:     field(ColOffice),
		OwnerRaw:      field(ColOwner),
		CustomerRaw:   field(ColCustomer),
		CategoryRaw:   field(ColCategory),
		DateTimeRaw:   field(ColDateTime),
		MethodRaw:     field(ColMethod),
		SourceLine:    parseCtx.LineNumber,
	}

	fee, parseErr := parseFee(field(ColFee), parseCtx.LineNumber, parseCtx.GetColumnIndex(ColFee))
	if parseErr != nil {
		return line, parseErr
	}
	line.FeeAmount = fee
	return line, nil
}

// parseFee accepts "$1,234.50" and "(12.00)" style amounts
func parseFee(raw string, line, column int) (decimal.Decimal, *ParseError) {
	fee, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return decimal.Zero, &ParseError{
			Line:    line,
			Column:  column,
			Field:   ColFee,
			Value:   raw,
			Message: "invalid fee amount",
			Err:     err,
		}
	}
	return fee, nil
}
