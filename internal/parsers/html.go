package parsers

import (
	"context"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
)

// htmlTable is one <table> flattened to text cells
type htmlTable struct {
	headers []string
	rows    [][]string
	// lines holds the 1-based row number of each entry in rows, counting the header
	lines []int
}

// readHTMLTables extracts every table of the document. The header is the
// first row holding <th> cells, or the first row when there are none.
func readHTMLTables(r io.Reader, source string) ([]htmlTable, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "document", "", err).
			WithSuggestion("The file must be an HTML document containing a table")
	}

	var tables []htmlTable
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		type htmlRow struct {
			values []string
			header bool
			line   int
		}
		var all []htmlRow
		rowNum := 0
		// Nested tables are handled on their own
		table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Closest("table").IsSelection(table)
		}).Each(func(_ int, tr *goquery.Selection) {
			rowNum++
			cells := tr.ChildrenFiltered("th, td")
			if cells.Length() == 0 {
				return
			}
			values := make([]string, 0, cells.Length())
			cells.Each(func(_ int, cell *goquery.Selection) {
				values = append(values, strings.Join(strings.Fields(cell.Text()), " "))
			})
			all = append(all, htmlRow{
				values: values,
				header: tr.ChildrenFiltered("th").Length() > 0,
				line:   rowNum,
			})
		})
		if len(all) == 0 {
			return
		}

		headerAt := 0
		for i, row := range all {
			if row.header {
				headerAt = i
				break
			}
		}

		t := htmlTable{headers: all[headerAt].values}
		for _, row := range all[headerAt+1:] {
			if isEmptyRecord(row.values) {
				continue
			}
			t.rows = append(t.rows, row.values)
			t.lines = append(t.lines, row.line)
		}
		tables = append(tables, t)
	})

	if len(tables) == 0 {
		return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "table", "", nil).
			WithSuggestion("The HTML document does not contain a table with a header row")
	}
	return tables, nil
}

// pickTable returns a parse context for the first table carrying every
// required column. When none does, the first table's missing columns are
// reported.
func pickTable(ctx context.Context, tables []htmlTable, source string, aliases map[string]string, required []string) (*htmlTable, *ParseContext, error) {
	var firstErr error
	for i := range tables {
		parseCtx := NewParseContext(ctx, source)
		parseCtx.LineNumber = 1
		parseCtx.Headers = canonicalHeaders(tables[i].headers, aliases)
		buildHeaderMap(parseCtx)

		err := checkRequired(parseCtx, required)
		if err == nil {
			return &tables[i], parseCtx, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, nil, firstErr
}

// ParseHTML parses receipt lines from the first suitable HTML table
func (rp *ReceiptParser) ParseHTML(ctx context.Context, r io.Reader, source string) ([]models.ReceiptLine, *ParseStats, error) {
	stats := NewParseStats(source, FormatHTML)
	tables, err := readHTMLTables(r, source)
	if err != nil {
		return nil, stats, err
	}
	table, parseCtx, err := pickTable(ctx, tables, source, rp.config.Aliases(), rp.config.RequiredColumns())
	if err != nil {
		return nil, stats, err
	}

	var lines []models.ReceiptLine
	err = eachTableRow(table, parseCtx, stats, func(record []string) *ParseError {
		line, parseErr := rp.lineFromRecord(record, parseCtx)
		if parseErr != nil {
			rp.logger.WithField("row", parseErr.Line).Warn(parseErr.Message)
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

// ParseHTML parses external records from the first suitable HTML table
func (rp *RecordParser) ParseHTML(ctx context.Context, r io.Reader, source string) ([]models.ExternalRecordRow, *ParseStats, error) {
	stats := NewParseStats(source, FormatHTML)
	tables, err := readHTMLTables(r, source)
	if err != nil {
		return nil, stats, err
	}
	table, parseCtx, err := pickTable(ctx, tables, source, rp.config.Aliases(), rp.config.RequiredColumns())
	if err != nil {
		return nil, stats, err
	}

	var rows []models.ExternalRecordRow
	err = eachTableRow(table, parseCtx, stats, func(record []string) *ParseError {
		rows = append(rows, rp.rowFromRecord(record, parseCtx))
		return nil
	})
	if err != nil {
		return rows, stats, err
	}

	logCompletion(rp.logger, stats)
	return rows, stats, nil
}

func eachTableRow(table *htmlTable, parseCtx *ParseContext, stats *ParseStats, handle func(record []string) *ParseError) error {
	for i, record := range table.rows {
		if parseCtx.IsCancelled() {
			return errors.InternalError(errors.CodeCancelled, "html_parsing", parseCtx.Err())
		}
		parseCtx.LineNumber = table.lines[i]
		parseCtx.RecordCount++
		stats.RecordsParsed++

		if parseErr := handle(record); parseErr != nil {
			stats.AddError(parseErr)
			continue
		}
		stats.RecordsValid++
	}
	stats.TotalLines = len(table.rows) + 1
	return nil
}
