package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/logger"
)

func newReceipt(number, office, owner, customerRaw, first, last, fee string) *models.Receipt {
	return &models.Receipt{
		ReceiptNumber:   number,
		OfficeCode:      office,
		OwnerRaw:        owner,
		OwnerNormalized: strings.ToLower(owner),
		CustomerRaw:     customerRaw,
		FirstName:       first,
		LastName:        last,
		DateTimeRaw:     "2024-03-15 10:30:00",
		TotalFee:        decimal.RequireFromString(fee),
	}
}

func newRecord(index int, office, year, first, last, preparer, status string) *models.ExternalRecord {
	return &models.ExternalRecord{
		Index:              index,
		OfficeCode:         office,
		CaseYear:           year,
		FirstName:          first,
		LastName:           last,
		PreparerRaw:        preparer,
		PreparerNormalized: strings.ToLower(preparer),
		StatusRaw:          status,
	}
}

// sampleRun mirrors the testdata fixtures: one clean match, one match needing
// correction with a code mismatch, one wrong-date receipt and one with no
// return found.
func sampleRun() ([]*models.Match, []*models.Exception) {
	smith := newRecord(0, "CA010", "2024", "john", "smith", "JDOE", "Accepted")
	lee := newRecord(1, "CA010", "2024", "ann", "lee", "jdoe", "Rejected")
	ng := newRecord(3, "TX200", "2023", "carl", "ng", "bkim", "In Progress")

	matches := []*models.Match{
		{
			Receipt:      newReceipt("1002", "CA010", "asmith", "Ann Lee", "ann", "lee", "200.00"),
			Record:       lee,
			Score:        120,
			Confidence:   models.ConfidenceHigh,
			Issue:        models.IssueNeedsCorrection,
			StatusKind:   models.StatusRejected,
			CodeMismatch: true,
		},
		{
			Receipt:    newReceipt("1001", "CA010", "jdoe", "Smith, John", "john", "smith", "175.00"),
			Record:     smith,
			Score:      120,
			Confidence: models.ConfidenceHigh,
			StatusKind: models.StatusAccepted,
		},
	}
	exceptions := []*models.Exception{
		{
			Type:       models.ExceptionWrongDate,
			Receipt:    newReceipt("1003", "CA010", "asmith", "Mary Jones", "mary", "jones", "99.00"),
			Candidates: []models.CandidateScore{},
		},
		{
			Type:       models.ExceptionNoReturnFound,
			Receipt:    newReceipt("1004", "TX200", "bkim", "Bo Diaz", "bo", "diaz", "120.00"),
			Candidates: []models.CandidateScore{{Record: ng, Score: 60}},
		},
	}
	return matches, exceptions
}

func sampleReport(filter Filter) *Report {
	matches, exceptions := sampleRun()
	report := NewReport(Summarize(4, 4, matches, exceptions), matches, exceptions, filter)
	report.RunID = "run-1"
	report.RunDate = "2024-03-15"
	report.Warnings = []matcher.Warning{{Kind: "orphan_office", Message: "office ZZ999 has no records"}}
	report.Inputs = []InputSummary{
		{Kind: "receipts", Source: "receipts.csv", Format: "csv", RowsRead: 8, RowsValid: 7, Errors: 1,
			SampleErrors: []string{"line 9: invalid fee amount"}},
	}
	return report
}

func TestSummarize(t *testing.T) {
	matches, exceptions := sampleRun()
	s := Summarize(4, 4, matches, exceptions)

	assert.True(t, s.Ran)
	assert.Equal(t, 4, s.ExpectedReceipts)
	assert.Equal(t, 4, s.ExternalRecords)
	assert.Equal(t, 2, s.Matched)
	assert.Equal(t, 1, s.Exceptions, "wrong date is not an exception")
	assert.Equal(t, 1, s.WrongDate)
	assert.Equal(t, 1, s.NoReturnFound)
	assert.Equal(t, 0, s.Ambiguous)
	assert.Equal(t, 1, s.NeedsCorrection)
	assert.Equal(t, 0, s.NotTransmitted)
	assert.Equal(t, 1, s.CodeMismatches)
	assert.Equal(t, "375.00", s.MatchedFees.StringFixed(2))
	assert.Equal(t, "120.00", s.UnmatchedFees.StringFixed(2))
	assert.Equal(t, 3, s.InScope())
	assert.InDelta(t, 66.67, s.MatchRate(), 0.01)
}

func TestSummarizeEmptyInput(t *testing.T) {
	tests := []struct {
		name     string
		receipts int
		records  int
	}{
		{"no receipts", 0, 5},
		{"no records", 3, 0},
		{"nothing", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.receipts, tt.records, nil, nil)
			assert.False(t, s.Ran)
			assert.Zero(t, s.MatchRate())
			assert.True(t, s.MatchedFees.IsZero())
		})
	}
}

func TestRowsOrder(t *testing.T) {
	matches, exceptions := sampleRun()
	rows := Rows(matches, exceptions)

	var numbers []string
	for _, row := range rows {
		numbers = append(numbers, row.Receipt().ReceiptNumber)
	}
	assert.Equal(t, []string{"1003", "1004", "1002", "1001"}, numbers)
	assert.Equal(t, models.OutcomeWrongDateExcluded, rows[0].Outcome)
	assert.Equal(t, models.OutcomeMatchedNeedsCorrection, rows[2].Outcome)
	assert.Equal(t, models.OutcomeMatchedClean, rows[3].Outcome)
}

func TestFilter(t *testing.T) {
	matches, exceptions := sampleRun()
	rows := Rows(matches, exceptions)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"zero keeps all", Filter{}, []string{"1003", "1004", "1002", "1001"}},
		{"office", Filter{Office: "tx200"}, []string{"1004"}},
		{"owner", Filter{Owner: " ASmith "}, []string{"1003", "1002"}},
		{"case year drops exceptions", Filter{CaseYear: "2024"}, []string{"1002", "1001"}},
		{"case year no hit", Filter{CaseYear: "2023"}, nil},
		{"needs correction", Filter{Outcome: models.OutcomeMatchedNeedsCorrection}, []string{"1002"}},
		{"not transmitted none matching", Filter{Outcome: models.OutcomeMatchedNotTransmitted}, nil},
		{"clean", Filter{Outcome: models.OutcomeMatchedClean}, []string{"1001"}},
		{"no return found", Filter{Outcome: models.OutcomeNoReturnFound}, []string{"1004"}},
		{"wrong date", Filter{Outcome: models.OutcomeWrongDateExcluded}, []string{"1003"}},
		{"ambiguous none", Filter{Outcome: models.OutcomeAmbiguousMatch}, nil},
		{"no return found in office", Filter{Outcome: models.OutcomeNoReturnFound, Office: "CA010"}, nil},
		{"exception outcome with case year", Filter{Outcome: models.OutcomeNoReturnFound, CaseYear: "2023"}, nil},
		{"search customer", Filter{Search: "JOHN"}, []string{"1001"}},
		{"search hits owner too", Filter{Search: "smith"}, []string{"1003", "1002", "1001"}},
		{"search receipt number", Filter{Search: "100"}, []string{"1003", "1004", "1002", "1001"}},
		{"search owner", Filter{Search: "BKIM"}, []string{"1004"}},
		{"code mismatch", Filter{CodeMismatchOnly: true}, []string{"1002"}},
		{"hide wrong date", Filter{HideWrongDate: true}, []string{"1004", "1002", "1001"}},
		{"combined", Filter{Office: "CA010", Search: "ann"}, []string{"1002"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, row := range tt.filter.Apply(rows) {
				got = append(got, row.Receipt().ReceiptNumber)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterIsZero(t *testing.T) {
	assert.True(t, Filter{}.IsZero())
	assert.False(t, Filter{Search: "x"}.IsZero())
}

func TestReportConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *ReportConfig)
		expectError bool
	}{
		{"default", func(c *ReportConfig) {}, false},
		{"invalid format", func(c *ReportConfig) { c.Format = "xml" }, true},
		{"table width too small", func(c *ReportConfig) { c.TableMaxWidth = 30 }, true},
		{"table width ok", func(c *ReportConfig) { c.TableMaxWidth = 120 }, false},
		{"too many candidates", func(c *ReportConfig) { c.MaxCandidates = 11 }, true},
		{"quote delimiter", func(c *ReportConfig) { c.CSVDelimiter = '"' }, true},
		{"semicolon delimiter", func(c *ReportConfig) { c.CSVDelimiter = ';' }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultReportConfig()
			tt.mutate(config)
			_, err := NewReportGenerator(config)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	assert.True(t, FormatConsole.IsValid())
	assert.True(t, FormatJSON.IsValid())
	assert.True(t, FormatCSV.IsValid())
	assert.False(t, OutputFormat("").IsValid())
	assert.False(t, OutputFormat("xml").IsValid())
}

func TestConsoleReport(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(sampleReport(Filter{}), &buf))
	out := buf.String()

	for _, want := range []string{
		"RECEIPT RECONCILIATION REPORT",
		"run-1",
		"2024-03-15",
		"=== SUMMARY ===",
		"Expected receipts",
		"Needs correction",
		"=== EXCEPTIONS (2) ===",
		"WrongDateExcluded",
		"carl ng 2023 (60)",
		"=== MATCHES (2) ===",
		"Matched(NeedsCorrection)",
		"code mismatch",
		"=== WARNINGS ===",
		"office ZZ999 has no records",
		"line 9: invalid fee amount",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\x1b[", "no colours when not writing to a terminal")
}

func TestConsoleReportFiltered(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(sampleReport(Filter{Office: "TX200"}), &buf))
	out := buf.String()

	assert.Contains(t, out, "Showing 1 of 4 receipts (office=TX200)")
	assert.Contains(t, out, "=== MATCHES (0) ===")
	assert.Contains(t, out, "No matches.")
}

func TestConsoleReportNotRun(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)

	report := NewReport(Summarize(3, 0, nil, nil), nil, nil, Filter{})
	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(report, &buf))

	assert.Contains(t, buf.String(), NotRunMessage)
	assert.Contains(t, buf.String(), "Receipts: 3, external records: 0")
	assert.NotContains(t, buf.String(), "=== SUMMARY ===")
}

func TestJSONReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, err := NewReportGenerator(config)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(sampleReport(Filter{}), &buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.NotContains(t, decoded, "message")
	assert.InDelta(t, 66.67, decoded["match_rate"], 0.01)

	summary := decoded["summary"].(map[string]any)
	assert.Equal(t, true, summary["ran"])
	assert.EqualValues(t, 2, summary["matched"])
	assert.EqualValues(t, 1, summary["exceptions"])

	rows := decoded["rows"].([]any)
	require.Len(t, rows, 4)
	second := rows[1].(map[string]any)
	exception := second["exception"].(map[string]any)
	candidates := exception["candidates"].([]any)
	require.Len(t, candidates, 1)
	assert.Equal(t, "TX200|2023|ng|carl", candidates[0].(map[string]any)["key"])
}

func TestJSONReportExceptionsOnly(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	config.IncludeMatches = false
	config.IncludeInputStats = false
	generator, err := NewReportGenerator(config)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(sampleReport(Filter{}), &buf))

	var decoded struct {
		Rows   []json.RawMessage `json:"rows"`
		Inputs []InputSummary    `json:"inputs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.Rows, 2)
	assert.Empty(t, decoded.Inputs)
}

func TestJSONReportNotRun(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, err := NewReportGenerator(config)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(NewReport(Summarize(0, 0, nil, nil), nil, nil, Filter{}), &buf))
	assert.Contains(t, buf.String(), NotRunMessage)
}

func TestCSVReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	config.CSVDelimiter = ';'
	generator, err := NewReportGenerator(config)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(sampleReport(Filter{}), &buf))

	reader := csv.NewReader(&buf)
	reader.Comma = ';'
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, csvHeaders, records[0])
	assert.Equal(t, "WrongDateExcluded", records[1][0])
	assert.Equal(t, "TX200|2023|ng|carl=60", records[2][16])
	assert.Equal(t, "Matched(NeedsCorrection)", records[3][0])
	assert.Equal(t, "CA010|2024|lee|ann", records[3][7])
	assert.Equal(t, "true", records[3][14])
	assert.Equal(t, "Smith, John", records[4][4])
	assert.Equal(t, "175.00", records[4][6])
}

func TestGenerateReportNil(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)
	assert.Error(t, generator.GenerateReport(nil, &bytes.Buffer{}))
}

func TestUpdateConfiguration(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	require.NoError(t, err)

	config := DefaultReportConfig()
	config.Format = FormatCSV
	require.NoError(t, generator.UpdateConfiguration(config))
	assert.Equal(t, FormatCSV, generator.GetConfiguration().Format)

	assert.Error(t, generator.UpdateConfiguration(&ReportConfig{Format: "bad", CSVDelimiter: ','}))
	assert.Equal(t, FormatCSV, generator.GetConfiguration().Format)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken") }

func TestSafeReportGeneratorFormatFallback(t *testing.T) {
	generator, err := NewSafeReportGenerator(DefaultReportConfig(), logger.Discard())
	require.NoError(t, err)
	// a format that slipped past validation cannot be rendered
	generator.config.Format = "xml"

	var w bytes.Buffer
	require.NoError(t, generator.GenerateReportSafely(sampleReport(Filter{}), &w))
	assert.True(t, strings.HasPrefix(w.String(), "NOTE: Report generated in fallback format"))
	assert.Contains(t, w.String(), "unsupported output format: xml")
	assert.Contains(t, w.String(), "RECEIPT RECONCILIATION REPORT")
}

func TestSafeReportGeneratorConsoleFailure(t *testing.T) {
	generator, err := NewSafeReportGenerator(DefaultReportConfig(), logger.Discard())
	require.NoError(t, err)

	_, err = generator.Render(nil)
	assert.Error(t, err)
}

func TestSafeReportGeneratorWriteFailure(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, err := NewSafeReportGenerator(config, logger.Discard())
	require.NoError(t, err)

	err = generator.GenerateReportSafely(sampleReport(Filter{}), brokenWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSafeReportGeneratorValidation(t *testing.T) {
	generator, err := NewSafeReportGenerator(nil, logger.Discard())
	require.NoError(t, err)

	assert.Error(t, generator.GenerateReportSafely(nil, &bytes.Buffer{}))
	assert.Error(t, generator.GenerateReportSafely(sampleReport(Filter{}), nil))

	bad := sampleReport(Filter{})
	bad.Rows = append(bad.Rows, Row{})
	assert.Error(t, generator.GenerateReportSafely(bad, &bytes.Buffer{}))

	_, err = NewSafeReportGenerator(&ReportConfig{Format: "bad"}, logger.Discard())
	assert.Error(t, err)
}

func TestSafeReportGeneratorWriteFile(t *testing.T) {
	generator, err := NewSafeReportGenerator(nil, logger.Discard())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, generator.WriteFile(sampleReport(Filter{}), path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== SUMMARY ===")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestSafeReportGeneratorWriteFileKeepsOldReport(t *testing.T) {
	generator, err := NewSafeReportGenerator(nil, logger.Discard())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("previous run"), 0o644))

	bad := sampleReport(Filter{})
	bad.Rows = append(bad.Rows, Row{})
	require.Error(t, generator.WriteFile(bad, path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous run", string(content))
}
