// Package reporter turns the outcome of a reconciliation run into summary
// counts and a filterable combined view, and renders them for operators.
//
// Supported output formats:
//   - Console: go-pretty tables, coloured when writing to a terminal
//   - JSON: the full report, including candidate lists
//   - CSV: one line per receipt for spreadsheet review
//
// Example usage:
//
//	report := reporter.NewReport(summary, matches, exceptions, reporter.Filter{Office: "CA010"})
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
)

// NotRunMessage is printed instead of tables when either input was empty
const NotRunMessage = "Reconciliation not run: no receipts or no external records were supplied."

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// InputSummary describes one parsed input file
type InputSummary struct {
	Kind         string   `json:"kind"`
	Source       string   `json:"source"`
	Format       string   `json:"format"`
	RowsRead     int      `json:"rows_read"`
	RowsValid    int      `json:"rows_valid"`
	Errors       int      `json:"errors"`
	SampleErrors []string `json:"sample_errors,omitempty"`
}

// StageTiming is the wall time of one run stage
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is everything a renderer needs for one run
type Report struct {
	RunID       string    `json:"run_id,omitempty"`
	RunDate     string    `json:"run_date,omitempty"`
	FeeCategory string    `json:"fee_category,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`

	// Summary always covers the whole run, regardless of Filter
	Summary Summary `json:"summary"`

	Filter    *Filter `json:"filter,omitempty"`
	Rows      []Row   `json:"rows"`
	TotalRows int     `json:"total_rows"`

	Warnings []matcher.Warning `json:"warnings,omitempty"`
	Inputs   []InputSummary    `json:"inputs,omitempty"`
	Stages   []StageTiming     `json:"stages,omitempty"`
}

// NewReport builds the combined view and applies filter to it
func NewReport(summary Summary, matches []*models.Match, exceptions []*models.Exception, filter Filter) *Report {
	rows := Rows(matches, exceptions)
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Summary:     summary,
		Rows:        filter.Apply(rows),
		TotalRows:   len(rows),
	}
	if !filter.IsZero() {
		report.Filter = &filter
	}
	return report
}

// Exceptions returns the exception rows of the view
func (r *Report) Exceptions() []Row {
	var out []Row
	for _, row := range r.Rows {
		if !row.IsMatch() {
			out = append(out, row)
		}
	}
	return out
}

// Matches returns the match rows of the view
func (r *Report) Matches() []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.IsMatch() {
			out = append(out, row)
		}
	}
	return out
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format" toml:"format" validate:"oneof=console json csv"`

	IncludeMatches    bool `json:"include_matches" mapstructure:"include_matches" toml:"include_matches"`
	IncludeWarnings   bool `json:"include_warnings" mapstructure:"include_warnings" toml:"include_warnings"`
	IncludeInputStats bool `json:"include_input_stats" mapstructure:"include_input_stats" toml:"include_input_stats"`

	// MaxCandidates caps the candidates printed per exception on the console
	MaxCandidates int `json:"max_candidates" mapstructure:"max_candidates" toml:"max_candidates" validate:"min=0,max=10"`

	UseColors     bool `json:"use_colors" mapstructure:"use_colors" toml:"use_colors"`
	TableMaxWidth int  `json:"table_max_width" mapstructure:"table_max_width" toml:"table_max_width" validate:"eq=0|min=50"`

	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"-" toml:"-"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers" toml:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeMatches:    true,
		IncludeWarnings:   true,
		IncludeInputStats: true,
		MaxCandidates:     3,
		UseColors:         true,
		TableMaxWidth:     0,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

var validate = validator.New()

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("%s failed %q (value %v)", ve.Field(), ve.Tag(), ve.Value())
		}
		return err
	}
	switch c.CSVDelimiter {
	case 0, '"', '\r', '\n':
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport renders report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	p := palette{enabled: rg.config.UseColors && shouldColorize(writer)}
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", p.title("RECEIPT RECONCILIATION REPORT"))
	if report.RunID != "" {
		fmt.Fprintf(&b, "Run:          %s\n", report.RunID)
	}
	runDate := report.RunDate
	if runDate == "" {
		runDate = "(all dates)"
	}
	fmt.Fprintf(&b, "Run date:     %s\n", runDate)
	if report.FeeCategory != "" {
		fmt.Fprintf(&b, "Fee category: %s\n", report.FeeCategory)
	}
	fmt.Fprintf(&b, "Generated:    %s\n\n", report.GeneratedAt.Format(time.RFC3339))

	if !report.Summary.Ran {
		fmt.Fprintf(&b, "%s\n", p.warn(NotRunMessage))
		fmt.Fprintf(&b, "Receipts: %d, external records: %d\n",
			report.Summary.ExpectedReceipts, report.Summary.ExternalRecords)
		if rg.config.IncludeInputStats && len(report.Inputs) > 0 {
			b.WriteString("\n")
			rg.writeInputs(&b, report.Inputs, p)
		}
		_, err := io.WriteString(writer, b.String())
		return err
	}

	fmt.Fprintf(&b, "%s\n", p.title("=== SUMMARY ==="))
	b.WriteString(rg.summaryTable(report.Summary, p))
	b.WriteString("\n\n")

	if report.Filter != nil {
		fmt.Fprintf(&b, "Showing %d of %d receipts (%s)\n\n", len(report.Rows), report.TotalRows, describeFilter(*report.Filter))
	}

	exceptions := report.Exceptions()
	fmt.Fprintf(&b, "%s\n", p.title(fmt.Sprintf("=== EXCEPTIONS (%d) ===", len(exceptions))))
	if len(exceptions) == 0 {
		b.WriteString("No exceptions.\n")
	} else {
		b.WriteString(rg.exceptionTable(exceptions, p))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if rg.config.IncludeMatches {
		matches := report.Matches()
		fmt.Fprintf(&b, "%s\n", p.title(fmt.Sprintf("=== MATCHES (%d) ===", len(matches))))
		if len(matches) == 0 {
			b.WriteString("No matches.\n")
		} else {
			b.WriteString(rg.matchTable(matches, p))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if rg.config.IncludeWarnings && len(report.Warnings) > 0 {
		fmt.Fprintf(&b, "%s\n", p.title("=== WARNINGS ==="))
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "  - [%s] %s\n", w.Kind, w.Message)
		}
		b.WriteString("\n")
	}

	if rg.config.IncludeInputStats && len(report.Inputs) > 0 {
		rg.writeInputs(&b, report.Inputs, p)
		for _, stage := range report.Stages {
			fmt.Fprintf(&b, "%-12s %v\n", stage.Stage+":", stage.Duration.Round(time.Microsecond))
		}
	}

	_, err := io.WriteString(writer, b.String())
	return err
}

func (rg *ReportGenerator) summaryTable(s Summary, p palette) string {
	rows := [][]string{
		{"Expected receipts", strconv.Itoa(s.ExpectedReceipts)},
		{"External records", strconv.Itoa(s.ExternalRecords)},
		{"Matched", fmt.Sprintf("%d (%.1f%%)", s.Matched, s.MatchRate())},
		{"Exceptions", countCell(s.Exceptions, p.bad)},
		{"  No return found", strconv.Itoa(s.NoReturnFound)},
		{"  Ambiguous", strconv.Itoa(s.Ambiguous)},
		{"Not transmitted", countCell(s.NotTransmitted, p.warn)},
		{"Needs correction", countCell(s.NeedsCorrection, p.warn)},
		{"Wrong date (excluded)", strconv.Itoa(s.WrongDate)},
		{"Overridden", strconv.Itoa(s.Overridden)},
		{"Code mismatches", strconv.Itoa(s.CodeMismatches)},
		{"Matched fees", s.MatchedFees.StringFixed(2)},
		{"Unmatched fees", s.UnmatchedFees.StringFixed(2)},
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}, rg.config.TableMaxWidth)
}

func (rg *ReportGenerator) exceptionTable(rows []Row, p palette) string {
	headers := []string{"Outcome", "Receipt", "Office", "Owner", "Customer", "Date/Time", "Fee", "Candidates"}
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		e := row.Exception
		outcome := string(row.Outcome)
		if e.Type == models.ExceptionWrongDate {
			outcome = p.warn(outcome)
		} else {
			outcome = p.bad(outcome)
		}
		cells = append(cells, []string{
			outcome,
			e.Receipt.ReceiptNumber,
			e.Receipt.OfficeCode,
			e.Receipt.OwnerRaw,
			e.Receipt.CustomerRaw,
			e.Receipt.DateTimeRaw,
			e.Receipt.TotalFee.StringFixed(2),
			formatCandidates(e.Candidates, rg.config.MaxCandidates),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	return renderTable(headers, cells, aligns, rg.config.TableMaxWidth)
}

func (rg *ReportGenerator) matchTable(rows []Row, p palette) string {
	headers := []string{"Outcome", "Receipt", "Office", "Owner", "Customer", "Fee", "Record", "Year", "Preparer", "Status", "Score", "Confidence", "Flags"}
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		m := row.Match
		outcome := string(row.Outcome)
		if m.Issue == models.IssueNone {
			outcome = p.good(outcome)
		} else {
			outcome = p.warn(outcome)
		}
		cells = append(cells, []string{
			outcome,
			m.Receipt.ReceiptNumber,
			m.Receipt.OfficeCode,
			m.Receipt.OwnerRaw,
			m.Receipt.CustomerRaw,
			m.Receipt.TotalFee.StringFixed(2),
			m.Record.CustomerName(),
			m.Record.CaseYear,
			m.Record.PreparerRaw,
			m.Record.StatusRaw,
			strconv.Itoa(m.Score),
			string(m.Confidence),
			matchFlags(m),
		})
	}
	aligns := make([]columnAlignment, len(headers))
	aligns[5], aligns[10] = alignRight, alignRight
	return renderTable(headers, cells, aligns, rg.config.TableMaxWidth)
}

func (rg *ReportGenerator) writeInputs(b *strings.Builder, inputs []InputSummary, p palette) {
	fmt.Fprintf(b, "%s\n", p.title("=== INPUTS ==="))
	rows := make([][]string, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, []string{
			in.Kind, in.Source, in.Format,
			strconv.Itoa(in.RowsRead), strconv.Itoa(in.RowsValid), countCell(in.Errors, p.bad),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight}
	b.WriteString(renderTable([]string{"Input", "Source", "Format", "Rows", "Valid", "Errors"}, rows, aligns, rg.config.TableMaxWidth))
	b.WriteString("\n")
	for _, in := range inputs {
		for _, msg := range in.SampleErrors {
			fmt.Fprintf(b, "  %s: %s\n", in.Kind, msg)
		}
	}
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	out := *report
	if !rg.config.IncludeMatches {
		out.Rows = report.Exceptions()
	}
	if !rg.config.IncludeWarnings {
		out.Warnings = nil
	}
	if !rg.config.IncludeInputStats {
		out.Inputs = nil
		out.Stages = nil
	}

	payload := struct {
		*Report
		MatchRate float64 `json:"match_rate"`
		Message   string  `json:"message,omitempty"`
	}{Report: &out, MatchRate: report.Summary.MatchRate()}
	if !report.Summary.Ran {
		payload.Message = NotRunMessage
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

var csvHeaders = []string{
	"Outcome",
	"Receipt_Number",
	"Office",
	"Owner",
	"Customer",
	"Date_Time",
	"Total_Fee",
	"Record_Key",
	"Record_Name",
	"Case_Year",
	"Preparer",
	"Status",
	"Score",
	"Confidence",
	"Code_Mismatch",
	"Overridden",
	"Candidates",
}

// generateCSVReport writes one line per receipt in the view
func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, row := range report.Rows {
		if row.IsMatch() && !rg.config.IncludeMatches {
			continue
		}
		if err := csvWriter.Write(csvRecord(row)); err != nil {
			return fmt.Errorf("failed to write row for receipt %s: %w", row.Receipt().ReceiptNumber, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func csvRecord(row Row) []string {
	receipt := row.Receipt()
	record := []string{
		string(row.Outcome),
		receipt.ReceiptNumber,
		receipt.OfficeCode,
		receipt.OwnerRaw,
		receipt.CustomerRaw,
		receipt.DateTimeRaw,
		receipt.TotalFee.StringFixed(2),
	}

	if m := row.Match; m != nil {
		return append(record,
			m.Record.Key(),
			m.Record.CustomerName(),
			m.Record.CaseYear,
			m.Record.PreparerRaw,
			m.Record.StatusRaw,
			strconv.Itoa(m.Score),
			string(m.Confidence),
			strconv.FormatBool(m.CodeMismatch),
			strconv.FormatBool(m.Overridden),
			"",
		)
	}

	keys := make([]string, 0, len(row.Exception.Candidates))
	for _, c := range row.Exception.Candidates {
		keys = append(keys, fmt.Sprintf("%s=%d", c.Record.Key(), c.Score))
	}
	return append(record, "", "", "", "", "", "", "", "", "", strings.Join(keys, "; "))
}

func formatCandidates(candidates []models.CandidateScore, limit int) string {
	if len(candidates) == 0 {
		return "-"
	}
	n := len(candidates)
	if limit > 0 && n > limit {
		n = limit
	}
	parts := make([]string, 0, n+1)
	for _, c := range candidates[:n] {
		parts = append(parts, fmt.Sprintf("%s %s (%d)", c.Record.CustomerName(), c.Record.CaseYear, c.Score))
	}
	if rest := len(candidates) - n; rest > 0 {
		parts = append(parts, fmt.Sprintf("+%d more", rest))
	}
	return strings.Join(parts, "; ")
}

func matchFlags(m *models.Match) string {
	var flags []string
	if m.Overridden {
		flags = append(flags, "override")
	}
	if m.CodeMismatch {
		flags = append(flags, "code mismatch")
	}
	return strings.Join(flags, ", ")
}

func countCell(n int, paint func(string) string) string {
	s := strconv.Itoa(n)
	if n > 0 {
		return paint(s)
	}
	return s
}

func describeFilter(f Filter) string {
	var parts []string
	add := func(name, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, name+"="+value)
		}
	}
	add("office", f.Office)
	add("owner", f.Owner)
	add("case-year", f.CaseYear)
	add("issue", string(f.Outcome))
	add("search", f.Search)
	if f.CodeMismatchOnly {
		parts = append(parts, "code-mismatch")
	}
	if f.HideWrongDate {
		parts = append(parts, "hide-wrong-date")
	}
	return strings.Join(parts, ", ")
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
