package reporter

import (
	"strings"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
)

// Row is one line of the combined view: a match or an exception
type Row struct {
	Outcome   models.Outcome    `json:"outcome"`
	Match     *models.Match     `json:"match,omitempty"`
	Exception *models.Exception `json:"exception,omitempty"`
}

// Receipt returns the receipt the row is about
func (r Row) Receipt() *models.Receipt {
	if r.Match != nil {
		return r.Match.Receipt
	}
	return r.Exception.Receipt
}

// IsMatch reports whether the row is a resolved match
func (r Row) IsMatch() bool {
	return r.Match != nil
}

// Rows builds the combined view: exceptions first, since they need an
// operator, then matches. Both keep receipt order.
func Rows(matches []*models.Match, exceptions []*models.Exception) []Row {
	rows := make([]Row, 0, len(matches)+len(exceptions))
	for _, e := range exceptions {
		rows = append(rows, Row{Outcome: e.Outcome(), Exception: e})
	}
	for _, m := range matches {
		rows = append(rows, Row{Outcome: m.Outcome(), Match: m})
	}
	return rows
}

// Filter narrows the combined view. Zero-valued fields match everything.
type Filter struct {
	Office   string `json:"office,omitempty" mapstructure:"office"`
	Owner    string `json:"owner,omitempty" mapstructure:"owner"`
	CaseYear string `json:"case_year,omitempty" mapstructure:"case_year"`
	// Outcome keeps rows in that terminal state, matched or not
	Outcome models.Outcome `json:"issue,omitempty" mapstructure:"-"`
	Search  string         `json:"search,omitempty" mapstructure:"search"`
	// CodeMismatchOnly keeps matches whose preparer differs from the owner
	CodeMismatchOnly bool `json:"code_mismatch_only,omitempty" mapstructure:"code_mismatch"`
	// HideWrongDate drops receipts excluded by the run date
	HideWrongDate bool `json:"hide_wrong_date,omitempty" mapstructure:"hide_wrong_date"`
}

// IsZero reports whether the filter keeps every row
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// matchesOnly reports whether the filter only makes sense for matches
func (f Filter) matchesOnly() bool {
	return strings.TrimSpace(f.CaseYear) != "" || f.CodeMismatchOnly
}

// Keep reports whether row passes the filter
func (f Filter) Keep(row Row) bool {
	receipt := row.Receipt()

	if f.HideWrongDate && row.Outcome == models.OutcomeWrongDateExcluded {
		return false
	}
	if f.Outcome != "" && row.Outcome != f.Outcome {
		return false
	}
	if f.matchesOnly() && !row.IsMatch() {
		return false
	}

	if office := strings.TrimSpace(f.Office); office != "" {
		code := normalize.OfficeCode(office)
		if code == "" {
			code = strings.ToUpper(office)
		}
		if receipt.OfficeCode != code {
			return false
		}
	}

	if owner := normalize.Name(f.Owner); owner != "" && receipt.OwnerNormalized != owner {
		return false
	}

	if year := strings.TrimSpace(f.CaseYear); year != "" && strings.TrimSpace(row.Match.Record.CaseYear) != year {
		return false
	}

	if f.CodeMismatchOnly && !row.Match.CodeMismatch {
		return false
	}

	if term := normalize.Fold(f.Search); term != "" && !searchHit(receipt, term) {
		return false
	}

	return true
}

// Apply returns the rows that pass the filter, in their original order
func (f Filter) Apply(rows []Row) []Row {
	if f.IsZero() {
		return rows
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if f.Keep(row) {
			out = append(out, row)
		}
	}
	return out
}

// searchHit looks for term in the customer name, receipt number and owner
func searchHit(receipt *models.Receipt, term string) bool {
	fields := []string{
		receipt.CustomerRaw,
		receipt.CustomerName(),
		receipt.ReceiptNumber,
		receipt.OwnerRaw,
	}
	for _, field := range fields {
		if strings.Contains(normalize.Fold(field), term) {
			return true
		}
	}
	return false
}
