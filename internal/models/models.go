package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptLine is one fee line item as exported by the cash register
type ReceiptLine struct {
	ReceiptNumber string          `json:"receipt_number"`
	OfficeRaw     string          `json:"office"`
	OwnerRaw      string          `json:"owner"`
	CustomerRaw   string          `json:"customer"`
	CategoryRaw   string          `json:"category"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	DateTimeRaw   string          `json:"date_time"`
	MethodRaw     string          `json:"method"`

	// SourceLine is the 1-based line (or row) number in the input file, 0 when unknown
	SourceLine int `json:"source_line,omitempty"`
}

// Receipt aggregates all fee lines sharing a receipt number
type Receipt struct {
	ReceiptNumber   string
	OfficeCode      string
	OwnerRaw        string
	OwnerNormalized string
	CustomerRaw     string
	FirstName       string
	LastName        string
	DateTimeRaw     string
	DateTime        *time.Time
	PaymentMethod   string
	TotalFee        decimal.Decimal
	Lines           []ReceiptLine
}

// LineTotal sums the fees of the receipt's source lines
func (r *Receipt) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.FeeAmount)
	}
	return total
}

// Validate checks the receipt invariants
func (r *Receipt) Validate() error {
	if strings.TrimSpace(r.ReceiptNumber) == "" {
		return fmt.Errorf("receipt number cannot be empty")
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("receipt %s has no source lines", r.ReceiptNumber)
	}
	if sum := r.LineTotal(); !sum.Equal(r.TotalFee) {
		return fmt.Errorf("receipt %s total %s does not equal line sum %s",
			r.ReceiptNumber, r.TotalFee.StringFixed(2), sum.StringFixed(2))
	}
	return nil
}

// CustomerName returns "first last" in normalized form
func (r *Receipt) CustomerName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Day returns the receipt's calendar date as YYYY-MM-DD, or "" when the
// date-time could not be parsed
func (r *Receipt) Day() string {
	if r.DateTime == nil {
		return ""
	}
	return r.DateTime.Format("2006-01-02")
}

// String returns a string representation of the Receipt
func (r *Receipt) String() string {
	return fmt.Sprintf("Receipt{Number: %s, Office: %s, Owner: %s, Customer: %s, Total: %s}",
		r.ReceiptNumber, r.OfficeCode, r.OwnerNormalized, r.CustomerName(), r.TotalFee.StringFixed(2))
}

// MarshalJSON renders the receipt with a fixed-point total and an ISO date
func (r *Receipt) MarshalJSON() ([]byte, error) {
	var dateTime string
	if r.DateTime != nil {
		dateTime = r.DateTime.Format(time.RFC3339)
	}
	return json.Marshal(&struct {
		ReceiptNumber string `json:"receipt_number"`
		OfficeCode    string `json:"office_code"`
		Owner         string `json:"owner"`
		Customer      string `json:"customer"`
		FirstName     string `json:"first_name"`
		LastName      string `json:"last_name"`
		DateTimeRaw   string `json:"date_time_raw"`
		DateTime      string `json:"date_time,omitempty"`
		PaymentMethod string `json:"payment_method"`
		TotalFee      string `json:"total_fee"`
		LineCount     int    `json:"line_count"`
	}{
		ReceiptNumber: r.ReceiptNumber,
		OfficeCode:    r.OfficeCode,
		Owner:         r.OwnerRaw,
		Customer:      r.CustomerRaw,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		DateTimeRaw:   r.DateTimeRaw,
		DateTime:      dateTime,
		PaymentMethod: r.PaymentMethod,
		TotalFee:      r.TotalFee.StringFixed(2),
		LineCount:     len(r.Lines),
	})
}

// ExternalRecordRow is one row of the line-of-business system export
type ExternalRecordRow struct {
	OfficeRaw    string `json:"office"`
	CaseYear     string `json:"case_year"`
	FirstNameRaw string `json:"first_name"`
	LastNameRaw  string `json:"last_name"`
	PreparerRaw  string `json:"preparer"`
	StatusRaw    string `json:"status"`
	SourceLine   int    `json:"source_line,omitempty"`
}

// ExternalRecord is a normalized external row. Index is its position in the
// input list and is the only identity a record has within a run.
type ExternalRecord struct {
	Index              int    `json:"index"`
	OfficeCode         string `json:"office_code"`
	CaseYear           string `json:"case_year"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	PreparerRaw        string `json:"preparer"`
	PreparerNormalized string `json:"-"`
	StatusRaw          string `json:"status"`
}

// Key returns the content fingerprint used to pin a record across runs.
// Status and preparer are left out because they change while a case is
// in flight.
func (e *ExternalRecord) Key() string {
	return RecordKey(e.OfficeCode, e.CaseYear, e.LastName, e.FirstName)
}

// CustomerName returns "first last" in normalized form
func (e *ExternalRecord) CustomerName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// RecordKey builds a record fingerprint from already-normalized fields
func RecordKey(office, caseYear, last, first string) string {
	return strings.Join([]string{office, strings.TrimSpace(caseYear), last, first}, "|")
}

// CandidateScore pairs a record with its affinity score for one receipt
type CandidateScore struct {
	Record *ExternalRecord `json:"record"`
	Score  int             `json:"score"`
}

// MarshalJSON adds the record key so operators can pin a candidate
func (c CandidateScore) MarshalJSON() ([]byte, error) {
	type alias struct {
		Record *ExternalRecord `json:"record"`
		Score  int             `json:"score"`
		Key    string          `json:"key"`
	}
	out := alias{Record: c.Record, Score: c.Score}
	if c.Record != nil {
		out.Key = c.Record.Key()
	}
	return json.Marshal(out)
}

// ConfidenceTier is a coarse bucket derived from a match score
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "High"
	ConfidenceMedium ConfidenceTier = "Medium"
	ConfidenceLow    ConfidenceTier = "Low"
)

// Issue labels an operational problem on an otherwise successful match
type Issue string

const (
	IssueNone            Issue = ""
	IssueNeedsCorrection Issue = "NeedsCorrection"
	IssueNotTransmitted  Issue = "NotTransmitted"
)

// String returns "None" for the empty issue so reports never print blanks
func (i Issue) String() string {
	if i == IssueNone {
		return "None"
	}
	return string(i)
}

// StatusKind is the recognised category of an external free-text status
type StatusKind string

const (
	StatusAccepted     StatusKind = "accepted"
	StatusTransmitted  StatusKind = "transmitted"
	StatusPaper        StatusKind = "paper"
	StatusRejected     StatusKind = "rejected"
	StatusInProgress   StatusKind = "in_progress"
	StatusComplete     StatusKind = "complete"
	StatusUnrecognized StatusKind = "unrecognized"
)

// ExceptionType is the reason a receipt was not cleanly assigned
type ExceptionType string

const (
	ExceptionWrongDate      ExceptionType = "WrongDate"
	ExceptionNoReturnFound  ExceptionType = "NoReturnFound"
	ExceptionAmbiguousMatch ExceptionType = "AmbiguousMatch"
)

// Outcome is the terminal state of a receipt within one run
type Outcome string

const (
	OutcomeWrongDateExcluded      Outcome = "WrongDateExcluded"
	OutcomeNoReturnFound          Outcome = "NoReturnFound"
	OutcomeAmbiguousMatch         Outcome = "AmbiguousMatch"
	OutcomeMatchedClean           Outcome = "Matched(Clean)"
	OutcomeMatchedNeedsCorrection Outcome = "Matched(NeedsCorrection)"
	OutcomeMatchedNotTransmitted  Outcome = "Matched(NotTransmitted)"
)

var outcomeSpellings = map[string]Outcome{
	"none":                   OutcomeMatchedClean,
	"clean":                  OutcomeMatchedClean,
	"matchedclean":           OutcomeMatchedClean,
	"needscorrection":        OutcomeMatchedNeedsCorrection,
	"matchedneedscorrection": OutcomeMatchedNeedsCorrection,
	"nottransmitted":         OutcomeMatchedNotTransmitted,
	"matchednottransmitted":  OutcomeMatchedNotTransmitted,
	"ambiguous":              OutcomeAmbiguousMatch,
	"ambiguousmatch":         OutcomeAmbiguousMatch,
	"noreturn":               OutcomeNoReturnFound,
	"noreturnfound":          OutcomeNoReturnFound,
	"wrongdate":              OutcomeWrongDateExcluded,
	"wrongdateexcluded":      OutcomeWrongDateExcluded,
}

var outcomeSeparators = strings.NewReplacer("-", "", "_", "", " ", "", "(", "", ")", "")

// ParseOutcome accepts the report and flag spellings of a terminal state,
// case-insensitively: "needs-correction", "NoReturnFound",
// "Matched(Clean)" and "none" (a clean match) are all understood.
func ParseOutcome(s string) (Outcome, error) {
	key := outcomeSeparators.Replace(strings.ToLower(strings.TrimSpace(s)))
	if outcome, ok := outcomeSpellings[key]; ok {
		return outcome, nil
	}
	return "", fmt.Errorf("unknown issue %q: must be none, needs-correction, not-transmitted, ambiguous, no-return-found or wrong-date", s)
}

// Match is a resolved receipt/record pair
type Match struct {
	Receipt      *Receipt        `json:"receipt"`
	Record       *ExternalRecord `json:"record"`
	Score        int             `json:"score"`
	Confidence   ConfidenceTier  `json:"confidence"`
	Issue        Issue           `json:"issue,omitempty"`
	StatusKind   StatusKind      `json:"status_kind"`
	CodeMismatch bool            `json:"code_mismatch"`
	Overridden   bool            `json:"overridden,omitempty"`
}

// Outcome returns the terminal state for the matched receipt
func (m *Match) Outcome() Outcome {
	switch m.Issue {
	case IssueNeedsCorrection:
		return OutcomeMatchedNeedsCorrection
	case IssueNotTransmitted:
		return OutcomeMatchedNotTransmitted
	default:
		return OutcomeMatchedClean
	}
}

// Exception is a receipt that needs manual resolution
type Exception struct {
	Type       ExceptionType    `json:"type"`
	Receipt    *Receipt         `json:"receipt"`
	Candidates []CandidateScore `json:"candidates"`
}

// Outcome returns the terminal state for the excepted receipt
func (e *Exception) Outcome() Outcome {
	switch e.Type {
	case ExceptionWrongDate:
		return OutcomeWrongDateExcluded
	case ExceptionAmbiguousMatch:
		return OutcomeAmbiguousMatch
	default:
		return OutcomeNoReturnFound
	}
}

// ParseDecimalFromString parses a fee amount, tolerating currency symbols,
// thousands separators and accounting-style parentheses
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
