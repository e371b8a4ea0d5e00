package reporter

import (
	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
)

// Summary holds the counts shown at the top of every report
type Summary struct {
	// Ran is false when either input list was empty
	Ran bool `json:"ran"`

	ExpectedReceipts int `json:"expected_receipts"`
	ExternalRecords  int `json:"external_records"`
	Matched          int `json:"matched"`

	// Exceptions excludes WrongDate, which is a pre-filter result and not a
	// reconciliation failure
	Exceptions      int `json:"exceptions"`
	WrongDate       int `json:"wrong_date"`
	NoReturnFound   int `json:"no_return_found"`
	Ambiguous       int `json:"ambiguous"`
	NotTransmitted  int `json:"not_transmitted"`
	NeedsCorrection int `json:"needs_correction"`
	Overridden      int `json:"overridden"`
	CodeMismatches  int `json:"code_mismatches"`

	MatchedFees   decimal.Decimal `json:"matched_fees"`
	UnmatchedFees decimal.Decimal `json:"unmatched_fees"`
}

// Summarize counts the outcomes of one run. receipts and records are the
// sizes of the two input lists after aggregation and normalization.
func Summarize(receipts, records int, matches []*models.Match, exceptions []*models.Exception) Summary {
	s := Summary{
		Ran:              receipts > 0 && records > 0,
		ExpectedReceipts: receipts,
		ExternalRecords:  records,
		Matched:          len(matches),
		MatchedFees:      decimal.Zero,
		UnmatchedFees:    decimal.Zero,
	}

	for _, m := range matches {
		switch m.Issue {
		case models.IssueNotTransmitted:
			s.NotTransmitted++
		case models.IssueNeedsCorrection:
			s.NeedsCorrection++
		}
		if m.Overridden {
			s.Overridden++
		}
		if m.CodeMismatch {
			s.CodeMismatches++
		}
		s.MatchedFees = s.MatchedFees.Add(m.Receipt.TotalFee)
	}

	for _, e := range exceptions {
		switch e.Type {
		case models.ExceptionWrongDate:
			s.WrongDate++
			continue
		case models.ExceptionAmbiguousMatch:
			s.Ambiguous++
		case models.ExceptionNoReturnFound:
			s.NoReturnFound++
		}
		s.Exceptions++
		s.UnmatchedFees = s.UnmatchedFees.Add(e.Receipt.TotalFee)
	}

	return s
}

// InScope is the number of receipts that took part in matching
func (s Summary) InScope() int {
	return s.ExpectedReceipts - s.WrongDate
}

// MatchRate is the matched share of in-scope receipts, in percent
func (s Summary) MatchRate() float64 {
	return percentage(s.Matched, s.InScope())
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
