package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReceipt() *Receipt {
	at := time.Date(2024, 4, 1, 10, 30, 0, 0, time.UTC)
	return &Receipt{
		ReceiptNumber:   "R100",
		OfficeCode:      "CA010",
		OwnerRaw:        "Jane Roe",
		OwnerNormalized: "jane roe",
		CustomerRaw:     "John Smith",
		FirstName:       "john",
		LastName:        "smith",
		DateTimeRaw:     "2024-04-01 10:30",
		DateTime:        &at,
		PaymentMethod:   "Card",
		TotalFee:        decimal.RequireFromString("250.00"),
		Lines: []ReceiptLine{
			{ReceiptNumber: "R100", FeeAmount: decimal.RequireFromString("200.00")},
			{ReceiptNumber: "R100", FeeAmount: decimal.RequireFromString("50.00")},
		},
	}
}

func TestReceiptValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Receipt)
		wantErr string
	}{
		{"valid", func(r *Receipt) {}, ""},
		{"empty number", func(r *Receipt) { r.ReceiptNumber = " " }, "receipt number cannot be empty"},
		{"no lines", func(r *Receipt) { r.Lines = nil }, "has no source lines"},
		{"total drift", func(r *Receipt) { r.TotalFee = decimal.RequireFromString("249.99") }, "does not equal line sum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReceipt()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReceiptHelpers(t *testing.T) {
	r := newTestReceipt()
	assert.Equal(t, "john smith", r.CustomerName())
	assert.Equal(t, "2024-04-01", r.Day())
	assert.True(t, r.LineTotal().Equal(decimal.RequireFromString("250")))

	r.DateTime = nil
	assert.Equal(t, "", r.Day())
}

func TestReceiptMarshalJSON(t *testing.T) {
	data, err := json.Marshal(newTestReceipt())
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "R100", got["receipt_number"])
	assert.Equal(t, "250.00", got["total_fee"])
	assert.Equal(t, "2024-04-01T10:30:00Z", got["date_time"])
	assert.EqualValues(t, 2, got["line_count"])
}

func TestExternalRecordKey(t *testing.T) {
	rec := &ExternalRecord{OfficeCode: "CA010", CaseYear: " 2024 ", FirstName: "john", LastName: "smith", StatusRaw: "Accepted"}
	assert.Equal(t, "CA010|2024|smith|john", rec.Key())

	changed := *rec
	changed.StatusRaw = "Rejected"
	changed.PreparerRaw = "Someone Else"
	assert.Equal(t, rec.Key(), changed.Key())
}

func TestCandidateScoreMarshalIncludesKey(t *testing.T) {
	c := CandidateScore{Record: &ExternalRecord{Index: 3, OfficeCode: "CA010", CaseYear: "2024", FirstName: "ann", LastName: "lee"}, Score: 95}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"key":"CA010|2024|lee|ann"`)
	assert.Contains(t, string(data), `"score":95`)
}

func TestIssueString(t *testing.T) {
	assert.Equal(t, "None", IssueNone.String())
	assert.Equal(t, "NotTransmitted", IssueNotTransmitted.String())
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		in      string
		want    Outcome
		wantErr bool
	}{
		{"none", OutcomeMatchedClean, false},
		{"Matched(Clean)", OutcomeMatchedClean, false},
		{"Needs-Correction", OutcomeMatchedNeedsCorrection, false},
		{"NotTransmitted", OutcomeMatchedNotTransmitted, false},
		{"no-return-found", OutcomeNoReturnFound, false},
		{" NoReturnFound ", OutcomeNoReturnFound, false},
		{"ambiguous", OutcomeAmbiguousMatch, false},
		{"AmbiguousMatch", OutcomeAmbiguousMatch, false},
		{"wrong_date", OutcomeWrongDateExcluded, false},
		{"bogus", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutcome(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutcomeSpellingsRoundTrip(t *testing.T) {
	for _, outcome := range []Outcome{
		OutcomeMatchedClean, OutcomeMatchedNeedsCorrection, OutcomeMatchedNotTransmitted,
		OutcomeAmbiguousMatch, OutcomeNoReturnFound, OutcomeWrongDateExcluded,
	} {
		got, err := ParseOutcome(string(outcome))
		require.NoError(t, err)
		assert.Equal(t, outcome, got)
	}
}

func TestOutcomes(t *testing.T) {
	assert.Equal(t, OutcomeMatchedClean, (&Match{}).Outcome())
	assert.Equal(t, OutcomeMatchedNeedsCorrection, (&Match{Issue: IssueNeedsCorrection}).Outcome())
	assert.Equal(t, OutcomeMatchedNotTransmitted, (&Match{Issue: IssueNotTransmitted}).Outcome())

	assert.Equal(t, OutcomeWrongDateExcluded, (&Exception{Type: ExceptionWrongDate}).Outcome())
	assert.Equal(t, OutcomeAmbiguousMatch, (&Exception{Type: ExceptionAmbiguousMatch}).Outcome())
	assert.Equal(t, OutcomeNoReturnFound, (&Exception{Type: ExceptionNoReturnFound}).Outcome())
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"100.50", "100.5", false},
		{"$1,250.00", "1250", false},
		{" 35 ", "35", false},
		{"(25.00)", "-25", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)), "got %s", got)
		})
	}
}
