package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/models"
)

func TestOfficeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CA010", "CA010"},
		{"Office ca-010 (Main St)", "CA010"},
		{"tx 123 downtown", "TX123"},
		{"#NY204", "NY204"},
		{"CA01", ""},
		{"CA0101", ""},
		{"no office here", ""},
		{"Office_CA010", "CA010"},
		{"CA010_Main", "CA010"},
		{"ÉCA010", ""},
		{"CA010é", ""},
		{"1CA010", ""},
		{"Zürich ZH100", "ZH100"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, OfficeCode(tt.in))
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "SMITH", "smith"},
		{"collapses whitespace", "  Mary   Ann\tLee ", "mary ann lee"},
		{"keeps hyphen and apostrophe", "O'Brien-Smith", "o'brien-smith"},
		{"typographic apostrophe", "D’Angelo", "d'angelo"},
		{"strips punctuation", "Smith, Jr.", "smith jr"},
		{"unicode letters", "JOSÉ Núñez", "josé núñez"},
		{"fullwidth folded", "Ｊｏｈｎ", "john"},
		{"only punctuation", " ... ", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.in))
		})
	}
}

func TestSplitCustomerName(t *testing.T) {
	tests := []struct {
		in        string
		wantFirst string
		wantLast  string
	}{
		{"Smith, John", "john", "smith"},
		{"John Smith", "john", "smith"},
		{"Mary Ann Van Dyke", "mary", "ann van dyke"},
		{"Cher", "", "cher"},
		{", John", "john", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			first, last := SplitCustomerName(tt.in)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}

func TestInitial(t *testing.T) {
	assert.Equal(t, "j", Initial("john"))
	assert.Equal(t, "é", Initial("émile"))
	assert.Equal(t, "", Initial(""))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "in progress", Status(" In_Progress "))
	assert.Equal(t, "e file accepted", Status("E-File  Accepted"))
	assert.Equal(t, "", Status("   "))
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		in      string
		ok      bool
		wantDay string
	}{
		{"2025-04-02 09:15", true, "2025-04-02"},
		{"2025-04-02T09:15:00-07:00", true, "2025-04-02"},
		{"2025-04-02", true, "2025-04-02"},
		{"04/02/2025", true, "2025-04-02"},
		{"4/2/2025  9:15 AM", true, "2025-04-02"},
		{"Apr 2, 2025", true, "2025-04-02"},
		{"yesterday", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDateTime(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.wantDay, got.Format("2006-01-02"))
			}
		})
	}
}

func TestSameDay(t *testing.T) {
	day, ok := ParseDay("2025-04-01")
	require.True(t, ok)

	late := time.Date(2025, 4, 1, 23, 59, 0, 0, time.FixedZone("PDT", -7*3600))
	assert.True(t, SameDay(late, day))
	assert.False(t, SameDay(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), day))

	_, ok = ParseDay("04/01/2025")
	assert.False(t, ok)
}

func TestRecords(t *testing.T) {
	rows := []models.ExternalRecordRow{
		{OfficeRaw: "CA-010", CaseYear: " 2024", FirstNameRaw: "John", LastNameRaw: "SMITH", PreparerRaw: " Jane Roe ", StatusRaw: " Accepted "},
		{OfficeRaw: "unknown", LastNameRaw: "Lee"},
	}

	records := Records(rows)
	require.Len(t, records, 2)

	assert.Equal(t, 0, records[0].Index)
	assert.Equal(t, "CA010", records[0].OfficeCode)
	assert.Equal(t, "2024", records[0].CaseYear)
	assert.Equal(t, "john", records[0].FirstName)
	assert.Equal(t, "smith", records[0].LastName)
	assert.Equal(t, "Jane Roe", records[0].PreparerRaw)
	assert.Equal(t, "jane roe", records[0].PreparerNormalized)
	assert.Equal(t, "Accepted", records[0].StatusRaw)

	assert.Equal(t, 1, records[1].Index)
	assert.Equal(t, "", records[1].OfficeCode)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "smith, john", Fold("  SMITH,   John "))
	assert.Equal(t, "r-1001", Fold("R-1001"))
	assert.Equal(t, "", Fold("   "))
}
