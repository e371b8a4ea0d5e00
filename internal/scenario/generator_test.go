package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
	"receipt-reconciliation-service/internal/parsers"
)

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(DefaultConfig())
	require.NoError(t, err)
	b, err := Generate(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Lines, b.Lines)
	assert.Equal(t, a.Rows, b.Rows)
	assert.Equal(t, a.Kinds, b.Kinds)

	cfg := DefaultConfig()
	cfg.Seed = 2
	c, err := Generate(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Rows, c.Rows)
}

func TestGenerateCoversEveryKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receipts = 300
	s, err := Generate(cfg)
	require.NoError(t, err)

	require.Len(t, s.Kinds, 300)
	for _, kw := range kindWeights {
		assert.Positive(t, s.Count(kw.kind), "no receipts of kind %s", kw.kind)
	}

	expectedRows := 0
	for _, kind := range s.Kinds {
		switch kind {
		case KindNoReturn:
		case KindAmbiguous:
			expectedRows += 2
		default:
			expectedRows++
		}
	}
	assert.Len(t, s.Rows, expectedRows)
}

func TestGeneratedNamesAreUnique(t *testing.T) {
	s, err := Generate(DefaultConfig())
	require.NoError(t, err)

	lastByReceipt := map[string]string{}
	for _, line := range s.Lines {
		_, last := normalize.SplitCustomerName(line.CustomerRaw)
		lastByReceipt[line.ReceiptNumber] = normalize.Name(last)
	}

	seen := map[string]string{}
	for number, last := range lastByReceipt {
		assert.Len(t, last, 8)
		if other, dup := seen[last]; dup {
			t.Fatalf("receipts %s and %s share last name %s", number, other, last)
		}
		seen[last] = number
	}
}

func TestGeneratedOfficesNormalize(t *testing.T) {
	s, err := Generate(DefaultConfig())
	require.NoError(t, err)

	for _, line := range s.Lines {
		assert.NotEmpty(t, normalize.OfficeCode(line.OfficeRaw), "office %q", line.OfficeRaw)
	}
	for _, row := range s.Rows {
		assert.Regexp(t, `^[A-Z]{2}\d{3}$`, row.OfficeRaw)
	}
}

func TestWrongDateReceiptsAreOnPreviousDay(t *testing.T) {
	s, err := Generate(DefaultConfig())
	require.NoError(t, err)

	runDate := s.Config.RunDate
	for _, line := range s.Lines {
		at, ok := normalize.ParseDateTime(line.DateTimeRaw)
		require.True(t, ok)
		if s.Kinds[line.ReceiptNumber] == KindWrongDate {
			assert.True(t, normalize.SameDay(at, runDate.AddDate(0, 0, -1)))
		} else {
			assert.True(t, normalize.SameDay(at, runDate))
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no receipts", func(c *Config) { c.Receipts = 0 }},
		{"too many receipts", func(c *Config) { c.Receipts = 5000 }},
		{"no fee category", func(c *Config) { c.FeeCategory = "" }},
		{"bad case year", func(c *Config) { c.CaseYear = "24" }},
		{"no run date", func(c *Config) { c.RunDate = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := Generate(cfg)
			assert.Error(t, err)
		})
	}
}

func TestWriteCSVParsesBack(t *testing.T) {
	s, err := Generate(DefaultConfig())
	require.NoError(t, err)

	receiptsPath, recordsPath, err := s.WriteCSV(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	lines, receiptStats, err := parsers.LoadReceiptLines(ctx, receiptsPath, parsers.DefaultReceiptParserConfig())
	require.NoError(t, err)
	assert.Zero(t, receiptStats.ErrorCount)
	require.Len(t, lines, len(s.Lines))
	assert.Equal(t, s.Lines[0].ReceiptNumber, lines[0].ReceiptNumber)
	assert.True(t, s.Lines[0].FeeAmount.Equal(lines[0].FeeAmount))

	rows, recordStats, err := parsers.LoadExternalRecords(ctx, recordsPath, parsers.DefaultRecordParserConfig())
	require.NoError(t, err)
	assert.Zero(t, recordStats.ErrorCount)
	assert.Len(t, rows, len(s.Rows))
}

func TestVerify(t *testing.T) {
	s := &Scenario{Kinds: map[string]Kind{
		"1": KindClean,
		"2": KindNoReturn,
		"3": KindAmbiguous,
	}}

	assert.Empty(t, s.Verify(s.Expected()))

	actual := s.Expected()
	actual["2"] = models.OutcomeMatchedClean
	delete(actual, "3")
	actual["9"] = models.OutcomeNoReturnFound

	mismatches := s.Verify(actual)
	require.Len(t, mismatches, 3)
	assert.Equal(t, "2", mismatches[0].ReceiptNumber)
	assert.Equal(t, models.OutcomeNoReturnFound, mismatches[0].Expected)
	assert.Equal(t, "3", mismatches[1].ReceiptNumber)
	assert.Empty(t, mismatches[1].Actual)
	assert.Equal(t, "9", mismatches[2].ReceiptNumber)
	assert.Contains(t, mismatches[0].String(), "expected")
}
