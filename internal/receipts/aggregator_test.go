package receipts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/models"
)

func line(number, office, owner, customer, category, fee string) models.ReceiptLine {
	return models.ReceiptLine{
		ReceiptNumber: number,
		OfficeRaw:     office,
		OwnerRaw:      owner,
		CustomerRaw:   customer,
		CategoryRaw:   category,
		FeeAmount:     decimal.RequireFromString(fee),
		DateTimeRaw:   "2025-04-01 09:30",
		MethodRaw:     "Card",
	}
}

func TestAggregateGroupsAndSums(t *testing.T) {
	lines := []models.ReceiptLine{
		line("R2", "CA010", "Jane Roe", "Smith, John", "Tax Preparation", "200.00"),
		line("R2", "CA010", "Jane Roe", "Smith, John", "tax preparation", "49.99"),
		line("R2", "CA010", "Jane Roe", "Smith, John", "Notary", "15.00"),
		line("R1", "CA010", "Jane Roe", "Ann Lee", "Tax Preparation - State", "75.00"),
	}

	receipts, stats := NewAggregator("tax preparation").Aggregate(lines)
	require.Len(t, receipts, 2)

	assert.Equal(t, "R1", receipts[0].ReceiptNumber)
	assert.Equal(t, "R2", receipts[1].ReceiptNumber)

	r2 := receipts[1]
	assert.True(t, r2.TotalFee.Equal(decimal.RequireFromString("249.99")), "total %s", r2.TotalFee)
	assert.Len(t, r2.Lines, 2)
	assert.NoError(t, r2.Validate())
	assert.Equal(t, "CA010", r2.OfficeCode)
	assert.Equal(t, "john", r2.FirstName)
	assert.Equal(t, "smith", r2.LastName)
	assert.Equal(t, "jane roe", r2.OwnerNormalized)
	require.NotNil(t, r2.DateTime)
	assert.Equal(t, "2025-04-01", r2.Day())

	assert.Equal(t, Stats{LinesSeen: 4, LinesInCategory: 3, Receipts: 2}, stats)
}

func TestAggregateSortOrder(t *testing.T) {
	lines := []models.ReceiptLine{
		line("R9", "TX200", "Adam", "A B", "fee", "1"),
		line("R3", "CA010", "Zoe", "C D", "fee", "1"),
		line("R5", "CA010", "Adam", "E F", "fee", "1"),
		line("R4", "CA010", "Adam", "G H", "fee", "1"),
	}

	receipts := Aggregate(lines, "")
	var got []string
	for _, r := range receipts {
		got = append(got, r.ReceiptNumber)
	}
	assert.Equal(t, []string{"R4", "R5", "R3", "R9"}, got)
}

func TestAggregateSkipsLinesWithoutNumber(t *testing.T) {
	lines := []models.ReceiptLine{
		line("  ", "CA010", "Jane", "John Smith", "fee", "10"),
		line("R1", "CA010", "Jane", "John Smith", "fee", "10"),
	}

	receipts, stats := NewAggregator("fee").Aggregate(lines)
	assert.Len(t, receipts, 1)
	assert.Equal(t, 1, stats.LinesWithoutNumber)
}

func TestAggregateMalformedFieldsDegrade(t *testing.T) {
	l := line("R1", "somewhere", "", "", "fee", "10")
	l.DateTimeRaw = "not a date"

	receipts := Aggregate([]models.ReceiptLine{l}, "fee")
	require.Len(t, receipts, 1)
	assert.Equal(t, "", receipts[0].OfficeCode)
	assert.Equal(t, "", receipts[0].LastName)
	assert.Nil(t, receipts[0].DateTime)
}

func TestAggregateEmpty(t *testing.T) {
	receipts, stats := NewAggregator("fee").Aggregate(nil)
	assert.Empty(t, receipts)
	assert.Zero(t, stats.Receipts)
}
