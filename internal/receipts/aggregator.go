// Package receipts groups raw fee line items into one canonical Receipt per
// receipt number.
package receipts

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
	"receipt-reconciliation-service/pkg/logger"
)

// Stats describes what the aggregator kept and dropped
type Stats struct {
	LinesSeen          int `json:"lines_seen"`
	LinesInCategory    int `json:"lines_in_category"`
	LinesWithoutNumber int `json:"lines_without_number"`
	Receipts           int `json:"receipts"`
}

// Aggregator builds receipts from fee lines of one category
type Aggregator struct {
	category string
	logger   logger.Logger
}

// NewAggregator creates an aggregator for the given fee category. An empty
// category keeps every line.
func NewAggregator(category string) *Aggregator {
	return &Aggregator{
		category: normalize.Category(category),
		logger:   logger.GetGlobalLogger().WithComponent("aggregator"),
	}
}

// Aggregate is a convenience wrapper around NewAggregator(category).Aggregate
func Aggregate(lines []models.ReceiptLine, category string) []*models.Receipt {
	receipts, _ := NewAggregator(category).Aggregate(lines)
	return receipts
}

// Aggregate filters lines to the fee category, groups them by receipt number
// and sums their fees. Descriptive fields come from the first line of each
// group. The result is sorted by office, normalized owner and receipt number.
func (a *Aggregator) Aggregate(lines []models.ReceiptLine) ([]*models.Receipt, Stats) {
	stats := Stats{LinesSeen: len(lines)}
	byNumber := make(map[string]*models.Receipt)
	var receipts []*models.Receipt

	for _, line := range lines {
		if !a.inCategory(line.CategoryRaw) {
			continue
		}
		stats.LinesInCategory++

		number := strings.TrimSpace(line.ReceiptNumber)
		if number == "" {
			stats.LinesWithoutNumber++
			a.logger.WithFields(logger.Fields{
				"source_line": line.SourceLine,
				"customer":    line.CustomerRaw,
			}).Warn("Skipping fee line without receipt number")
			continue
		}

		receipt, ok := byNumber[number]
		if !ok {
			receipt = newReceipt(number, line)
			byNumber[number] = receipt
			receipts = append(receipts, receipt)
		}
		receipt.Lines = append(receipt.Lines, line)
		receipt.TotalFee = receipt.TotalFee.Add(line.FeeAmount)
	}

	sort.SliceStable(receipts, func(i, j int) bool {
		ri, rj := receipts[i], receipts[j]
		if ri.OfficeCode != rj.OfficeCode {
			return ri.OfficeCode < rj.OfficeCode
		}
		if ri.OwnerNormalized != rj.OwnerNormalized {
			return ri.OwnerNormalized < rj.OwnerNormalized
		}
		return ri.ReceiptNumber < rj.ReceiptNumber
	})

	stats.Receipts = len(receipts)
	a.logger.WithFields(logger.Fields{
		"lines":       stats.LinesSeen,
		"in_category": stats.LinesInCategory,
		"receipts":    stats.Receipts,
	}).Debug("Aggregated fee lines")

	return receipts, stats
}

func (a *Aggregator) inCategory(raw string) bool {
	if a.category == "" {
		return true
	}
	return strings.Contains(normalize.Category(raw), a.category)
}

func newReceipt(number string, first models.ReceiptLine) *models.Receipt {
	firstName, lastName := normalize.SplitCustomerName(first.CustomerRaw)
	receipt := &models.Receipt{
		ReceiptNumber:   number,
		OfficeCode:      normalize.OfficeCode(first.OfficeRaw),
		OwnerRaw:        strings.TrimSpace(first.OwnerRaw),
		OwnerNormalized: normalize.Name(first.OwnerRaw),
		CustomerRaw:     strings.TrimSpace(first.CustomerRaw),
		FirstName:       firstName,
		LastName:        lastName,
		DateTimeRaw:     strings.TrimSpace(first.DateTimeRaw),
		PaymentMethod:   strings.TrimSpace(first.MethodRaw),
		TotalFee:        decimal.Zero,
	}
	if t, ok := normalize.ParseDateTime(first.DateTimeRaw); ok {
		receipt.DateTime = &t
	}
	return receipt
}
