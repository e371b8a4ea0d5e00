// Package reconciler runs fee receipts against an external record export.
//
// Reconcile is the pure entry point: two in-memory lists and an optional run
// date in, matches, exceptions and summary counts out. Service wraps it with
// file loading, stored overrides and stage timing for the CLI.
//
// Example usage:
//
//	result := reconciler.Reconcile(lines, rows, &runDate, &reconciler.Options{FeeCategory: "tax prep"})
//	if !result.Ran {
//		// nothing to reconcile
//	}
//	report := result.Report(reporter.Filter{Office: "CA010"})
package reconciler

import (
	"time"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
	"receipt-reconciliation-service/internal/receipts"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/logger"
)

// Options tunes a single run
type Options struct {
	// FeeCategory keeps only receipt lines of this category; empty keeps all
	FeeCategory string

	// Matching holds the resolver thresholds; nil means the defaults
	Matching *matcher.MatchingConfig

	// Pins are operator overrides applied before automatic matching
	Pins []matcher.Pin
}

// Result is the complete outcome of one run
type Result struct {
	// Ran is false when there were no receipts or no external records
	Ran bool `json:"ran"`

	RunDate *time.Time `json:"run_date,omitempty"`

	Receipts []*models.Receipt        `json:"-"`
	Records  []*models.ExternalRecord `json:"-"`

	Matches    []*models.Match     `json:"matches"`
	Exceptions []*models.Exception `json:"exceptions"`
	Summary    reporter.Summary    `json:"summary"`
	Warnings   []matcher.Warning   `json:"warnings,omitempty"`

	AggregatorStats receipts.Stats        `json:"aggregator_stats"`
	ResolverStats   matcher.ResolverStats `json:"resolver_stats"`
}

// Reconcile aggregates receipt lines, normalizes record rows and assigns
// receipts to records. It performs no I/O and keeps no state between calls,
// so identical input always yields identical output.
func Reconcile(lines []models.ReceiptLine, rows []models.ExternalRecordRow, runDate *time.Time, opts *Options) *Result {
	if opts == nil {
		opts = &Options{}
	}
	config := opts.Matching
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	log := logger.GetGlobalLogger().WithComponent("reconciler")

	receiptList, aggStats := receipts.NewAggregator(opts.FeeCategory).Aggregate(lines)
	records := normalize.Records(rows)

	for _, receipt := range receiptList {
		if err := receipt.Validate(); err != nil {
			log.WithError(err).Warn("Receipt failed validation")
		}
	}

	result := &Result{
		RunDate:         runDate,
		Receipts:        receiptList,
		Records:         records,
		Matches:         []*models.Match{},
		Exceptions:      []*models.Exception{},
		AggregatorStats: aggStats,
	}

	result.Summary = reporter.Summarize(len(receiptList), len(records), nil, nil)
	if !result.Summary.Ran {
		log.WithFields(logger.Fields{
			"receipts": len(receiptList),
			"records":  len(records),
		}).Warn("Reconciliation not run: an input list is empty")
		return result
	}
	result.Ran = true

	result.Warnings = matcher.NewEdgeCaseHandler(config).Warnings(receiptList, records)

	assignment := matcher.NewResolver(config).Assign(matcher.Request{
		Receipts: receiptList,
		Records:  records,
		RunDate:  runDate,
		Pins:     opts.Pins,
	})
	if assignment.Matches != nil {
		result.Matches = assignment.Matches
	}
	if assignment.Exceptions != nil {
		result.Exceptions = assignment.Exceptions
	}
	result.ResolverStats = assignment.Stats
	result.Summary = reporter.Summarize(len(receiptList), len(records), result.Matches, result.Exceptions)

	log.WithFields(logger.Fields{
		"receipts":   result.Summary.ExpectedReceipts,
		"records":    result.Summary.ExternalRecords,
		"matched":    result.Summary.Matched,
		"exceptions": result.Summary.Exceptions,
		"wrong_date": result.Summary.WrongDate,
	}).Info("Reconciliation completed")

	return result
}

// Report builds the presentation view of the result
func (r *Result) Report(filter reporter.Filter) *reporter.Report {
	report := reporter.NewReport(r.Summary, r.Matches, r.Exceptions, filter)
	if r.RunDate != nil {
		report.RunDate = r.RunDate.Format("2006-01-02")
	}
	report.Warnings = r.Warnings
	return report
}

// Outcomes maps every receipt number to its terminal state
func (r *Result) Outcomes() map[string]models.Outcome {
	out := make(map[string]models.Outcome, len(r.Matches)+len(r.Exceptions))
	for _, m := range r.Matches {
		out[m.Receipt.ReceiptNumber] = m.Outcome()
	}
	for _, e := range r.Exceptions {
		out[e.Receipt.ReceiptNumber] = e.Outcome()
	}
	return out
}
