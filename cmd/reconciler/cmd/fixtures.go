package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/scenario"
	"receipt-reconciliation-service/pkg/errors"
)

var (
	fixtureSeed     uint64
	fixtureReceipts int
	fixtureRunDate  string
	fixtureCategory string
	fixtureCaseYear string
	fixtureOutDir   string
	fixtureVerify   bool
)

var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Generate receipt and record exports with known outcomes",
	Long: `Fixtures writes receipts.csv and records.csv into --out-dir. Every generated
receipt is built to reach one known state, so the files exercise clean matches,
status exceptions, medium-confidence matches, wrong-date receipts, missing
returns and ambiguous candidates. The same seed always yields the same files.

With --verify the generated data is reconciled in memory and every receipt
whose state differs from the generated one is listed.`,
	Example: `  reconciler fixtures --out-dir fixtures --receipts 500 --seed 7
  reconciler fixtures --out-dir /tmp/fx --verify`,
	Args: cobra.NoArgs,
	RunE: runFixtures,
}

func init() {
	rootCmd.AddCommand(fixturesCmd)

	defaults := scenario.DefaultConfig()
	flags := fixturesCmd.Flags()
	flags.Uint64Var(&fixtureSeed, "seed", defaults.Seed, "random seed")
	flags.IntVarP(&fixtureReceipts, "receipts", "n", defaults.Receipts, "number of receipts to generate")
	flags.StringVarP(&fixtureRunDate, "run-date", "d", defaults.RunDate.Format("2006-01-02"), "run date (YYYY-MM-DD)")
	flags.StringVar(&fixtureCategory, "fee-category", defaults.FeeCategory, "fee category of the reconciled lines")
	flags.StringVar(&fixtureCaseYear, "case-year", defaults.CaseYear, "case year written to every record")
	flags.StringVar(&fixtureOutDir, "out-dir", "", "directory to write the exports to (required)")
	flags.BoolVar(&fixtureVerify, "verify", false, "reconcile the generated data and report mismatches")

	_ = fixturesCmd.MarkFlagRequired("out-dir")
}

func runFixtures(cmd *cobra.Command, args []string) error {
	day, err := time.Parse("2006-01-02", fixtureRunDate)
	if err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "run-date", fixtureRunDate, err).
			WithSuggestion("Use the YYYY-MM-DD format, e.g. 2024-03-15")
	}

	s, err := scenario.Generate(scenario.Config{
		Seed:        fixtureSeed,
		Receipts:    fixtureReceipts,
		RunDate:     day,
		FeeCategory: fixtureCategory,
		CaseYear:    fixtureCaseYear,
	})
	if err != nil {
		return err
	}

	receiptsPath, recordsPath, err := s.WriteCSV(fixtureOutDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%d lines)\n", receiptsPath, len(s.Lines))
	fmt.Fprintf(out, "Wrote %s (%d rows)\n", recordsPath, len(s.Rows))
	printKindCounts(out, s)

	if !fixtureVerify {
		return nil
	}
	return verifyScenario(out, s)
}

func printKindCounts(w io.Writer, s *scenario.Scenario) {
	for _, kind := range []scenario.Kind{
		scenario.KindClean, scenario.KindNeedsCorrection, scenario.KindNotTransmitted,
		scenario.KindMediumMatch, scenario.KindWrongDate, scenario.KindNoReturn, scenario.KindAmbiguous,
	} {
		fmt.Fprintf(w, "  %-17s %d\n", kind, s.Count(kind))
	}
}

func verifyScenario(w io.Writer, s *scenario.Scenario) error {
	result := reconciler.Reconcile(s.Lines, s.Rows, &s.Config.RunDate, &reconciler.Options{FeeCategory: s.Config.FeeCategory})

	mismatches := s.Verify(result.Outcomes())
	if len(mismatches) == 0 {
		fmt.Fprintf(w, "Verified %d receipts: every outcome as generated\n", len(s.Kinds))
		return nil
	}

	for _, m := range mismatches {
		fmt.Fprintf(w, "  %s\n", m)
	}
	return errors.New(errors.CategoryReconciliation, errors.CodeProcessingError,
		fmt.Sprintf("%d of %d receipts reached an unexpected state", len(mismatches), len(s.Kinds)))
}
