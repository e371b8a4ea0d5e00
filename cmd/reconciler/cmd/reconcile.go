package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/overrides"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/reconciler"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	receiptsFile string
	recordsFile  string
	runDate      string
	feeCategory  string
	preset       string
	outputFormat string
	outputFile   string
	csvDelimiter string

	// Report filters
	filterOffice     string
	filterOwner      string
	filterCaseYear   string
	filterIssue      string
	filterSearch     string
	codeMismatchOnly bool
	hideWrongDate    bool

	// settings is resolved by validateReconcileFlags
	settings *config.Settings
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile fee receipts with external records",
	Long: `Reconcile groups receipt lines into receipts, scores every receipt against
the external records, and assigns each receipt to at most one record.

Every receipt ends in exactly one state: WrongDateExcluded, NoReturnFound,
AmbiguousMatch, or Matched (clean, NeedsCorrection or NotTransmitted).

Inputs may be CSV, JSON or HTML table exports; the format follows the file
extension.

Examples:
  # One day's receipts
  reconciler reconcile --receipts receipts.csv --records returns.csv --run-date 2024-03-15

  # Only one office, as JSON
  reconciler reconcile --receipts receipts.csv --records returns.csv \
    --office CA010 --output-format json --output-file report.json

  # Matches whose return needs correction, applying stored overrides
  reconciler reconcile --receipts receipts.csv --records returns.csv --run-date 2024-03-15 \
    --issue needs-correction --overrides-db overrides.db

  # Receipts that found no return and need an operator
  reconciler reconcile --receipts receipts.csv --records returns.csv --run-date 2024-03-15 \
    --issue no-return-found`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()

	// Inputs
	flags.StringVarP(&receiptsFile, config.KeyReceipts, "r", "", "receipt line export: .csv, .json, .html (required)")
	flags.StringVarP(&recordsFile, config.KeyRecords, "e", "", "external record export: .csv, .json, .html (required)")
	flags.StringVarP(&runDate, config.KeyRunDate, "d", "", "only receipts of this day count (YYYY-MM-DD)")
	flags.StringVar(&feeCategory, config.KeyFeeCategory, config.DefaultFeeCategory,
		`receipt line category to reconcile; --fee-category "" sums every line into the receipt`)
	flags.StringVar(&preset, config.KeyPreset, "default", "matching preset: default, strict, relaxed")

	// Output
	flags.StringVarP(&outputFormat, "output-format", "f", config.DefaultOutputType, "output format: console, json, csv")
	flags.StringVarP(&outputFile, config.KeyOutputFile, "o", "", "output file path (default: stdout)")
	flags.StringVar(&csvDelimiter, config.KeyCSVDelimiter, ",", "CSV field separator")

	// Filters
	flags.StringVar(&filterOffice, config.KeyOffice, "", "show only receipts of this office")
	flags.StringVar(&filterOwner, config.KeyOwner, "", "show only receipts of this owner")
	flags.StringVar(&filterCaseYear, config.KeyCaseYear, "", "show only matches to records of this case year")
	flags.StringVar(&filterIssue, config.KeyIssue, "",
		"show only receipts in this state: none, needs-correction, not-transmitted, ambiguous, no-return-found, wrong-date")
	flags.StringVar(&filterSearch, config.KeySearch, "", "case-insensitive search in customer, receipt number and owner")
	flags.BoolVar(&codeMismatchOnly, config.KeyCodeMismatch, false, "show only matches whose preparer differs from the owner")
	flags.BoolVar(&hideWrongDate, config.KeyHideWrongDate, false, "hide receipts excluded by the run date")

	reconcileCmd.MarkFlagRequired(config.KeyReceipts)
	reconcileCmd.MarkFlagRequired(config.KeyRecords)

	// Bind flags to viper
	cobra.CheckErr(config.BindFlags(viper.GetViper(), flags,
		config.KeyReceipts, config.KeyRecords, config.KeyRunDate, config.KeyFeeCategory, config.KeyPreset,
		config.KeyOutputFile, config.KeyCSVDelimiter,
		config.KeyOffice, config.KeyOwner, config.KeyCaseYear, config.KeyIssue, config.KeySearch,
		config.KeyCodeMismatch, config.KeyHideWrongDate,
	))
	cobra.CheckErr(viper.BindPFlag(config.KeyOutputFormat, flags.Lookup("output-format")))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Values come from viper so a config file or the environment can supply them
	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	if err := validateFileExists(loaded.ReceiptsFile, "receipt file"); err != nil {
		return err
	}
	if err := validateFileExists(loaded.RecordsFile, "record file"); err != nil {
		return err
	}

	if loaded.OutputFile != "" {
		dir := filepath.Dir(loaded.OutputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("Create the output directory first")
			}
		}
	}

	settings = loaded
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil, nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).WithContext("input", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("input", description)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeInvalidFormat, filePath, fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("input", description)
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.GetGlobalLogger().WithComponent("cli")

	if settings == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "reconcile", fmt.Errorf("settings were not resolved"))
	}

	log.WithFields(logger.Fields{
		"receipts":     settings.ReceiptsFile,
		"records":      settings.RecordsFile,
		"fee_category": settings.FeeCategory,
		"preset":       settings.Preset,
		"format":       settings.Report.Format,
	}).Debug("Starting reconciliation")

	var pins reconciler.PinSource
	if settings.OverridesDB != "" {
		store, err := overrides.Open(ctx, settings.OverridesDB)
		if err != nil {
			return err
		}
		defer store.Close()
		pins = store
	}

	serviceConfig := reconciler.DefaultConfig()
	serviceConfig.FeeCategory = settings.FeeCategory
	serviceConfig.Matching = settings.Matching

	service, err := reconciler.NewService(serviceConfig, pins)
	if err != nil {
		return err
	}

	run, err := service.Run(ctx, reconciler.Request{
		ReceiptsFile: settings.ReceiptsFile,
		RecordsFile:  settings.RecordsFile,
		RunDate:      settings.RunDate,
	})
	if err != nil {
		return err
	}

	if viper.GetBool(config.KeyVerbose) {
		printSkippedRows(cmd.ErrOrStderr(), "receipt", run.ReceiptStats)
		printSkippedRows(cmd.ErrOrStderr(), "record", run.RecordStats)
	}

	report := service.Report(run, settings.Filter)
	generator, err := reporter.NewSafeReportGenerator(settings.Report, log)
	if err != nil {
		return err
	}

	if settings.OutputFile != "" {
		if err := generator.WriteFile(report, settings.OutputFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", settings.OutputFile)
		return nil
	}

	return generator.GenerateReportSafely(report, cmd.OutOrStdout())
}

func printSkippedRows(w io.Writer, kind string, stats *parsers.ParseStats) {
	if stats == nil {
		return
	}
	if text := FormatParseSamples(kind, stats.ErrorCount, stats.GetSampleErrors(5)); text != "" {
		fmt.Fprintln(w, text)
	}
}
