package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// exitCancelled follows the shell convention for a SIGINT exit
const exitCancelled = 130

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool(config.KeyVerbose),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if errors.HasCode(err, errors.CodeCancelled) {
		fmt.Fprintln(h.out, "Cancelled; no report was written")
		return exitCancelled
	}

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			if value := err.Context[key]; value != nil {
				fmt.Fprintf(h.out, "  %s: %v\n", key, value)
			}
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// osFailure recognises an operating-system error that escaped without a
// ReconcilerError wrapper
type osFailure struct {
	target     error
	substrings []string
	message    string
	suggestion string
}

var osFailures = []osFailure{
	{os.ErrNotExist, []string{"no such file or directory"},
		"File not found", "Check the --receipts, --records and --config paths"},
	{os.ErrPermission, []string{"permission denied", "access denied"},
		"Permission denied", "Check that the exports are readable and the output directory is writable"},
	{syscall.ENOSPC, []string{"no space left", "disk full", "device full"},
		"Insufficient disk space", "Free up disk space and try again"},
}

// handleGenericError handles errors that are not ReconcilerErrors
func (h *CLIErrorHandler) handleGenericError(err error) int {
	text := strings.ToLower(err.Error())
	for _, f := range osFailures {
		if !stderrors.Is(err, f.target) && !containsAny(text, f.substrings) {
			continue
		}
		fmt.Fprintf(h.out, "Error: %s\n", f.message)
		fmt.Fprintf(h.out, "Suggestion: %s\n", f.suggestion)
		if h.verbose {
			fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err)
		}
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

func containsAny(text string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(text, sub) {
			return true
		}
	}
	return false
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the receipt and record exports exist and are readable
• Supported extensions are .csv, .json, .html and .htm
• Use absolute paths if the command runs from another directory`

	case errors.CategoryParse:
		return `Parse error help:
• Check that the header row names the receipt number, office, customer,
  fee category, amount and date/time columns (records: office, last name, status)
• Save exports as UTF-8
• JSON inputs must be an array of objects`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required flags have values
• Run dates use YYYY-MM-DD
• Case years are four digits`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Use 'reconciler reconcile --help' to see all available options
• Run 'reconciler config init' to write a config file with valid defaults
• Environment variables use the RECONCILER_ prefix, e.g. RECONCILER_FEE_CATEGORY`

	case errors.CategoryStorage:
		return `Override store help:
• Check that the --overrides-db file is writable
• Another reconciler process may hold the lock; retry in a moment
• List stored overrides with 'reconciler override list'`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Try a different matching preset (--preset strict|relaxed)
• Check that both exports cover the same offices and tax year`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler reconcile --help' for command-specific help`
	}
}

// FormatParseSamples lists the first rows an input parser skipped
func FormatParseSamples(kind string, skipped int, samples []string) string {
	if skipped == 0 {
		return ""
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("Skipped %d %s row(s):", skipped, kind))
	for i, sample := range samples {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, sample))
	}
	if skipped > len(samples) {
		lines = append(lines, fmt.Sprintf("  ... and %d more", skipped-len(samples)))
	}

	return strings.Join(lines, "\n")
}
