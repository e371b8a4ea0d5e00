package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/overrides"
	"receipt-reconciliation-service/pkg/errors"
)

var (
	overrideRunDate  string
	overrideReceipt  string
	overrideRecord   string
	overrideOperator string
	overrideNote     string
	overrideFormat   string
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Manage operator overrides",
	Long: `An override pins one receipt to one external record for a run date. Every
later reconcile of that date with --overrides-db applies the pin before
automatic matching, so the receipt is reported as an overridden match.

Record keys have the form OFFICE|case year|last name|first name with the names
normalized, exactly as printed in the Record_Key column of a CSV report.`,
}

var overrideAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Pin a receipt to a record",
	Example: `  reconciler override add --overrides-db overrides.db \
    --run-date 2024-03-15 --receipt 1004 --record "TX200|2024|ng|carl" --operator mlee`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOverrideStore(cmd, func(ctx context.Context, store *overrides.Store) error {
			return addOverride(ctx, store, overrides.Override{
				RunDate:       strings.TrimSpace(overrideRunDate),
				ReceiptNumber: strings.TrimSpace(overrideReceipt),
				RecordKey:     strings.TrimSpace(overrideRecord),
				Operator:      strings.TrimSpace(overrideOperator),
				Note:          strings.TrimSpace(overrideNote),
			}, cmd.OutOrStdout())
		})
	},
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOverrideStore(cmd, func(ctx context.Context, store *overrides.Store) error {
			return listOverrides(ctx, store, strings.TrimSpace(overrideRunDate), overrideFormat, cmd.OutOrStdout())
		})
	},
}

var overrideDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an override by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOverrideStore(cmd, func(ctx context.Context, store *overrides.Store) error {
			if err := store.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted override %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(overrideCmd)
	overrideCmd.AddCommand(overrideAddCmd, overrideListCmd, overrideDeleteCmd)

	addFlags := overrideAddCmd.Flags()
	addFlags.StringVar(&overrideRunDate, "run-date", "", "run date the pin applies to (YYYY-MM-DD, required)")
	addFlags.StringVar(&overrideReceipt, "receipt", "", "receipt number (required)")
	addFlags.StringVar(&overrideRecord, "record", "", "record key, e.g. CA010|2024|smith|john (required)")
	addFlags.StringVar(&overrideOperator, "operator", "", "who made the decision")
	addFlags.StringVar(&overrideNote, "note", "", "free-text reason")
	overrideAddCmd.MarkFlagRequired("run-date")
	overrideAddCmd.MarkFlagRequired("receipt")
	overrideAddCmd.MarkFlagRequired("record")

	listFlags := overrideListCmd.Flags()
	listFlags.StringVar(&overrideRunDate, "run-date", "", "only overrides of this run date (YYYY-MM-DD)")
	listFlags.StringVarP(&overrideFormat, "output-format", "f", "table", "output format: table, json")
}

// withOverrideStore opens the store named by --overrides-db for fn
func withOverrideStore(cmd *cobra.Command, fn func(ctx context.Context, store *overrides.Store) error) error {
	path := strings.TrimSpace(viper.GetString(config.KeyOverridesDB))
	if path == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, config.KeyOverridesDB, nil, nil).
			WithSuggestion("Pass --overrides-db or set RECONCILER_OVERRIDES_DB")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := overrides.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

func addOverride(ctx context.Context, store *overrides.Store, o overrides.Override, w io.Writer) error {
	stored, err := store.Add(ctx, o)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Stored override %s: receipt %s -> %s on %s\n",
		stored.ID, stored.ReceiptNumber, stored.RecordKey, stored.RunDate)
	return nil
}

func listOverrides(ctx context.Context, store *overrides.Store, runDate, format string, w io.Writer) error {
	list, err := store.List(ctx, runDate)
	if err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "json":
		if list == nil {
			list = []overrides.Override{}
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(list)
	case "", "table":
		if len(list) == 0 {
			fmt.Fprintln(w, "No overrides stored.")
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"ID", "Run Date", "Receipt", "Record", "Operator", "Note", "Created"})
		for _, o := range list {
			t.AppendRow(table.Row{o.ID, o.RunDate, o.ReceiptNumber, o.RecordKey, o.Operator, o.Note,
				o.CreatedAt.Format("2006-01-02 15:04")})
		}
		t.Render()
		return nil
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format,
			fmt.Errorf("must be table or json"))
	}
}
