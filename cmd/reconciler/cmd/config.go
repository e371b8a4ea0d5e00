package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/pkg/errors"
)

var (
	configOutput string
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with reconciler config files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample TOML config with the default settings",
	Long: `Init prints a TOML config file holding every setting with its default value.
Pass the file to any command with --config. Flags and RECONCILER_ environment
variables still take precedence over the file.`,
	Example: `  reconciler config init > reconciler.toml
  reconciler config init --output reconciler.toml`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVarP(&configOutput, "output", "o", "", "write to this file instead of stdout")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var buf bytes.Buffer
	if err := config.WriteSample(&buf); err != nil {
		return err
	}

	if configOutput == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}

	if _, err := os.Stat(configOutput); err == nil && !configForce {
		return errors.FileError(errors.CodeFilePermission, configOutput, fmt.Errorf("file already exists")).
			WithSuggestion("Pass --force to overwrite it")
	}
	if err := os.WriteFile(configOutput, buf.Bytes(), 0o644); err != nil {
		return errors.FileError(errors.CodeFilePermission, configOutput, err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", configOutput)
	return nil
}
