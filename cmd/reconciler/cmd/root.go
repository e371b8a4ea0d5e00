package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	logFile   string
	dbPath    string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Fee receipt reconciliation tool",
	Long: `Reconciler matches the day's fee receipts against an external record export
(tax returns, filings) and reports which receipts were matched, which carry an
operational issue, and which need an operator's attention.

Examples:
  reconciler reconcile --receipts receipts.csv --records returns.csv --run-date 2024-03-15
  reconciler reconcile --receipts receipts.csv --records returns.html --output-format json
  reconciler override add --run-date 2024-03-15 --receipt 1004 --record "TX200|2024|ng|carl"
  reconciler config init > reconciler.toml`,
	Version:       getVersionString(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI. An interrupt or SIGTERM cancels the command context,
// which stops input parsing between rows.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (toml, yaml or json)")
	flags.BoolVarP(&verbose, config.KeyVerbose, "v", false, "verbose output")
	flags.StringVar(&logLevel, config.KeyLogLevel, "", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, config.KeyLogFormat, "", "log format: text, json")
	flags.StringVar(&logFile, config.KeyLogFile, "", "write logs to this file instead of stderr")
	flags.StringVar(&dbPath, config.KeyOverridesDB, "", "SQLite file holding operator overrides")

	cobra.CheckErr(config.BindFlags(viper.GetViper(), flags,
		config.KeyVerbose, config.KeyLogLevel, config.KeyLogFormat, config.KeyLogFile, config.KeyOverridesDB))
}

// initConfig reads in config file and ENV variables, then installs the
// global logger.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	config.ConfigureEnv(viper.GetViper())

	logConfig, err := config.LoggerConfig(viper.GetViper())
	if err != nil {
		os.Exit(NewCLIErrorHandler().HandleError(err))
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %s\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogger(log)

	if viper.ConfigFileUsed() != "" {
		log.WithField("file", viper.ConfigFileUsed()).Debug("Using config file")
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
