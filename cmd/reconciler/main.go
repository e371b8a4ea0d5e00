package main

import (
	"os"

	"github.com/joho/godotenv"

	"receipt-reconciliation-service/cmd/reconciler/cmd"
	"receipt-reconciliation-service/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A missing .env is not an error; RECONCILER_* may come from the shell.
	_ = godotenv.Load()

	cmd.SetVersionInfo(version, commit, date)

	err := cmd.Execute()
	code := cmd.NewCLIErrorHandler().HandleError(err)
	_ = logger.Close(logger.GetGlobalLogger())
	os.Exit(code)
}
