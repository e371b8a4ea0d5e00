package reporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// fallbackNote heads a report that was rendered as console text because the
// requested format failed
const fallbackNote = "NOTE: Report generated in fallback format due to error with requested format"

// SafeReportGenerator renders a report completely in memory before any byte
// reaches the destination, so a failed rendering never leaves half a report
// behind. Files are replaced atomically.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator validates config and wraps a ReportGenerator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", nil, err).
			WithSuggestion("Check the [report] table and the --output-format flag")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// Render returns the report in the configured format. When that fails and
// the format is not console, the report is rendered as console text headed
// by a note naming the original error.
func (srg *SafeReportGenerator) Render(report *Report) ([]byte, error) {
	if err := checkReport(report); err != nil {
		return nil, err
	}
	if !report.Summary.Ran {
		srg.logger.Warn("Reconciliation was not run, rendering empty report")
	}

	var buf bytes.Buffer
	err := srg.GenerateReport(report, &buf)
	if err == nil {
		return buf.Bytes(), nil
	}
	if srg.config.Format == FormatConsole {
		return nil, wrapRenderError(err)
	}

	srg.logger.WithError(err).WithField("format", srg.config.Format).Warn("Rendering failed, falling back to console")

	fallback := *srg.config
	fallback.Format = FormatConsole
	fallback.UseColors = false
	console := &ReportGenerator{config: &fallback}

	buf.Reset()
	fmt.Fprintf(&buf, "%s\nOriginal error: %v\n\n", fallbackNote, err)
	if fbErr := console.GenerateReport(report, &buf); fbErr != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "render report",
			fmt.Errorf("%s: %v; console fallback: %v", srg.config.Format, err, fbErr))
	}
	return buf.Bytes(), nil
}

// GenerateReportSafely renders report and writes it to writer in one call
func (srg *SafeReportGenerator) GenerateReportSafely(report *Report, writer io.Writer) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	data, err := srg.Render(report)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "write report", err).
			WithSuggestion("Check the output destination; use --output-file to write to a file")
	}

	srg.logger.WithFields(logger.Fields{
		"format":     srg.config.Format,
		"rows":       len(report.Rows),
		"total_rows": report.TotalRows,
		"bytes":      len(data),
	}).Debug("Report written")
	return nil
}

// WriteFile renders report into path. The report is written to a temporary
// file in the same directory and renamed over path, so readers never see a
// partial report and an existing file survives a failed run.
func (srg *SafeReportGenerator) WriteFile(report *Report, path string) error {
	data, err := srg.Render(report)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.FileError(errors.CodeFilePermission, dir, err).
			WithSuggestion("Check that the output directory can be created")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err).
			WithSuggestion("Check write permissions for the output directory")
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr == nil {
		writeErr = os.Chmod(tmpName, 0o644)
	}
	if writeErr == nil {
		writeErr = os.Rename(tmpName, path)
	}
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return errors.FileError(errors.CodeFilePermission, path, writeErr)
	}

	srg.logger.WithFields(logger.Fields{
		"path":   path,
		"format": srg.config.Format,
		"bytes":  len(data),
	}).Info("Report file written")
	return nil
}

// checkReport rejects reports the renderers cannot handle
func checkReport(report *Report) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil).
			WithSuggestion("Provide a valid reconciliation report")
	}

	for i, row := range report.Rows {
		if (row.Match == nil) == (row.Exception == nil) {
			return errors.ValidationError(errors.CodeInvalidData, "rows", i,
				fmt.Errorf("row %d must hold exactly one match or exception", i))
		}
	}
	return nil
}

func wrapRenderError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(errors.CodeProcessingError, "render report", err).
		WithSuggestion("Check the report format settings")
}
