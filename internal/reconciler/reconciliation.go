package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// PinSource supplies the operator overrides of a run date
type PinSource interface {
	Pins(ctx context.Context, runDate time.Time) ([]matcher.Pin, error)
}

// Config holds configuration options for the reconciliation service
type Config struct {
	// FeeCategory keeps only receipt lines of this category
	FeeCategory string

	Matching *matcher.MatchingConfig
	Receipts *parsers.ReceiptParserConfig
	Records  *parsers.RecordParserConfig

	// MaxSampleErrors caps the parse errors copied into the report
	MaxSampleErrors int
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		FeeCategory:     "",
		Matching:        matcher.DefaultMatchingConfig(),
		Receipts:        parsers.DefaultReceiptParserConfig(),
		Records:         parsers.DefaultRecordParserConfig(),
		MaxSampleErrors: 5,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, fmt.Errorf("matching configuration is required"))
	}
	if err := c.Matching.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", c.Matching.String(), err)
	}
	if c.Receipts == nil || c.Records == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "parsers", nil, fmt.Errorf("receipt and record parser configurations are required"))
	}
	if err := c.Receipts.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "receipts", nil, err)
	}
	if err := c.Records.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "records", nil, err)
	}
	if c.MaxSampleErrors < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_sample_errors", c.MaxSampleErrors,
			fmt.Errorf("must not be negative"))
	}
	return nil
}

// Request names the inputs of one run
type Request struct {
	ReceiptsFile string
	RecordsFile  string

	// RunDate, when set, excludes receipts of other days and selects the
	// stored overrides to apply
	RunDate *time.Time
}

// Validate validates the request
func (r *Request) Validate() error {
	if strings.TrimSpace(r.ReceiptsFile) == "" {
		return errors.ValidationError(errors.CodeMissingField, "receipts_file", nil, nil).
			WithSuggestion("Pass the receipt export with --receipts")
	}
	if strings.TrimSpace(r.RecordsFile) == "" {
		return errors.ValidationError(errors.CodeMissingField, "records_file", nil, nil).
			WithSuggestion("Pass the external record export with --records")
	}
	return nil
}

// RunResult is a Result plus everything learned while loading inputs
type RunResult struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Request   Request   `json:"-"`

	Result *Result `json:"result"`

	ReceiptStats *parsers.ParseStats    `json:"receipt_stats"`
	RecordStats  *parsers.ParseStats    `json:"record_stats"`
	PinsLoaded   int                    `json:"pins_loaded"`
	Stages       []reporter.StageTiming `json:"stages"`
}

// Report builds the presentation view, including input statistics
func (rr *RunResult) Report(filter reporter.Filter, feeCategory string, maxSampleErrors int) *reporter.Report {
	report := rr.Result.Report(filter)
	report.RunID = rr.RunID
	report.FeeCategory = feeCategory
	report.Stages = rr.Stages
	report.Inputs = []reporter.InputSummary{
		inputSummary("receipts", rr.ReceiptStats, maxSampleErrors),
		inputSummary("records", rr.RecordStats, maxSampleErrors),
	}
	return report
}

func inputSummary(kind string, stats *parsers.ParseStats, maxSamples int) reporter.InputSummary {
	if stats == nil {
		return reporter.InputSummary{Kind: kind}
	}
	return reporter.InputSummary{
		Kind:         kind,
		Source:       stats.Source,
		Format:       string(stats.Format),
		RowsRead:     stats.RecordsParsed,
		RowsValid:    stats.RecordsValid,
		Errors:       stats.ErrorCount,
		SampleErrors: stats.GetSampleErrors(maxSamples),
	}
}

// Service loads inputs, applies overrides and runs Reconcile
type Service struct {
	config *Config
	pins   PinSource
	logger logger.Logger
}

// NewService creates a new reconciliation service. pins may be nil when no
// override store is configured.
func NewService(config *Config, pins PinSource) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		config: config,
		pins:   pins,
		logger: logger.GetGlobalLogger().WithComponent("reconciliation_service"),
	}, nil
}

// Config returns the service configuration
func (s *Service) Config() *Config {
	return s.config
}

// Run performs the complete reconciliation process. Both inputs are read
// concurrently; matching itself is single-threaded.
func (s *Service) Run(ctx context.Context, req Request) (*RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Request:   req,
	}
	log := s.logger.WithField(logger.FieldRunID, run.RunID)

	fields := logger.Fields{
		"receipts_file": req.ReceiptsFile,
		"records_file":  req.RecordsFile,
		"fee_category":  s.config.FeeCategory,
	}
	if req.RunDate != nil {
		fields["run_date"] = req.RunDate.Format("2006-01-02")
	}
	log.WithFields(fields).Info("Starting reconciliation run")

	var (
		lines []models.ReceiptLine
		rows  []models.ExternalRecordRow
	)
	if err := s.stage(run, log, "load", func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			lines, run.ReceiptStats, err = parsers.LoadReceiptLines(gctx, req.ReceiptsFile, s.config.Receipts)
			return err
		})
		g.Go(func() error {
			var err error
			rows, run.RecordStats, err = parsers.LoadExternalRecords(gctx, req.RecordsFile, s.config.Records)
			return err
		})
		return g.Wait()
	}); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeFileCorrupted, "failed to load inputs")
	}

	var pins []matcher.Pin
	if s.pins != nil && req.RunDate != nil {
		if err := s.stage(run, log, "overrides", func() error {
			var err error
			pins, err = s.pins.Pins(ctx, *req.RunDate)
			return err
		}); err != nil {
			return nil, errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStorageQuery, "failed to load overrides").
				WithSuggestion("Check the override database or run without --overrides-db")
		}
		run.PinsLoaded = len(pins)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "reconcile", err)
	}

	matchTime := logger.Time(log, "match", func() {
		run.Result = Reconcile(lines, rows, req.RunDate, &Options{
			FeeCategory: s.config.FeeCategory,
			Matching:    s.config.Matching,
			Pins:        pins,
		})
	})
	run.addStage("match", matchTime)

	log.WithFields(logger.Fields{
		"ran":         run.Result.Ran,
		"matched":     run.Result.Summary.Matched,
		"exceptions":  run.Result.Summary.Exceptions,
		"pins_loaded": run.PinsLoaded,
		"pins_used":   run.Result.ResolverStats.PinsApplied,
		"elapsed":     time.Since(run.StartedAt).String(),
	}).Info("Reconciliation run finished")

	return run, nil
}

// Report builds the presentation view of a run with this service's settings
func (s *Service) Report(run *RunResult, filter reporter.Filter) *reporter.Report {
	return run.Report(filter, s.config.FeeCategory, s.config.MaxSampleErrors)
}

// stage runs fn as a timed operation and records its duration
func (s *Service) stage(run *RunResult, log logger.Logger, name string, fn func() error) error {
	duration, err := logger.TimeStage(log, name, fn)
	run.addStage(name, duration)
	return err
}

func (rr *RunResult) addStage(name string, duration time.Duration) {
	rr.Stages = append(rr.Stages, reporter.StageTiming{Stage: name, Duration: duration})
}
