// Package config resolves the reconcile command's settings from flags,
// environment variables and an optional config file, all merged by viper.
package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/normalize"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Viper keys. Flags are bound to these names, so the same keys work in a
// config file and, upper-cased with a RECONCILER_ prefix, in the environment.
const (
	KeyReceipts     = "receipts"
	KeyRecords      = "records"
	KeyRunDate      = "run-date"
	KeyFeeCategory  = "fee-category"
	KeyPreset       = "preset"
	KeyOutputFormat = "report.format"
	KeyOutputFile   = "output-file"
	KeyCSVDelimiter = "csv-delimiter"
	KeyOverridesDB  = "overrides-db"

	KeyOffice         = "office"
	KeyOwner          = "owner"
	KeyCaseYear       = "case-year"
	KeyIssue          = "issue"
	KeySearch         = "search"
	KeyCodeMismatch   = "code-mismatch"
	KeyHideWrongDate  = "hide-wrong-date"
	KeyMatching       = "matching"
	KeyReport         = "report"
	KeyVerbose        = "verbose"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyLogFile        = "log-file"
	EnvPrefix         = "RECONCILER"
	DefaultOutputType = "console"

	// DefaultFeeCategory is the receipt line category reconciled unless
	// --fee-category says otherwise
	DefaultFeeCategory = "Tax Prep Fee"
)

// Settings is the resolved configuration of one reconcile invocation
type Settings struct {
	ReceiptsFile string
	RecordsFile  string
	RunDate      *time.Time
	FeeCategory  string
	Preset       string
	OutputFile   string
	OverridesDB  string

	Matching *matcher.MatchingConfig
	Report   *reporter.ReportConfig
	Filter   reporter.Filter
}

// rawSettings holds the scalar values exactly as viper returned them, so
// their shape can be checked before conversion
type rawSettings struct {
	Receipts     string `validate:"required"`
	Records      string `validate:"required"`
	RunDate      string `validate:"omitempty,datetime=2006-01-02"`
	Preset       string `validate:"omitempty,oneof=default strict relaxed"`
	OutputFormat string `validate:"oneof=console json csv"`
	CaseYear     string `validate:"omitempty,numeric,len=4"`
	CSVDelimiter string `validate:"omitempty,len=1"`
}

var validate = validator.New()

// BindFlags binds each named flag of flags to the viper key of the same name
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(name, flag); err != nil {
			return err
		}
	}
	return nil
}

// ConfigureEnv makes RECONCILER_FEE_CATEGORY override fee-category and so on
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load builds Settings from the merged viper state
func Load(v *viper.Viper) (*Settings, error) {
	raw := rawSettings{
		Receipts:     strings.TrimSpace(v.GetString(KeyReceipts)),
		Records:      strings.TrimSpace(v.GetString(KeyRecords)),
		RunDate:      strings.TrimSpace(v.GetString(KeyRunDate)),
		Preset:       strings.ToLower(strings.TrimSpace(v.GetString(KeyPreset))),
		OutputFormat: strings.ToLower(strings.TrimSpace(v.GetString(KeyOutputFormat))),
		CaseYear:     strings.TrimSpace(v.GetString(KeyCaseYear)),
		CSVDelimiter: v.GetString(KeyCSVDelimiter),
	}
	if raw.OutputFormat == "" {
		raw.OutputFormat = DefaultOutputType
	}
	if err := validate.Struct(raw); err != nil {
		return nil, settingError(err)
	}

	settings := &Settings{
		ReceiptsFile: raw.Receipts,
		RecordsFile:  raw.Records,
		FeeCategory:  strings.TrimSpace(v.GetString(KeyFeeCategory)),
		Preset:       raw.Preset,
		OutputFile:   strings.TrimSpace(v.GetString(KeyOutputFile)),
		OverridesDB:  strings.TrimSpace(v.GetString(KeyOverridesDB)),
	}

	if raw.RunDate != "" {
		day, ok := normalize.ParseDay(raw.RunDate)
		if !ok {
			return nil, errors.ValidationError(errors.CodeInvalidDate, KeyRunDate, raw.RunDate, nil).
				WithSuggestion("Use the YYYY-MM-DD format, e.g. 2024-03-15")
		}
		settings.RunDate = &day
	}

	matching, err := loadMatching(v, raw.Preset)
	if err != nil {
		return nil, err
	}
	settings.Matching = matching

	report, err := loadReport(v, raw)
	if err != nil {
		return nil, err
	}
	settings.Report = report

	filter, err := loadFilter(v, raw.CaseYear)
	if err != nil {
		return nil, err
	}
	settings.Filter = filter

	return settings, nil
}

// loadMatching starts from the preset and applies any [matching] table
func loadMatching(v *viper.Viper, preset string) (*matcher.MatchingConfig, error) {
	matching, err := matcher.ConfigForPreset(preset)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPreset, preset, err)
	}
	if v.IsSet(KeyMatching) {
		if err := v.UnmarshalKey(KeyMatching, matching); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyMatching, nil, err).
				WithSuggestion("Check the [matching] table of the config file")
		}
	}
	if err := matching.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyMatching, matching.String(), err)
	}
	return matching, nil
}

// loadReport applies the [report] table, then the output flags
func loadReport(v *viper.Viper, raw rawSettings) (*reporter.ReportConfig, error) {
	report := reporter.DefaultReportConfig()
	if v.IsSet(KeyReport) {
		if err := v.UnmarshalKey(KeyReport, report); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyReport, nil, err).
				WithSuggestion("Check the [report] table of the config file")
		}
	}
	report.Format = reporter.OutputFormat(raw.OutputFormat)
	if raw.CSVDelimiter != "" {
		report.CSVDelimiter = []rune(raw.CSVDelimiter)[0]
	}
	if err := report.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyReport, nil, err)
	}
	return report, nil
}

func loadFilter(v *viper.Viper, caseYear string) (reporter.Filter, error) {
	filter := reporter.Filter{
		Office:           strings.TrimSpace(v.GetString(KeyOffice)),
		Owner:            strings.TrimSpace(v.GetString(KeyOwner)),
		CaseYear:         caseYear,
		Search:           strings.TrimSpace(v.GetString(KeySearch)),
		CodeMismatchOnly: v.GetBool(KeyCodeMismatch),
		HideWrongDate:    v.GetBool(KeyHideWrongDate),
	}
	if text := strings.TrimSpace(v.GetString(KeyIssue)); text != "" {
		outcome, err := models.ParseOutcome(text)
		if err != nil {
			return reporter.Filter{}, errors.ValidationError(errors.CodeInvalidData, KeyIssue, text, err).
				WithSuggestion("Use none, needs-correction, not-transmitted, ambiguous, no-return-found or wrong-date")
		}
		filter.Outcome = outcome
	}
	return filter, nil
}

// settingError turns the first validator failure into a ReconcilerError
// naming the flag
func settingError(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.Wrap(err, errors.CategoryConfiguration, errors.CodeInvalidConfig, "invalid settings")
	}
	fe := verrs[0]
	name := flagNames[fe.Field()]

	switch fe.Tag() {
	case "required":
		return errors.ValidationError(errors.CodeMissingField, name, nil, nil).
			WithSuggestion(fmt.Sprintf("Pass --%s or set it in the config file", name))
	case "datetime":
		return errors.ValidationError(errors.CodeInvalidDate, name, fe.Value(), nil).
			WithSuggestion("Use the YYYY-MM-DD format, e.g. 2024-03-15")
	case "oneof":
		return errors.ConfigurationError(errors.CodeInvalidConfig, name, fe.Value(),
			fmt.Errorf("must be one of: %s", fe.Param()))
	default:
		return errors.ValidationError(errors.CodeInvalidData, name, fe.Value(),
			fmt.Errorf("failed on the '%s' rule", fe.Tag()))
	}
}

var flagNames = map[string]string{
	"Receipts":     KeyReceipts,
	"Records":      KeyRecords,
	"RunDate":      KeyRunDate,
	"Preset":       KeyPreset,
	"OutputFormat": "output-format",
	"CaseYear":     KeyCaseYear,
	"CSVDelimiter": KeyCSVDelimiter,
}

// LoggerConfig derives the CLI logger configuration. Without --verbose or
// --log-level only warnings and errors are logged.
func LoggerConfig(v *viper.Viper) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Level = logger.WarnLevel
	if v.GetBool(KeyVerbose) {
		config = logger.VerboseConfig()
	}

	if level := strings.TrimSpace(v.GetString(KeyLogLevel)); level != "" {
		config.Level = logger.Level(strings.ToLower(level))
	}
	if format := strings.TrimSpace(v.GetString(KeyLogFormat)); format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}
	if file := strings.TrimSpace(v.GetString(KeyLogFile)); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", nil, err).
			WithSuggestion("Log level must be debug, info, warn or error; format text or json")
	}
	return config, nil
}

// File is the layout of a config file, as written by `config init`
type File struct {
	FeeCategory  string `toml:"fee-category" comment:"Receipt line category to reconcile; empty keeps every line"`
	Preset       string `toml:"preset" comment:"Matching preset: default, strict or relaxed"`
	CSVDelimiter string `toml:"csv-delimiter" comment:"Field separator of CSV reports"`
	OverridesDB  string `toml:"overrides-db" comment:"SQLite file with operator overrides; empty disables them"`
	LogLevel     string `toml:"log-level" comment:"debug, info, warn or error"`
	LogFormat    string `toml:"log-format" comment:"text or json"`

	Matching *matcher.MatchingConfig `toml:"matching" comment:"Resolver thresholds and scoring weights; overrides the preset"`
	Report   *reporter.ReportConfig  `toml:"report" comment:"Report layout; format is console, json or csv"`
}

// SampleFile returns a config file populated with the defaults
func SampleFile() *File {
	return &File{
		FeeCategory:  DefaultFeeCategory,
		Preset:       "default",
		CSVDelimiter: ",",
		OverridesDB:  "",
		LogLevel:     string(logger.WarnLevel),
		LogFormat:    string(logger.TextFormat),
		Matching:     matcher.DefaultMatchingConfig(),
		Report:       reporter.DefaultReportConfig(),
	}
}

// WriteSample renders SampleFile as TOML
func WriteSample(w io.Writer) error {
	encoder := toml.NewEncoder(w)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(SampleFile()); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode sample config", err)
	}
	return nil
}
