// Package logger is the structured logging layer of the reconciler. All
// packages log through the Logger interface; the CLI installs the process
// logger once at start-up and library code picks it up with
// GetGlobalLogger().WithComponent(...).
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Logger is the logging contract shared by every package
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields is a set of structured key-value pairs
type Fields map[string]interface{}

// Field keys used across packages, so log lines of one run can be joined
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldSource    = "source"
	FieldStage     = "stage"
	FieldReceipt   = "receipt_number"
	FieldLine      = "line_number"
)

// Level is a log severity
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var logrusLevels = map[Level]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
}

// Format is a log line encoding
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output is a log destination
type Output string

const (
	StdoutOutput  Output = "stdout"
	StderrOutput  Output = "stderr"
	FileOutput    Output = "file"
	DiscardOutput Output = "discard"
)

// Config selects level, encoding and destination of the logger
type Config struct {
	Level            Level  `json:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format           Format `json:"format" mapstructure:"format" validate:"oneof=text json"`
	Output           Output `json:"output" mapstructure:"output" validate:"oneof=stdout stderr file discard"`
	File             string `json:"file,omitempty" mapstructure:"file" validate:"required_if=Output file"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" mapstructure:"disable_timestamp"`
	CallerInfo       bool   `json:"caller_info,omitempty" mapstructure:"caller_info"`
}

// DefaultConfig logs info and above as text on stderr
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// VerboseConfig is used when the CLI runs with --verbose
func VerboseConfig() *Config {
	return &Config{
		Level:      DebugLevel,
		Format:     TextFormat,
		Output:     StderrOutput,
		CallerInfo: true,
	}
}

var validate = validator.New()

// Validate reports the first invalid setting by name
func (c *Config) Validate() error {
	c.File = strings.TrimSpace(c.File)
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	switch fe := verrs[0]; fe.Field() {
	case "File":
		return fmt.Errorf("log file path is required for file output")
	default:
		return fmt.Errorf("invalid log %s: %v", strings.ToLower(fe.Field()), fe.Value())
	}
}

type logrusLogger struct {
	entry *logrus.Entry

	// closer is the log file, shared by every derived logger
	closer io.Closer
}

// NewLogger builds a logrus-backed Logger. A file output is opened for
// appending and its directory created; release it with Close.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	base := logrus.New()
	base.SetLevel(logrusLevels[config.Level])
	base.SetFormatter(newFormatter(config))
	base.SetReportCaller(config.CallerInfo)

	l := &logrusLogger{}
	switch config.Output {
	case StdoutOutput:
		base.SetOutput(os.Stdout)
	case DiscardOutput:
		base.SetOutput(io.Discard)
	case FileOutput:
		file, err := openLogFile(config.File)
		if err != nil {
			return nil, err
		}
		base.SetOutput(file)
		l.closer = file
	default:
		base.SetOutput(os.Stderr)
	}

	l.entry = logrus.NewEntry(base)
	return l, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

func newFormatter(config *Config) logrus.Formatter {
	if config.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: config.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: config.DisableTimestamp,
		TimestampFormat:  "15:04:05",
		FullTimestamp:    !config.DisableTimestamp,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
	}
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) derive(entry *logrus.Entry) Logger {
	return &logrusLogger{entry: entry, closer: l.closer}
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return l.derive(l.entry.WithField(key, value))
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return l.derive(l.entry.WithFields(logrus.Fields(fields)))
}

func (l *logrusLogger) WithError(err error) Logger {
	return l.derive(l.entry.WithError(err))
}

func (l *logrusLogger) WithComponent(component string) Logger {
	return l.WithField(FieldComponent, component)
}

// Close releases the log file of l, if it writes to one
func Close(l Logger) error {
	if ll, ok := l.(*logrusLogger); ok && ll.closer != nil {
		return ll.closer.Close()
	}
	return nil
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = mustDefault()
)

func mustDefault() Logger {
	l, err := NewLogger(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return l
}

// SetGlobalLogger installs the process logger; nil installs Discard()
func SetGlobalLogger(logger Logger) {
	if logger == nil {
		logger = Discard()
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the process logger
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Discard returns a logger that drops everything
func Discard() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.PanicLevel)
	return &logrusLogger{entry: logrus.NewEntry(base)}
}
