package logger

import (
	"fmt"
	"sync"
	"time"
)

// RowProgress logs how far a parser has read into one input. An update is
// logged at most once per interval, and only for inputs large enough to take
// that long.
type RowProgress struct {
	mu sync.Mutex

	logger   Logger
	interval time.Duration

	started time.Time
	lastLog time.Time
	read    int
	skipped int
}

// DefaultProgressInterval is the gap between two progress lines
const DefaultProgressInterval = 5 * time.Second

// NewRowProgress starts tracking the rows of source. A zero interval means
// DefaultProgressInterval.
func NewRowProgress(source string, log Logger, interval time.Duration) *RowProgress {
	if log == nil {
		log = GetGlobalLogger()
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	now := time.Now()
	return &RowProgress{
		logger:   log.WithField(FieldSource, source),
		interval: interval,
		started:  now,
		lastLog:  now,
	}
}

// Row counts one data row; valid is false for a row that was skipped
func (p *RowProgress) Row(valid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.read++
	if !valid {
		p.skipped++
	}

	if now := time.Now(); now.Sub(p.lastLog) >= p.interval {
		p.lastLog = now
		p.logger.WithFields(Fields{
			"rows_read":    p.read,
			"rows_skipped": p.skipped,
			"rate":         rowRate(p.read, now.Sub(p.started)),
		}).Info("Reading input")
	}
}

// Counts returns the rows read and skipped so far
func (p *RowProgress) Counts() (read, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read, p.skipped
}

// Done logs the final row counts at debug level
func (p *RowProgress) Done() {
	read, skipped := p.Counts()
	p.logger.WithFields(Fields{
		"rows_read":    read,
		"rows_skipped": skipped,
		"duration":     time.Since(p.started).Round(time.Millisecond).String(),
	}).Debug("Input read")
}

func rowRate(rows int, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f rows/sec", float64(rows)/elapsed.Seconds())
}

// TimeStage runs one stage of a reconciliation run, logs its outcome with
// the stage name and duration, and returns the duration
func TimeStage(log Logger, stage string, fn func() error) (time.Duration, error) {
	log = stageLogger(log, stage)

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	entry := log.WithField("duration", duration.Round(time.Microsecond).String())
	if err != nil {
		entry.WithError(err).Error("Stage failed")
		return duration, err
	}
	entry.Debug("Stage finished")
	return duration, nil
}

// Time is TimeStage for a stage that cannot fail
func Time(log Logger, stage string, fn func()) time.Duration {
	log = stageLogger(log, stage)

	start := time.Now()
	fn()
	duration := time.Since(start)

	log.WithField("duration", duration.Round(time.Microsecond).String()).Debug("Stage finished")
	return duration
}

func stageLogger(log Logger, stage string) Logger {
	if log == nil {
		log = GetGlobalLogger()
	}
	log = log.WithField(FieldStage, stage)
	log.Debug("Stage started")
	return log
}
