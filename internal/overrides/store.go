// Package overrides persists operator decisions that pin a receipt to a
// specific external record for one run date. Pinned pairs are applied
// before automatic matching on every later run of that date.
package overrides

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

const (
	lockRetryDelay = 50 * time.Millisecond
	lockTimeout    = 5 * time.Second
)

// Override pins one receipt to one external record for a run date
type Override struct {
	ID            string    `json:"id"`
	RunDate       string    `json:"run_date" validate:"required,datetime=2006-01-02"`
	ReceiptNumber string    `json:"receipt_number" validate:"required,max=64"`
	RecordKey     string    `json:"record_key" validate:"required"`
	Operator      string    `json:"operator,omitempty" validate:"max=64"`
	Note          string    `json:"note,omitempty" validate:"max=500"`
	CreatedAt     time.Time `json:"created_at"`
}

var validate = validator.New()

// Validate checks the fields an operator supplies
func (o *Override) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			code := errors.CodeOutOfRange
			switch fe.Tag() {
			case "required":
				code = errors.CodeMissingField
			case "datetime":
				code = errors.CodeInvalidDate
			}
			return errors.ValidationError(code, strings.ToLower(fe.Field()), fe.Value(),
				fmt.Errorf("failed on the '%s' rule", fe.Tag()))
		}
		return err
	}
	return nil
}

// Store is the SQLite-backed override repository. Writes are serialised
// across processes with a lock file next to the database.
type Store struct {
	db     *sql.DB
	path   string
	lock   *flock.Flock
	logger logger.Logger
	now    func() time.Time
}

// Open initializes or connects to the override database and applies migrations
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.StorageError(errors.CodeStorageOpen, "create directory", err).
				WithContext("path", dbPath)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageOpen, "open database", err).
			WithContext("path", dbPath)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, errors.StorageError(errors.CodeStorageOpen, "apply pragma", fmt.Errorf("%s: %w", pragma, execErr)).
				WithContext("path", dbPath)
		}
	}

	store := &Store{
		db:     db,
		path:   dbPath,
		lock:   flock.New(dbPath + ".lock"),
		logger: logger.GetGlobalLogger().WithComponent("overrides"),
		now:    time.Now,
	}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeStorageOpen, "migrate", err).
			WithContext("path", dbPath)
	}

	store.logger.WithField("path", dbPath).Debug("Opened override store")
	return store, nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withLock runs fn while holding the cross-process write lock
func (s *Store) withLock(ctx context.Context, operation string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	ok, err := s.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("lock %s held by another process", s.lock.Path())
		}
		return errors.StorageError(errors.CodeStorageLocked, operation, err)
	}
	defer func() {
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			s.logger.WithError(unlockErr).Warn("Failed to release override lock")
		}
	}()

	return fn()
}

// Add stores an override. An existing override for the same receipt and
// run date is replaced.
func (s *Store) Add(ctx context.Context, o Override) (*Override, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	o.ID = uuid.NewString()
	o.CreatedAt = s.now().UTC().Truncate(time.Second)

	err := s.withLock(ctx, "add override", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO overrides (id, run_date, receipt_number, record_key, operator, note, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (run_date, receipt_number) DO UPDATE SET
                 id = excluded.id,
                 record_key = excluded.record_key,
                 operator = excluded.operator,
                 note = excluded.note,
                 created_at = excluded.created_at`,
			o.ID, o.RunDate, o.ReceiptNumber, o.RecordKey, o.Operator, o.Note,
			o.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return errors.StorageError(errors.CodeStorageQuery, "add override", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"id":             o.ID,
		"run_date":       o.RunDate,
		"receipt_number": o.ReceiptNumber,
		"record_key":     o.RecordKey,
		"operator":       o.Operator,
	}).Info("Stored override")
	return &o, nil
}

// List returns the overrides of one run date, or of every date when runDate
// is empty, oldest first
func (s *Store) List(ctx context.Context, runDate string) ([]Override, error) {
	query := `SELECT id, run_date, receipt_number, record_key, operator, note, created_at FROM overrides`
	var args []any
	if runDate != "" {
		query += ` WHERE run_date = ?`
		args = append(args, runDate)
	}
	query += ` ORDER BY run_date, created_at, receipt_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageQuery, "list overrides", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var o Override
		var createdAt string
		if err := rows.Scan(&o.ID, &o.RunDate, &o.ReceiptNumber, &o.RecordKey, &o.Operator, &o.Note, &createdAt); err != nil {
			return nil, errors.StorageError(errors.CodeStorageQuery, "list overrides", err)
		}
		if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			o.CreatedAt = t
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageQuery, "list overrides", err)
	}
	return out, nil
}

// Delete removes one override by ID
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withLock(ctx, "delete override", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM overrides WHERE id = ?`, id)
		if err != nil {
			return errors.StorageError(errors.CodeStorageQuery, "delete override", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.StorageError(errors.CodeStorageQuery, "delete override", err)
		}
		if affected == 0 {
			return errors.StorageError(errors.CodeNotFound, "delete override", nil).WithContext("id", id)
		}
		s.logger.WithField("id", id).Info("Deleted override")
		return nil
	})
}

// Pins returns the overrides of a run date as resolver pins
func (s *Store) Pins(ctx context.Context, runDate time.Time) ([]matcher.Pin, error) {
	list, err := s.List(ctx, runDate.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	return ToPins(list), nil
}

// ToPins converts overrides to resolver pins, keeping their order
func ToPins(list []Override) []matcher.Pin {
	pins := make([]matcher.Pin, 0, len(list))
	for _, o := range list {
		pins = append(pins, matcher.Pin{ReceiptNumber: o.ReceiptNumber, RecordKey: o.RecordKey})
	}
	return pins
}
