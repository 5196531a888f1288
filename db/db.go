package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("db: not found")
	// ErrUsernameTaken is returned when setup reuses an existing username.
	ErrUsernameTaken = errors.New("db: username already taken")
)

const maxBusyRetries = 8

// DB is the relational store shared by all request handlers.
type DB struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a DB.
type Option func(*DB)

// WithClock overrides the clock used for created timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// Open opens the SQLite database at path and runs the migrations.
// The path may be a file name or a "file:" URI such as
// "file:test?mode=memory&cache=shared".
func Open(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db: database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	if isMemory(path) {
		// every connection to a private memory database would see its own copy
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	db := &DB{db: sqlDB, logger: logger.Named("db"), now: time.Now}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.RunMigrations(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: migrations: %w", err)
	}

	db.logger.Info("database initialized", zap.String("path", path))
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.db.Close()
}

func dsn(path string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_time_format=sqlite",
	}
	if !isMemory(path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(pragmas, "&")
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (db *DB) timestamp() time.Time {
	return db.now().UTC()
}

// wrapTransaction runs f within a transaction. SQLITE_BUSY and SQLITE_LOCKED
// failures roll back and rerun f in a fresh transaction with exponential
// backoff; any other error is returned as is.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	op := func() error {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		if err := f(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				db.logger.Warn("rollback failed", zap.Error(rbErr))
			}
			return classify(err)
		}
		if err := tx.Commit(); err != nil {
			return classify(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	notify := func(err error, wait time.Duration) {
		db.logger.Debug("database busy, retrying transaction", zap.Error(err), zap.Duration("wait", wait))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, maxBusyRetries), ctx), notify)
	if err != nil && !errors.Is(err, ErrNotFound) {
		db.logger.Debug("transaction failed", zap.Error(err))
	}
	return err
}

// classify marks every error except a busy database as permanent.
func classify(err error) error {
	if isBusy(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code() & 0xff
	return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || serr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
