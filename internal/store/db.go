// Package store persists channels, videos and transcripts in sqlite or
// postgres. Every write is an upsert keyed by the remote identifier.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/laytan/tubescriber/internal/retry"
	"github.com/laytan/tubescriber/internal/store/migrations"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned by single row lookups.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Store struct {
	db  *sql.DB
	q   *Queries
	log logrus.FieldLogger

	// retry is applied to writes that hit a busy database.
	retry retry.Policy
	// Now stamps first_seen_at and failures.
	Now func() time.Time
}

// Open connects to the database and migrates it to the latest version.
func Open(ctx context.Context, driver, dsn string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if driver == DriverSQLite {
		var err error
		if dsn, err = prepareSQLite(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	if driver == DriverSQLite {
		// Single writer, and keeps an in-memory database on one connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	if err := Migrate(db, driver, log); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		q:   New(db),
		log: log,
		retry: retry.Policy{
			Attempts:     5,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
			Retryable:    isBusy,
			Log:          log,
		},
		Now: time.Now,
	}, nil
}

// prepareSQLite creates the database's directory and sets connection options.
func prepareSQLite(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return "", errors.Wrap(err, "creating database directory")
		}
	}

	if strings.Contains(dsn, "?") {
		return dsn, nil
	}
	return dsn + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", nil
}

// Migrate runs every pending migration.
func Migrate(db *sql.DB, driver string, log logrus.FieldLogger) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(log)

	if err := goose.SetDialect(driver); err != nil {
		return errors.Wrap(err, "setting migration dialect")
	}

	if err := goose.Up(db, "."); err != nil {
		return errors.Wrap(err, "running migrations")
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// write runs fn, retrying while sqlite reports the database as busy.
func (s *Store) write(ctx context.Context, fn func(context.Context) error) error {
	_, err := retry.Do(ctx, s.retry, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// inTx runs fn in a transaction, rolled back when fn fails.
func (s *Store) inTx(ctx context.Context, fn func(*Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.WithError(rbErr).Error("rolling back transaction")
			}
		}
	}()

	if err = fn(s.q.WithTx(tx)); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "committing transaction")
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}
