// Package db is the SQLite persistence layer. Every mutation that can change
// a candidate's readiness recomputes it inside the same transaction; there is
// no cached state that can drift from its inputs.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/larkspur/copdesk/internal/cop"
	"github.com/larkspur/copdesk/pkg/trace"
)

type DB struct {
	*sql.DB
	traces *trace.Store
}

func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{DB: sqlDB}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.Exec(schema)
	return err
}

// SetTraceStore attaches the async operation trace sink. Nil disables
// tracing.
func (db *DB) SetTraceStore(s *trace.Store) {
	db.traces = s
}

// observe records one mutating operation's wall time and outcome.
func (db *DB) observe(op string, start time.Time, err error) {
	if db.traces != nil {
		db.traces.Record(context.Background(), op, "", time.Since(start), err)
	}
}

// NewID returns a fresh identifier for any persisted record.
func NewID() string {
	return uuid.NewString()
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// mapImmutability converts a RAISE(ABORT) trigger failure from one of the
// write-once tables into a LedgerIntegrityError. Other errors pass through.
func mapImmutability(err error, table string) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintTrigger {
		return &cop.LedgerIntegrityError{Table: table, Detail: se.Error()}
	}
	return err
}
