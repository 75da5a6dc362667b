package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Execer is satisfied by *sql.DB and *sql.Tx. Mutating operations pass their
// transaction so the entry commits or rolls back with the state change.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Insert writes one entry through q. Defaults are filled in place.
func Insert(q Execer, e *Entry) error {
	fillDefaults(e)
	_, err := q.Exec(`
		INSERT INTO audit_log (id, ts, actor, action, entity_type, entity_id,
			before_json, after_json, justification, abuse_flag, trace_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TS.UTC(), e.Actor, e.Action, e.EntityType, e.EntityID,
		e.Before, e.After, e.Justification, e.AbuseFlag, e.TraceID)
	return err
}

func fillDefaults(e *Entry) {
	if e.ID == "" {
		e.ID = "aud_" + uuid.NewString()
	}
	if e.TS.IsZero() {
		e.TS = time.Now()
	}
}

// SQLiteLogger buffers request-level entries and flushes them in the
// background. Mutation entries never go through here; they use Insert with
// the mutating transaction.
type SQLiteLogger struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

func NewSQLiteLogger(sqlDB *sql.DB) *SQLiteLogger {
	l := &SQLiteLogger{
		db:   sqlDB,
		ch:   make(chan *Entry, 256),
		done: make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

func (l *SQLiteLogger) Log(_ context.Context, entry *Entry) error {
	return Insert(l.db, entry)
}

func (l *SQLiteLogger) LogAsync(entry *Entry) {
	fillDefaults(entry)
	select {
	case l.ch <- entry:
	default:
		slog.Warn("audit buffer full, dropping entry", "action", entry.Action)
	}
}

func (l *SQLiteLogger) Close() error {
	l.once.Do(func() {
		close(l.ch)
		<-l.done
	})
	return nil
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	batch := make([]*Entry, 0, 32)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-l.ch:
			if !ok {
				l.flushBatch(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 32 {
				l.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *SQLiteLogger) flushBatch(batch []*Entry) {
	for _, e := range batch {
		if err := Insert(l.db, e); err != nil {
			slog.Error("audit write failed", "error", err, "action", e.Action)
		}
	}
}
