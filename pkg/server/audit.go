package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nova-gt/novaserver/pkg/events"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	event   TEXT NOT NULL,
	conn    INTEGER NOT NULL,
	addr    TEXT NOT NULL DEFAULT '',
	account TEXT NOT NULL DEFAULT '',
	flow    TEXT NOT NULL DEFAULT '',
	world   TEXT NOT NULL DEFAULT '',
	detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_account_ts ON audit(account, ts);
`

// auditQueue bounds the events buffered between dispatch and the writer.
const auditQueue = 1024

// AuditRecord is one row of the audit log.
type AuditRecord struct {
	Time    time.Time
	Event   string
	Conn    uint64
	Addr    string
	Account string
	Flow    string
	World   string
	Detail  string
}

// AuditLog is a global event bus subscriber that records connections,
// logons and world transitions in SQLite. Receive only queues; a writer
// goroutine does the inserts.
type AuditLog struct {
	db   *sql.DB
	path string
	log  *zap.Logger

	queue chan events.Event
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// OpenAuditLog opens a SQLite database, sets WAL mode and busy timeout, and
// starts the writer.
func OpenAuditLog(path string, log *zap.Logger) (*AuditLog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One writer; WAL lets readers proceed.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	a := &AuditLog{
		db:    db,
		path:  path,
		log:   log.Named("audit"),
		queue: make(chan events.Event, auditQueue),
		done:  make(chan struct{}),
	}
	go a.writer()
	return a, nil
}

// Path returns the filesystem path of the SQLite database.
func (a *AuditLog) Path() string { return a.path }

// Receive implements events.Subscriber. Console text is not recorded.
func (a *AuditLog) Receive(ev events.Event) {
	if ev.Type == events.EvText {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped++
		if a.dropped%100 == 1 {
			a.log.Warn("audit queue full, dropping events", zap.Int("dropped", a.dropped))
		}
	}
}

// Closed implements events.Subscriber.
func (a *AuditLog) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *AuditLog) writer() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.insert(ev); err != nil {
			a.log.Warn("insert", zap.Stringer("event", ev.Type), zap.Error(err))
		}
	}
}

func (a *AuditLog) insert(ev events.Event) error {
	_, err := a.db.Exec(
		`INSERT INTO audit (ts, event, conn, addr, account, flow, world, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), ev.Type.String(), uint64(ev.Conn), ev.Addr, ev.Account, ev.Flow, ev.World, ev.Text,
	)
	return err
}

// Recent returns the newest records, newest first. An empty account
// matches every account.
func (a *AuditLog) Recent(ctx context.Context, account string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ts, event, conn, addr, account, flow, world, detail FROM audit`
	args := []any{}
	if account != "" {
		q += ` WHERE account = ?`
		args = append(args, account)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r  AuditRecord
			ts int64
		)
		if err := rows.Scan(&ts, &r.Event, &r.Conn, &r.Addr, &r.Account, &r.Flow, &r.World, &r.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		r.Time = time.UnixMilli(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Purge deletes records older than retention and returns the count.
func (a *AuditLog) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := a.db.ExecContext(ctx, `DELETE FROM audit WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	return res.RowsAffected()
}

// StartRetention purges old records hourly until ctx is cancelled.
func (a *AuditLog) StartRetention(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := a.Purge(ctx, retention)
				if err != nil {
					a.log.Warn("retention cleanup", zap.Error(err))
					continue
				}
				if n > 0 {
					a.log.Info("purged old records", zap.Int64("rows", n))
				}
			}
		}
	}()
}

// Checkpoint forces a WAL checkpoint to flush all writes to the main database file.
func (a *AuditLog) Checkpoint() error {
	_, err := a.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close stops accepting events, drains the queue and closes the database.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("audit: already closed")
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.db.Close()
}
