// Package journal keeps an append-only SQLite record of tracker activity
// for later inspection. It is never read back into tracker state.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drewfead/vigil/internal/logging"
	"github.com/drewfead/vigil/internal/tracker"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one journaled activity.
type Entry struct {
	ID        string
	Kind      string
	ProjectID string
	Path      string
	SessionID string
	SubjectID string
	Detail    string
	At        time.Time
}

// Filter narrows List results.
type Filter struct {
	ProjectID string
	Kind      string
	Since     time.Time
	Limit     int
}

// Journal writes entries asynchronously through a bounded queue.
type Journal struct {
	db      *sql.DB
	queue   chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Uint64
	log     *slog.Logger
}

// Open creates or opens the journal database at dbPath.
func Open(dbPath string, buffer int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer keeps SQLite free of lock contention.
	db.SetMaxOpenConns(1)

	if buffer <= 0 {
		buffer = 256
	}
	j := &Journal{
		db:    db,
		queue: make(chan Entry, buffer),
		done:  make(chan struct{}),
		log:   logging.Component("journal"),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		project_id  TEXT NOT NULL,
		path        TEXT NOT NULL DEFAULT '',
		session_id  TEXT NOT NULL DEFAULT '',
		subject_id  TEXT NOT NULL DEFAULT '',
		detail      TEXT NOT NULL DEFAULT '',
		at          DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_at ON activity(at);
	CREATE INDEX IF NOT EXISTS idx_activity_project ON activity(project_id, at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Record queues an activity without blocking. When the queue is full the
// activity is dropped and counted.
func (j *Journal) Record(a tracker.Activity) {
	if j.closed.Load() {
		return
	}
	e := Entry{
		ID:        uuid.NewString(),
		Kind:      a.Kind,
		ProjectID: a.ProjectID,
		Path:      a.Path,
		SessionID: a.SessionID,
		SubjectID: a.SubjectID,
		Detail:    a.Detail,
		At:        a.At,
	}
	select {
	case j.queue <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped is the number of activities discarded because the queue was full.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "goroutine", "journal-writer")
		}
	}()

	for {
		select {
		case e := <-j.queue:
			j.write(e)
		case <-j.done:
			for {
				select {
				case e := <-j.queue:
					j.write(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Append(ctx, e); err != nil {
		j.log.Warn("failed to journal activity", "kind", e.Kind, "project", e.ProjectID, "error", err)
	}
}

// Append writes one entry synchronously.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO activity (id, kind, project_id, path, session_id, subject_id, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Kind, e.ProjectID, e.Path, e.SessionID, e.SubjectID, e.Detail, e.At.UTC())
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	var where []string
	var args []any
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if !f.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, f.Since.UTC())
	}

	query := `SELECT id, kind, project_id, path, session_id, subject_id, detail, at FROM activity`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.ProjectID, &e.Path, &e.SessionID, &e.SubjectID, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM activity WHERE at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes queued entries and closes the database.
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(j.done)
	j.wg.Wait()
	return j.db.Close()
}
