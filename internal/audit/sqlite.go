// Package audit keeps an append-only log of withdrawal transactions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/udisondev/spawnerd/internal/model"
)

const (
	queueSize = 4096
	batchMax  = 256
)

// ErrClosed is returned when querying a closed store.
var ErrClosed = errors.New("audit store closed")

// Item is one audited stack.
type Item struct {
	Kind   string `json:"kind"`
	Meta   string `json:"meta,omitempty"`
	Amount int64  `json:"amount"`
}

// Row is one stored audit entry.
type Row struct {
	ID        int64
	Actor     string
	SpawnerID string
	Action    string
	Success   bool
	Reason    string
	Items     []Item
	Exp       int64
	Value     float64
	At        time.Time
}

// SQLiteStore writes audit entries through a single writer goroutine.
// Record never blocks the caller; entries are dropped if the writer falls
// behind.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.RWMutex // guards ch against send after close
	ch   chan request
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
	written atomic.Int64
}

type request struct {
	entry model.AuditEntry
	sync  chan struct{} // barrier: closed once everything before it is written
}

// OpenSQLite opens (or creates) the audit database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("empty audit db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit schema: %w", err)
	}

	s := &SQLiteStore{
		db: db,
		ch: make(chan request, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actor TEXT NOT NULL,
			spawner_id TEXT NOT NULL,
			action TEXT NOT NULL,
			success INTEGER NOT NULL,
			reason TEXT NOT NULL,
			items_json TEXT NOT NULL,
			exp INTEGER NOT NULL,
			value REAL NOT NULL,
			at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_actor ON withdrawals(actor, id);`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_spawner ON withdrawals(spawner_id, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Record implements model.Auditor.
func (s *SQLiteStore) Record(entry model.AuditEntry) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- request{entry: entry}:
	default:
		if s.dropped.Add(1)%1000 == 1 {
			slog.Warn("audit queue full, entries dropped", "dropped", s.dropped.Load())
		}
	}
}

// Sync waits until every entry recorded before the call is written.
func (s *SQLiteStore) Sync(ctx context.Context) error {
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.ch <- request{sync: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns written and dropped entry counts.
func (s *SQLiteStore) Stats() (written, dropped int64) {
	return s.written.Load(), s.dropped.Load()
}

// Close drains the queue and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) loop() {
	for r := range s.ch {
		batch := []request{r}
	drain:
		for len(batch) < batchMax {
			select {
			case next, ok := <-s.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		s.write(batch)
	}
}

func (s *SQLiteStore) write(batch []request) {
	entries := make([]model.AuditEntry, 0, len(batch))
	for _, r := range batch {
		if r.sync != nil {
			defer close(r.sync)
			continue
		}
		entries = append(entries, r.entry)
	}
	if len(entries) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("audit begin failed", "error", err, "entries", len(entries))
		return
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO withdrawals(actor,spawner_id,action,success,reason,items_json,exp,value,at_ms) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		slog.Error("audit prepare failed", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range entries {
		items := make([]Item, 0, len(e.Items))
		for _, st := range e.Items {
			items = append(items, Item{Kind: st.Sig.Kind, Meta: st.Sig.Meta, Amount: st.Amount})
		}
		raw, _ := json.Marshal(items)
		if _, err := stmt.Exec(e.Actor, e.SpawnerID, e.Action, e.Success, e.Reason, string(raw), e.Exp, e.Value, e.At.UnixMilli()); err != nil {
			slog.Error("audit insert failed", "actor", e.Actor, "action", e.Action, "error", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("audit commit failed", "error", err, "entries", len(entries))
		return
	}
	s.written.Add(int64(len(entries)))
}

// Recent returns up to limit newest entries, newest first. An empty actor
// matches every actor.
func (s *SQLiteStore) Recent(ctx context.Context, actor string, limit int) ([]Row, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	const cols = `id,actor,spawner_id,action,success,reason,items_json,exp,value,at_ms`
	var (
		rows *sql.Rows
		err  error
	)
	if actor == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM withdrawals ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM withdrawals WHERE actor = ? ORDER BY id DESC LIMIT ?`, actor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r    Row
			raw  string
			atMs int64
		)
		if err := rows.Scan(&r.ID, &r.Actor, &r.SpawnerID, &r.Action, &r.Success, &r.Reason, &raw, &r.Exp, &r.Value, &atMs); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Items); err != nil {
			return nil, fmt.Errorf("decoding audit items of row %d: %w", r.ID, err)
		}
		r.At = time.UnixMilli(atMs)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return out, nil
}
