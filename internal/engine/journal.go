package engine

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// Journal keeps the last outcome of every task per direction in SQLite so a
// later `status` can report what failed. The completion ledger, not the
// journal, decides whether work is skipped.
type Journal struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	batch   []JournalEntry
	done    chan struct{}
	stopped bool
}

// JournalEntry is one row of the journal.
type JournalEntry struct {
	Direction Direction
	Name      string
	Status    Status
	Attempts  int
	Bytes     int64
	Error     string
	Updated   time.Time
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db, path: path, done: make(chan struct{})}
	if err := j.init(); err != nil {
		db.Close()
		return nil, err
	}

	go j.flushLoop()
	return j, nil
}

func (j *Journal) init() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS outcomes (
			direction TEXT NOT NULL,
			name      TEXT NOT NULL,
			status    TEXT NOT NULL,
			attempts  INTEGER NOT NULL,
			bytes     INTEGER NOT NULL,
			error     TEXT NOT NULL,
			updated   INTEGER NOT NULL,
			PRIMARY KEY (direction, name)
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Record queues an outcome. Writes are batched and flushed periodically.
func (j *Journal) Record(dir Direction, out Outcome) error {
	e := JournalEntry{
		Direction: dir,
		Name:      out.Name,
		Status:    out.Status,
		Attempts:  out.Attempts,
		Bytes:     out.Bytes,
		Updated:   time.Now(),
	}
	if out.Err != nil {
		e.Error = out.Err.Error()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.batch = append(j.batch, e)
	if len(j.batch) >= 100 {
		return j.flushLocked()
	}
	return nil
}

// Flush writes pending entries.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if len(j.batch) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO outcomes
		(direction, name, status, attempts, bytes, error, updated) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range j.batch {
		if _, err := stmt.Exec(string(e.Direction), e.Name, string(e.Status),
			e.Attempts, e.Bytes, e.Error, e.Updated.UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	j.batch = j.batch[:0]
	return nil
}

func (j *Journal) flushLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.mu.Lock()
			_ = j.flushLocked()
			j.mu.Unlock()
		}
	}
}

// Entries returns the journal rows for dir ordered by name. An empty dir
// returns every direction.
func (j *Journal) Entries(dir Direction) ([]JournalEntry, error) {
	if err := j.Flush(); err != nil {
		return nil, err
	}

	q := "SELECT direction, name, status, attempts, bytes, error, updated FROM outcomes"
	var args []any
	if dir != "" {
		q += " WHERE direction = ?"
		args = append(args, string(dir))
	}
	q += " ORDER BY direction, name"

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e       JournalEntry
			d, s    string
			updated int64
		)
		if err := rows.Scan(&d, &e.Name, &s, &e.Attempts, &e.Bytes, &e.Error, &updated); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.Direction = Direction(d)
		e.Status = Status(s)
		e.Updated = time.Unix(0, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close flushes pending writes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.stopped {
		j.stopped = true
		close(j.done)
	}
	_ = j.flushLocked()
	j.mu.Unlock()
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// JournalPath returns the default journal location for a job identified by
// keys, typically the ledger path and the remote location. Journals live in
// $XDG_STATE_HOME/partsync, falling back to the temp directory.
func JournalPath(keys ...string) string {
	h := blake3.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	id := hex.EncodeToString(h.Sum(nil)[:8])

	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "partsync", id+".db")
	}
	return filepath.Join(os.TempDir(), "partsync-"+id+".db")
}
