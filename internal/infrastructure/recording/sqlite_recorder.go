// Package recording persists stream chunks into a SQLite database so a run's
// output can be inspected after the fact.
package recording

import (
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"spawnio.dev/cli/internal/core/domain/process"
)

// Recorder stores chunks one row at a time, ordered by a per-source sequence
// number within a session.
type Recorder struct {
	db   *sql.DB
	stmt *sql.Stmt
	ts   int64

	mu       sync.Mutex
	counters map[process.Source]int
}

// NewRecorder opens (creating if needed) the database at dsn and prepares a
// fresh recording session.
func NewRecorder(dsn string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	table := `CREATE TABLE IF NOT EXISTS stream_chunks (
        session_ts INTEGER,
        source     TEXT,
        seq        INTEGER,
        data       BLOB
    )`
	if _, err = db.Exec(table); err != nil {
		db.Close()
		return nil, err
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_session_seq ON stream_chunks(session_ts, source, seq)`
	if _, err = db.Exec(idx); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(`INSERT INTO stream_chunks(session_ts,source,seq,data) VALUES(?,?,?,?)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{
		db:       db,
		stmt:     stmt,
		ts:       time.Now().UnixNano(),
		counters: map[process.Source]int{},
	}, nil
}

// Record appends one chunk to the session.
func (r *Recorder) Record(chunk process.StreamChunk) error {
	r.mu.Lock()
	n := r.counters[chunk.Source] + 1
	r.counters[chunk.Source] = n
	r.mu.Unlock()
	_, err := r.stmt.Exec(r.ts, string(chunk.Source), n, chunk.Data)
	return err
}

// SessionTimestamp identifies the recording session within the database.
func (r *Recorder) SessionTimestamp() int64 {
	return r.ts
}

// Close releases the prepared statement and the database handle.
func (r *Recorder) Close() error {
	var err error
	if r.stmt != nil {
		if e := r.stmt.Close(); e != nil {
			err = e
		}
	}
	if r.db != nil {
		if e := r.db.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
