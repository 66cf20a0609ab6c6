package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB owns the journal's SQLite file. The file is a disposable cache, never
// the system of record: when a write hits a corrupt or unwritable database,
// the file is deleted and recreated, and the write retried exactly once.
//
// The underlying storage is single-writer, so every mutation goes through
// Write; reads may run concurrently through Read.
type DB struct {
	mu   sync.RWMutex
	path string
	sql  *sql.DB
}

// Open opens (or creates) the SQLite file at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	return &DB{path: path, sql: db}, nil
}

func open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scan_records (
		id          TEXT PRIMARY KEY,
		student_id  TEXT NOT NULL,
		teacher_id  TEXT NOT NULL DEFAULT '',
		device_id   TEXT NOT NULL DEFAULT '',
		date        TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		time_value  TEXT NOT NULL,
		status      TEXT NOT NULL,
		remarks     TEXT NOT NULL DEFAULT '',
		sync_state  TEXT NOT NULL DEFAULT 'pending',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS student_profiles (
		student_id  TEXT PRIMARY KEY,
		full_name   TEXT NOT NULL,
		grade_level TEXT NOT NULL DEFAULT '',
		section     TEXT NOT NULL DEFAULT '',
		strand      TEXT NOT NULL DEFAULT '',
		school_id   TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_scan_records_day   ON scan_records(student_id, date);
	CREATE INDEX IF NOT EXISTS idx_scan_records_state ON scan_records(sync_state, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Read runs fn against the current handle. Multiple readers may proceed at
// once; a recreate in a concurrent writer blocks until readers drain.
func (d *DB) Read(fn func(*sql.DB) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fn(d.sql)
}

// Write serializes fn with every other write. If fn fails because the file
// is corrupt or unwritable, the file is deleted, recreated empty, and fn
// retried once. Losing the file loses only not-yet-synced scans, which the
// operator can re-scan.
func (d *DB) Write(fn func(*sql.DB) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := fn(d.sql)
	if err == nil || !IsCorrupt(err) {
		return err
	}
	if rerr := d.recreate(); rerr != nil {
		return fmt.Errorf("journal unrecoverable: %w", rerr)
	}
	return fn(d.sql)
}

// recreate drops the backing file and starts over. Caller holds the lock.
func (d *DB) recreate() error {
	if d.sql != nil {
		d.sql.Close()
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(d.path + suffix)
	}
	db, err := open(d.path)
	if err != nil {
		return err
	}
	d.sql = db
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// IsCorrupt reports whether err indicates the SQLite file itself is broken
// rather than the statement. Matched on the driver's message text since
// go-sqlite3 does not export these as sentinel errors.
func IsCorrupt(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, probe := range []string{
		"database disk image is malformed",
		"file is not a database",
		"attempt to write a readonly database",
		"unable to open database file",
		"disk I/O error",
	} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}
