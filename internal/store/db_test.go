package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := newTestDB(t)

	err := db.Read(func(sqlDB *sql.DB) error {
		var n int
		if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM scan_records`).Scan(&n); err != nil {
			return err
		}
		return sqlDB.QueryRow(`SELECT COUNT(*) FROM student_profiles`).Scan(&n)
	})
	assert.NoError(t, err)
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "journal.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWrite_PassesThroughPlainErrors(t *testing.T) {
	db := newTestDB(t)

	boom := errors.New("constraint violated")
	calls := 0
	err := db.Write(func(*sql.DB) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err, "non-corruption errors must not trigger recovery")
	assert.Equal(t, 1, calls, "no retry for plain errors")
}

func TestWrite_RecreatesOnCorruptionAndRetriesOnce(t *testing.T) {
	db := newTestDB(t)

	// Seed a row so we can observe the file being replaced.
	err := db.Write(func(sqlDB *sql.DB) error {
		_, err := sqlDB.Exec(`
			INSERT INTO scan_records (id, student_id, date, event_type, time_value, status, created_at, updated_at)
			VALUES ('r1', 's1', '2026-01-05', 'time_in', '07:40:00', 'late', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		return err
	})
	require.NoError(t, err)

	calls := 0
	err = db.Write(func(*sql.DB) error {
		calls++
		if calls == 1 {
			return errors.New("database disk image is malformed")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "corrupted write retried exactly once")

	// The recreated file starts empty: the journal is a disposable cache.
	var n int
	err = db.Read(func(sqlDB *sql.DB) error {
		return sqlDB.QueryRow(`SELECT COUNT(*) FROM scan_records`).Scan(&n)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWrite_CorruptionOnRetrySurfacesError(t *testing.T) {
	db := newTestDB(t)

	err := db.Write(func(*sql.DB) error {
		return errors.New("database disk image is malformed")
	})
	assert.Error(t, err, "a write that fails even after recreation must report it")
}

func TestIsCorrupt(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("UNIQUE constraint failed: scan_records.id"), false},
		{errors.New("database disk image is malformed"), true},
		{errors.New("file is not a database"), true},
		{errors.New("attempt to write a readonly database"), true},
		{errors.New("unable to open database file"), true},
		{errors.New("disk I/O error"), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsCorrupt(tc.err), "err=%v", tc.err)
	}
}
