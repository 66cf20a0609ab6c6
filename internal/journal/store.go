package journal

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"attendsync/internal/store"
)

// CreateOutcome reports what Create did with a scan.
type CreateOutcome int

const (
	// Created means a new row was inserted.
	Created CreateOutcome = iota
	// DuplicateSkipped means an equivalent row already existed. Callers
	// must treat this as a successful no-op, not a failure.
	DuplicateSkipped
)

// CreateRequest carries one scan into the journal.
type CreateRequest struct {
	StudentID string
	TeacherID string
	DeviceID  string
	EventType EventType
	// Known marks students with a cached profile. Unknown students are
	// capped at one record per day regardless of event type, since their
	// class membership cannot be verified without connectivity.
	Known bool
	// Now is the scan instant; the record's date, time and status derive
	// from it.
	Now time.Time
	// State defaults to pending. The online branch writes synced backup
	// rows for local history display.
	State SyncState
}

// Store is the durable local journal of scan events. It exclusively owns
// the ScanRecord lifecycle; every mutation funnels through the single
// write path of the backing store.
type Store struct {
	db *store.DB
}

// NewStore creates a journal over an opened backing file.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

const recordColumns = `id, student_id, teacher_id, device_id, date, event_type, time_value, status, remarks, sync_state, created_at, updated_at`

// Create inserts one scan record unless an equivalent record already exists
// for the day. Known students dedup per (student, date, event type); unknown
// students dedup per (student, date) across both types. The duplicate check
// counts rows in any sync state, so a synced online backup also suppresses a
// repeat scan.
func (s *Store) Create(req CreateRequest) (CreateOutcome, *ScanRecord, error) {
	if req.StudentID == "" {
		return Created, nil, errors.New("student id required")
	}
	if req.State == "" {
		req.State = StatePending
	}
	date := DateOf(req.Now)

	existing, err := s.findDup(req.StudentID, date, req.EventType, req.Known)
	if err != nil {
		return Created, nil, err
	}
	if existing != nil {
		return DuplicateSkipped, existing, nil
	}

	rec := &ScanRecord{
		ID:        uuid.NewString(),
		StudentID: req.StudentID,
		TeacherID: req.TeacherID,
		DeviceID:  req.DeviceID,
		Date:      date,
		EventType: req.EventType,
		TimeValue: TimeOf(req.Now),
		Status:    StatusAt(req.EventType, req.Now),
		SyncState: req.State,
		CreatedAt: req.Now.UTC(),
		UpdatedAt: req.Now.UTC(),
	}
	err = s.db.Write(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO scan_records (`+recordColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			rec.ID, rec.StudentID, rec.TeacherID, rec.DeviceID, rec.Date,
			rec.EventType, rec.TimeValue, rec.Status, rec.Remarks,
			rec.SyncState, rec.CreatedAt, rec.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return Created, nil, err
	}
	return Created, rec, nil
}

func (s *Store) findDup(studentID, date string, eventType EventType, known bool) (*ScanRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scan_records WHERE student_id = ? AND date = ?`
	args := []any{studentID, date}
	if known {
		query += ` AND event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` LIMIT 1`
	return s.queryOne(query, args...)
}

// FindForDay returns the record of the given type for a student on a day,
// or nil when none exists.
func (s *Store) FindForDay(studentID, date string, eventType EventType) (*ScanRecord, error) {
	return s.queryOne(`SELECT `+recordColumns+` FROM scan_records
		WHERE student_id = ? AND date = ? AND event_type = ? LIMIT 1`,
		studentID, date, string(eventType))
}

// ListPending returns pending records, optionally scoped to a teacher
// and/or a day, in creation order.
func (s *Store) ListPending(teacherID, date string) ([]ScanRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scan_records WHERE sync_state = ?`
	args := []any{string(StatePending)}
	if teacherID != "" {
		query += ` AND teacher_id = ?`
		args = append(args, teacherID)
	}
	if date != "" {
		query += ` AND date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY created_at ASC`
	return s.queryMany(query, args...)
}

// ListForDate returns every record for a day, any sync state, in creation
// order. This backs the local history view.
func (s *Store) ListForDate(date, teacherID string) ([]ScanRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scan_records WHERE date = ?`
	args := []any{date}
	if teacherID != "" {
		query += ` AND teacher_id = ?`
		args = append(args, teacherID)
	}
	query += ` ORDER BY created_at ASC`
	return s.queryMany(query, args...)
}

// ListSyncable returns the records the reconciler should submit: pending
// and rejected, oldest first. Rejected rows stay in rotation so conditions
// that later resolve on the authority side (a class reassignment, say) get
// another chance.
func (s *Store) ListSyncable(teacherID string) ([]ScanRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scan_records WHERE sync_state IN (?, ?)`
	args := []any{string(StatePending), string(StateRejected)}
	if teacherID != "" {
		query += ` AND teacher_id = ?`
		args = append(args, teacherID)
	}
	query += ` ORDER BY created_at ASC`
	return s.queryMany(query, args...)
}

// PendingCount reports the sync backlog for a teacher scope.
func (s *Store) PendingCount(teacherID string) (int, error) {
	query := `SELECT COUNT(*) FROM scan_records WHERE sync_state = ?`
	args := []any{string(StatePending)}
	if teacherID != "" {
		query += ` AND teacher_id = ?`
		args = append(args, teacherID)
	}
	var n int
	err := s.db.Read(func(db *sql.DB) error {
		return db.QueryRow(query, args...).Scan(&n)
	})
	return n, err
}

// MarkSynced removes a reconciled record. Synced is a transient pre-delete
// state here, not an archive: the authority now holds the record.
func (s *Store) MarkSynced(id string) error {
	return s.db.Write(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM scan_records WHERE id = ?`, id)
		return err
	})
}

// MarkRejected keeps the row, flagged with a short operator-facing reason.
// now stamps updated_at; the journal never reads the wall clock itself.
func (s *Store) MarkRejected(id, remarks string, now time.Time) error {
	return s.db.Write(func(db *sql.DB) error {
		_, err := db.Exec(`
			UPDATE scan_records SET sync_state = ?, remarks = ?, updated_at = ?
			WHERE id = ?`,
			string(StateRejected), remarks, now.UTC(), id)
		return err
	})
}

func (s *Store) queryOne(query string, args ...any) (*ScanRecord, error) {
	var rec ScanRecord
	err := s.db.Read(func(db *sql.DB) error {
		return scanRecord(db.QueryRow(query, args...), &rec)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) queryMany(query string, args ...any) ([]ScanRecord, error) {
	var out []ScanRecord
	err := s.db.Read(func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec ScanRecord
			if err := scanRecord(rows, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, rec *ScanRecord) error {
	return row.Scan(
		&rec.ID, &rec.StudentID, &rec.TeacherID, &rec.DeviceID, &rec.Date,
		&rec.EventType, &rec.TimeValue, &rec.Status, &rec.Remarks,
		&rec.SyncState, &rec.CreatedAt, &rec.UpdatedAt,
	)
}
