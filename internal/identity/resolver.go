package identity

import (
	"database/sql"
	"errors"
	"fmt"

	"attendsync/internal/store"
)

// Profile is the cached roster entry for one student. Absence of a row
// means the student is unknown on this device.
type Profile struct {
	StudentID  string `json:"student_id"`
	FullName   string `json:"full_name"`
	GradeLevel string `json:"grade_level"`
	Section    string `json:"section"`
	Strand     string `json:"strand"`
	SchoolID   string `json:"school_id"`
}

// Resolver maps student ids to display names. It exclusively owns the
// StudentProfile cache; for unknown students it derives a stable anonymous
// label from the journal instead of failing.
type Resolver struct {
	db *store.DB
}

// NewResolver creates a resolver over the shared backing file.
func NewResolver(db *store.DB) *Resolver {
	return &Resolver{db: db}
}

// Lookup returns the cached profile for a student, or nil when unknown.
func (r *Resolver) Lookup(studentID string) (*Profile, error) {
	var p Profile
	err := r.db.Read(func(db *sql.DB) error {
		return db.QueryRow(`
			SELECT student_id, full_name, grade_level, section, strand, school_id
			FROM student_profiles WHERE student_id = ?`, studentID,
		).Scan(&p.StudentID, &p.FullName, &p.GradeLevel, &p.Section, &p.Strand, &p.SchoolID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Known reports whether a profile is cached for the student.
func (r *Resolver) Known(studentID string) (bool, error) {
	p, err := r.Lookup(studentID)
	return p != nil, err
}

// ResolveName returns the student's real name when a profile is cached.
// Otherwise it returns "Student {N}", where N is the 1-based position of
// the id among the distinct unknown ids currently pending or rejected in
// the teacher scope, ordered by each id's earliest scan. The ordering is
// recomputed from the journal on every call, so labels renumber
// consistently after intervening records sync away.
func (r *Resolver) ResolveName(studentID, teacherScope string) (string, error) {
	p, err := r.Lookup(studentID)
	if err != nil {
		return "", err
	}
	if p != nil {
		return p.FullName, nil
	}

	ids, err := r.unknownIDs(teacherScope)
	if err != nil {
		return "", err
	}
	for i, id := range ids {
		if id == studentID {
			return fmt.Sprintf("Student %d", i+1), nil
		}
	}
	// Not journaled yet: the id would take the next slot once recorded.
	return fmt.Sprintf("Student %d", len(ids)+1), nil
}

// unknownIDs lists distinct unsynced student ids without a cached profile,
// ordered by earliest occurrence.
func (r *Resolver) unknownIDs(teacherScope string) ([]string, error) {
	query := `
		SELECT student_id FROM scan_records
		WHERE sync_state IN ('pending', 'rejected')
		  AND student_id NOT IN (SELECT student_id FROM student_profiles)`
	args := []any{}
	if teacherScope != "" {
		query += ` AND teacher_id = ?`
		args = append(args, teacherScope)
	}
	query += ` GROUP BY student_id ORDER BY MIN(created_at) ASC`

	var ids []string
	err := r.db.Read(func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// HydrateRoster replaces the whole profile cache with the given roster.
// Used only when online at login; never a partial merge.
func (r *Resolver) HydrateRoster(profiles []Profile) error {
	return r.db.Write(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM student_profiles`); err != nil {
			return err
		}
		for _, p := range profiles {
			if p.StudentID == "" {
				continue
			}
			if _, err := tx.Exec(`
				INSERT INTO student_profiles (student_id, full_name, grade_level, section, strand, school_id)
				VALUES (?,?,?,?,?,?)
				ON CONFLICT(student_id) DO UPDATE SET
					full_name = excluded.full_name,
					grade_level = excluded.grade_level,
					section = excluded.section,
					strand = excluded.strand,
					school_id = excluded.school_id`,
				p.StudentID, p.FullName, p.GradeLevel, p.Section, p.Strand, p.SchoolID,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// CacheName upserts a name learned opportunistically, e.g. when the
// authority echoes it back after a successful submit. Existing roster
// fields are kept.
func (r *Resolver) CacheName(studentID, name string) error {
	if studentID == "" || name == "" {
		return nil
	}
	return r.db.Write(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO student_profiles (student_id, full_name)
			VALUES (?, ?)
			ON CONFLICT(student_id) DO UPDATE SET full_name = excluded.full_name`,
			studentID, name)
		return err
	})
}
