package journal

import "time"

// EventType distinguishes the two attendance events a scan can record.
type EventType string

const (
	TimeIn  EventType = "time_in"
	TimeOut EventType = "time_out"
)

// Status is the lateness classification computed once when the record is
// created. Sync never recomputes it.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
)

// SyncState is the journal lifecycle of a record. Synced rows written by
// the online path are retained for local history; rows that reach synced
// through reconciliation are deleted instead.
type SyncState string

const (
	StatePending  SyncState = "pending"
	StateSynced   SyncState = "synced"
	StateRejected SyncState = "rejected"
)

// ScanRecord is one physical scan event in the local journal.
type ScanRecord struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	TeacherID string    `json:"teacher_id"`
	DeviceID  string    `json:"device_id"`
	Date      string    `json:"date"`       // local wall-clock day, YYYY-MM-DD
	EventType EventType `json:"event_type"`
	TimeValue string    `json:"time_value"` // HH:MM:SS
	Status    Status    `json:"status"`
	Remarks   string    `json:"remarks,omitempty"`
	SyncState SyncState `json:"sync_state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// DateOf formats the local calendar day a scan belongs to.
func DateOf(t time.Time) string { return t.Format(dateLayout) }

// TimeOf formats the wall-clock time of day of a scan.
func TimeOf(t time.Time) string { return t.Format(timeLayout) }

// StatusAt classifies lateness for a scan at time t. Time-in scans are
// present during [00:00,07:00) and [11:00,13:05), late otherwise; the
// morning session closes at 07:00 and the afternoon session at 13:05.
// Time-out scans always record present: status tracks time-in lateness
// only and is carried forward unchanged regardless of checkout time.
func StatusAt(eventType EventType, t time.Time) Status {
	if eventType == TimeOut {
		return StatusPresent
	}
	minutes := t.Hour()*60 + t.Minute()
	switch {
	case minutes < 7*60:
		return StatusPresent
	case minutes < 11*60:
		return StatusLate
	case minutes < 13*60+5:
		return StatusPresent
	default:
		return StatusLate
	}
}
