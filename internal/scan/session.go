package scan

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"attendsync/internal/identity"
	"attendsync/internal/journal"
	"attendsync/internal/remote"
)

// OutcomeKind is the terminal result class of one scan.
type OutcomeKind string

const (
	OutcomeAccepted        OutcomeKind = "accepted"
	OutcomeRejected        OutcomeKind = "rejected"
	OutcomeAlreadyRecorded OutcomeKind = "already_recorded"
	// OutcomeIgnored covers decodes dropped by the in-flight guard or the
	// duplicate-payload debounce window.
	OutcomeIgnored OutcomeKind = "ignored"
)

// ErrKind tags an outcome with its error taxonomy class. Accepted outcomes
// carry no tag.
type ErrKind string

const (
	ErrNone      ErrKind = ""
	ErrDuplicate ErrKind = "duplicate_entry"
	ErrRejected  ErrKind = "validation_rejected"
	ErrStorage   ErrKind = "storage_error"
)

// Outcome is what the UI host gets back for a scan. It always carries a
// short human-readable message; nothing ever panics or errors past the
// engine boundary.
type Outcome struct {
	Kind       OutcomeKind       `json:"kind"`
	ErrKind    ErrKind           `json:"err_kind,omitempty"`
	Reason     remote.Reason     `json:"reason,omitempty"`
	Message    string            `json:"message"`
	StudentID  string            `json:"student_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	EventType  journal.EventType `json:"event_type,omitempty"`
	Status     journal.Status    `json:"status,omitempty"`
	RecordedAt string            `json:"recorded_at,omitempty"`
	// Offline marks outcomes produced without the authority's confirmation.
	Offline bool `json:"offline,omitempty"`
}

// Authority is the slice of the remote client the engine needs.
type Authority interface {
	Online(ctx context.Context) bool
	SubmitTimeIn(ctx context.Context, sub remote.Submission) (*remote.SubmitResult, error)
	SubmitTimeOut(ctx context.Context, sub remote.Submission) (*remote.SubmitResult, error)
}

// Options configures a scanning session.
type Options struct {
	TeacherID string
	DeviceID  string
	// Debounce is the window within which identical payloads are dropped,
	// absorbing repeated camera reads of a static code.
	Debounce time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Session owns the per-device scan state: the in-flight flag and the
// debounce memory. One scan is processed at a time; a decode arriving
// while another is in flight is dropped, never queued.
type Session struct {
	journal   *journal.Store
	ids       *identity.Resolver
	authority Authority
	opts      Options

	mu          sync.Mutex
	teacherID   string
	inFlight    bool
	lastPayload string
	lastSeen    time.Time
}

// NewSession creates the validation engine for one device.
func NewSession(j *journal.Store, ids *identity.Resolver, authority Authority, opts Options) *Session {
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{journal: j, ids: ids, authority: authority, opts: opts, teacherID: opts.TeacherID}
}

// SetTeacher switches the session's teacher scope, typically after a
// successful login resolves it.
func (s *Session) SetTeacher(teacherID string) {
	s.mu.Lock()
	s.teacherID = teacherID
	s.mu.Unlock()
}

// Teacher returns the current teacher scope.
func (s *Session) Teacher() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teacherID
}

// Validate runs one decoded payload through the engine. eventType pins
// TimeIn/TimeOut when non-empty; otherwise the type is resolved from what
// the journal already holds for the student today.
func (s *Session) Validate(ctx context.Context, payload string, eventType journal.EventType) Outcome {
	now := s.opts.Now()

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return Outcome{Kind: OutcomeIgnored, Message: "A scan is already being processed"}
	}
	if payload == s.lastPayload && now.Sub(s.lastSeen) < s.opts.Debounce {
		s.lastSeen = now
		s.mu.Unlock()
		return Outcome{Kind: OutcomeIgnored, Message: "Duplicate read dropped"}
	}
	s.inFlight = true
	s.lastPayload = payload
	s.lastSeen = now
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	studentID := ExtractStudentID(payload)
	if studentID == "" {
		return Outcome{Kind: OutcomeRejected, ErrKind: ErrRejected, Message: "Empty scan payload"}
	}

	if eventType == "" {
		eventType = s.resolveEventType(studentID, journal.DateOf(now))
	}

	if s.authority.Online(ctx) {
		return s.validateOnline(ctx, studentID, eventType, now)
	}
	return s.validateOffline(studentID, eventType, now)
}

// resolveEventType picks TimeIn when none exists yet today, else TimeOut,
// else TimeIn again for the pathological day where both already exist.
func (s *Session) resolveEventType(studentID, date string) journal.EventType {
	in, err := s.journal.FindForDay(studentID, date, journal.TimeIn)
	if err != nil || in == nil {
		return journal.TimeIn
	}
	out, err := s.journal.FindForDay(studentID, date, journal.TimeOut)
	if err != nil || out == nil {
		return journal.TimeOut
	}
	return journal.TimeIn
}

func (s *Session) validateOnline(ctx context.Context, studentID string, eventType journal.EventType, now time.Time) Outcome {
	date := journal.DateOf(now)

	// Pre-check locally even while online: a round trip that can only come
	// back "already recorded" is a wasted duplicate-looking failure.
	if existing, err := s.journal.FindForDay(studentID, date, eventType); err == nil && existing != nil {
		return s.alreadyRecorded(studentID, existing)
	}

	sub := remote.Submission{
		StudentID: studentID,
		Date:      date,
		TimeOfDay: journal.TimeOf(now),
		TeacherID: s.Teacher(),
		DeviceID:  s.opts.DeviceID,
	}
	var res *remote.SubmitResult
	var err error
	if eventType == journal.TimeOut {
		res, err = s.authority.SubmitTimeOut(ctx, sub)
	} else {
		res, err = s.authority.SubmitTimeIn(ctx, sub)
	}

	if err != nil {
		if rej := remote.AsRejection(err); rej != nil {
			return Outcome{
				Kind:      OutcomeRejected,
				ErrKind:   ErrRejected,
				Reason:    rej.Reason,
				Message:   rej.Message,
				StudentID: studentID,
				EventType: eventType,
			}
		}
		// Timeouts and 5xx degrade to the offline path instead of
		// surfacing an error for a scan the journal can still hold.
		return s.validateOffline(studentID, eventType, now)
	}

	if res.StudentName != "" {
		if err := s.ids.CacheName(studentID, res.StudentName); err != nil {
			log.Printf("cache name for %s failed: %v", studentID, err)
		}
	}

	// Synced backup row for local history display. The authority already
	// holds the record; this row never enters the sync backlog.
	known, _ := s.ids.Known(studentID)
	if _, _, err := s.journal.Create(journal.CreateRequest{
		StudentID: studentID,
		TeacherID: s.Teacher(),
		DeviceID:  s.opts.DeviceID,
		EventType: eventType,
		Known:     known,
		Now:       now,
		State:     journal.StateSynced,
	}); err != nil {
		log.Printf("backup record for %s failed: %v", studentID, err)
	}

	name := res.StudentName
	if name == "" {
		name, _ = s.ids.ResolveName(studentID, s.Teacher())
	}
	status := journal.StatusAt(eventType, now)
	return Outcome{
		Kind:       OutcomeAccepted,
		Message:    fmt.Sprintf("%s recorded for %s", eventLabel(eventType), name),
		StudentID:  studentID,
		Name:       name,
		EventType:  eventType,
		Status:     status,
		RecordedAt: journal.TimeOf(now),
	}
}

func (s *Session) validateOffline(studentID string, eventType journal.EventType, now time.Time) Outcome {
	known, err := s.ids.Known(studentID)
	if err != nil {
		return Outcome{Kind: OutcomeRejected, ErrKind: ErrStorage, StudentID: studentID,
			Message: "Local storage failed, try the scan again"}
	}

	outcome, rec, err := s.journal.Create(journal.CreateRequest{
		StudentID: studentID,
		TeacherID: s.Teacher(),
		DeviceID:  s.opts.DeviceID,
		EventType: eventType,
		Known:     known,
		Now:       now,
	})
	if err != nil {
		return Outcome{Kind: OutcomeRejected, ErrKind: ErrStorage, StudentID: studentID,
			Message: "Local storage failed, try the scan again"}
	}

	if outcome == journal.DuplicateSkipped {
		if !known {
			// Unknown identities cannot be safely double-validated offline:
			// one scan of either type per day, the rest are refused.
			name, _ := s.ids.ResolveName(studentID, s.Teacher())
			return Outcome{
				Kind:      OutcomeRejected,
				ErrKind:   ErrDuplicate,
				Message:   fmt.Sprintf("%s was already scanned today", name),
				StudentID: studentID,
				Name:      name,
			}
		}
		return s.alreadyRecorded(studentID, rec)
	}

	name, _ := s.ids.ResolveName(studentID, s.Teacher())
	return Outcome{
		Kind:       OutcomeAccepted,
		Message:    fmt.Sprintf("%s recorded for %s, will sync when online", eventLabel(eventType), name),
		StudentID:  studentID,
		Name:       name,
		EventType:  eventType,
		Status:     rec.Status,
		RecordedAt: rec.TimeValue,
		Offline:    true,
	}
}

func (s *Session) alreadyRecorded(studentID string, rec *journal.ScanRecord) Outcome {
	name, _ := s.ids.ResolveName(studentID, s.Teacher())
	return Outcome{
		Kind:       OutcomeAlreadyRecorded,
		ErrKind:    ErrDuplicate,
		Message:    fmt.Sprintf("%s already recorded for %s at %s", eventLabel(rec.EventType), name, rec.TimeValue),
		StudentID:  studentID,
		Name:       name,
		EventType:  rec.EventType,
		Status:     rec.Status,
		RecordedAt: rec.TimeValue,
	}
}

func eventLabel(et journal.EventType) string {
	if et == journal.TimeOut {
		return "Time out"
	}
	return "Time in"
}
