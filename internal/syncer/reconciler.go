package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"attendsync/internal/identity"
	"attendsync/internal/journal"
	"attendsync/internal/remote"
)

// Submitter is the slice of the authority client the reconciler needs.
type Submitter interface {
	SubmitTimeIn(ctx context.Context, sub remote.Submission) (*remote.SubmitResult, error)
	SubmitTimeOut(ctx context.Context, sub remote.Submission) (*remote.SubmitResult, error)
}

// Detail reports the fate of one journal record in a sync run.
type Detail struct {
	RecordID  string `json:"record_id"`
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Action    string `json:"action"` // time_in or time_out
	Synced    bool   `json:"synced"`
	Message   string `json:"message,omitempty"`
}

// Result is the aggregate outcome of one reconciliation pass.
type Result struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	SuccessCount int      `json:"success_count"`
	FailCount    int      `json:"fail_count"`
	Details      []Detail `json:"details"`
}

// Progress is invoked after every record with (processed, total).
type Progress func(processed, total int)

// Reconciler drains the journal's syncable records to the central
// authority. It is stateless between invocations; connectivity changes,
// timers, operator actions and authority pushes all just call Run again.
type Reconciler struct {
	journal   *journal.Store
	ids       *identity.Resolver
	authority Submitter
	deviceID  string
	now       func() time.Time
}

// New creates a reconciler.
func New(j *journal.Store, ids *identity.Resolver, authority Submitter, deviceID string) *Reconciler {
	return &Reconciler{journal: j, ids: ids, authority: authority, deviceID: deviceID, now: time.Now}
}

// Run submits every pending and rejected record in the teacher scope, in
// creation order. A permanent rejection marks the record rejected with a
// short reason; anything transient leaves it pending for the next cycle.
// One record's failure never aborts the loop, and cancellation stops
// between records: already-synced rows stay deleted, unattempted rows stay
// pending.
func (r *Reconciler) Run(ctx context.Context, teacherScope string, progress Progress) Result {
	records, err := r.journal.ListSyncable(teacherScope)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("could not read journal: %v", err)}
	}
	total := len(records)
	if total == 0 {
		return Result{Success: true, Message: "Nothing to sync"}
	}

	res := Result{Details: make([]Detail, 0, total)}
	for i, rec := range records {
		if ctx.Err() != nil {
			res.Message = fmt.Sprintf("Sync canceled after %d of %d", i, total)
			return res
		}

		detail := r.push(ctx, rec, teacherScope)
		if detail.Synced {
			res.SuccessCount++
		} else {
			res.FailCount++
		}
		res.Details = append(res.Details, detail)

		if progress != nil {
			progress(i+1, total)
		}
	}

	res.Success = res.FailCount == 0
	res.Message = fmt.Sprintf("Synced %d of %d records", res.SuccessCount, total)
	return res
}

func (r *Reconciler) push(ctx context.Context, rec journal.ScanRecord, teacherScope string) Detail {
	teacherID := rec.TeacherID
	if teacherID == "" {
		teacherID = teacherScope
	}
	name, _ := r.ids.ResolveName(rec.StudentID, teacherScope)
	detail := Detail{
		RecordID:  rec.ID,
		StudentID: rec.StudentID,
		Name:      name,
		Action:    string(rec.EventType),
	}

	sub := remote.Submission{
		StudentID: rec.StudentID,
		Date:      rec.Date,
		TimeOfDay: rec.TimeValue,
		TeacherID: teacherID,
		DeviceID:  rec.DeviceID,
	}
	var ack *remote.SubmitResult
	var err error
	if rec.EventType == journal.TimeOut {
		ack, err = r.authority.SubmitTimeOut(ctx, sub)
	} else {
		ack, err = r.authority.SubmitTimeIn(ctx, sub)
	}

	if err == nil {
		if ack.StudentName != "" {
			if cerr := r.ids.CacheName(rec.StudentID, ack.StudentName); cerr != nil {
				log.Printf("cache name for %s failed: %v", rec.StudentID, cerr)
			}
			detail.Name = ack.StudentName
		}
		if derr := r.journal.MarkSynced(rec.ID); derr != nil {
			// The authority has the record but the local row remains; the
			// dedup key keeps a re-submit from double-counting server side.
			log.Printf("mark synced %s failed: %v", rec.ID, derr)
			detail.Message = "synced, local cleanup pending"
		}
		detail.Synced = true
		return detail
	}

	if rej := remote.AsRejection(err); rej != nil {
		// A missing time in is an ordering problem, not a verdict on the
		// record: the time in may sync later in this same rotation. Leave
		// the row pending rather than wearing a rejected remark.
		if rej.Reason == remote.ReasonNoTimeIn {
			detail.Message = rej.Message
			return detail
		}
		if merr := r.journal.MarkRejected(rec.ID, rej.Message, r.now()); merr != nil {
			log.Printf("mark rejected %s failed: %v", rec.ID, merr)
		}
		detail.Message = rej.Message
		return detail
	}

	// Transient: no state change, retried on the next invocation.
	detail.Message = "network unavailable, will retry"
	return detail
}
