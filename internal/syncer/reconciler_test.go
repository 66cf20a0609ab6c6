package syncer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendsync/internal/identity"
	"attendsync/internal/journal"
	"attendsync/internal/remote"
	"attendsync/internal/store"
)

// scriptedSubmitter answers each submission by student id.
type scriptedSubmitter struct {
	responses map[string]scriptedReply
	calls     []string
	cancel    context.CancelFunc // when set, cancels after the first call
}

type scriptedReply struct {
	res *remote.SubmitResult
	err error
}

func (s *scriptedSubmitter) reply(sub remote.Submission) (*remote.SubmitResult, error) {
	s.calls = append(s.calls, sub.StudentID)
	if s.cancel != nil {
		s.cancel()
	}
	r, ok := s.responses[sub.StudentID]
	if !ok {
		return &remote.SubmitResult{}, nil
	}
	return r.res, r.err
}

func (s *scriptedSubmitter) SubmitTimeIn(_ context.Context, sub remote.Submission) (*remote.SubmitResult, error) {
	return s.reply(sub)
}

func (s *scriptedSubmitter) SubmitTimeOut(_ context.Context, sub remote.Submission) (*remote.SubmitResult, error) {
	return s.reply(sub)
}

type world struct {
	journal *journal.Store
	ids     *identity.Resolver
	sub     *scriptedSubmitter
	rec     *Reconciler
}

func newWorld(t *testing.T) *world {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	w := &world{
		journal: journal.NewStore(db),
		ids:     identity.NewResolver(db),
		sub:     &scriptedSubmitter{responses: map[string]scriptedReply{}},
	}
	w.rec = New(w.journal, w.ids, w.sub, "dev-1")
	return w
}

func (w *world) seed(t *testing.T, studentID string, offset time.Duration) journal.ScanRecord {
	t.Helper()
	now := time.Date(2026, 1, 5, 6, 30, 0, 0, time.Local).Add(offset)
	outcome, rec, err := w.journal.Create(journal.CreateRequest{
		StudentID: studentID,
		TeacherID: "T1",
		DeviceID:  "dev-1",
		EventType: journal.TimeIn,
		Known:     true,
		Now:       now,
	})
	require.NoError(t, err)
	require.Equal(t, journal.Created, outcome)
	return *rec
}

func TestRun_EmptyJournal(t *testing.T) {
	w := newWorld(t)
	res := w.rec.Run(context.Background(), "T1", nil)
	assert.True(t, res.Success)
	assert.Equal(t, "Nothing to sync", res.Message)
	assert.Empty(t, res.Details)
}

func TestRun_MixedOutcomes(t *testing.T) {
	w := newWorld(t)
	ok := w.seed(t, "S1", 0)
	rej := w.seed(t, "S2", time.Minute)
	tra := w.seed(t, "S3", 2*time.Minute)

	w.sub.responses["S1"] = scriptedReply{res: &remote.SubmitResult{StudentName: "Jane Doe"}}
	w.sub.responses["S2"] = scriptedReply{err: &remote.RejectionError{
		Reason: remote.ReasonNotInClass, Message: "Student is not in your class",
	}}
	w.sub.responses["S3"] = scriptedReply{err: &remote.TransientError{Err: context.DeadlineExceeded}}

	var ticks []int
	res := w.rec.Run(context.Background(), "T1", func(processed, total int) {
		require.Equal(t, 3, total)
		ticks = append(ticks, processed)
	})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 2, res.FailCount)
	assert.Equal(t, "Synced 1 of 3 records", res.Message)
	assert.Equal(t, []int{1, 2, 3}, ticks)
	assert.Equal(t, []string{"S1", "S2", "S3"}, w.sub.calls, "creation order")

	require.Len(t, res.Details, 3)
	assert.True(t, res.Details[0].Synced)
	assert.Equal(t, "Jane Doe", res.Details[0].Name, "echoed name wins")
	assert.False(t, res.Details[1].Synced)
	assert.Equal(t, "Student is not in your class", res.Details[1].Message)
	assert.False(t, res.Details[2].Synced)
	assert.Equal(t, "network unavailable, will retry", res.Details[2].Message)

	// Synced row deleted, rejected row kept with remarks, transient untouched.
	gone, err := w.journal.FindForDay("S1", ok.Date, journal.TimeIn)
	require.NoError(t, err)
	assert.Nil(t, gone)

	day, err := w.journal.ListForDate(rej.Date, "T1")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, journal.StateRejected, day[0].SyncState)
	assert.Equal(t, "Student is not in your class", day[0].Remarks)
	assert.Equal(t, journal.StatePending, day[1].SyncState)
	assert.Equal(t, tra.ID, day[1].ID)

	// The echoed name is now cached for offline display.
	known, err := w.ids.Known("S1")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestRun_RejectedRecordsStayInRotation(t *testing.T) {
	w := newWorld(t)
	rec := w.seed(t, "S1", 0)
	require.NoError(t, w.journal.MarkRejected(rec.ID, "Section does not match", time.Date(2026, 1, 5, 8, 0, 0, 0, time.Local)))

	w.sub.responses["S1"] = scriptedReply{res: &remote.SubmitResult{}}
	res := w.rec.Run(context.Background(), "T1", nil)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SuccessCount, "a previously rejected record is retried")

	left, err := w.journal.ListSyncable("T1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_NoTimeInStaysPending(t *testing.T) {
	w := newWorld(t)
	rec := w.seed(t, "S1", 0)

	w.sub.responses["S1"] = scriptedReply{err: &remote.RejectionError{
		Reason: remote.ReasonNoTimeIn, Message: "No time in found for today",
	}}

	res := w.rec.Run(context.Background(), "T1", nil)
	assert.Equal(t, 1, res.FailCount)
	require.Len(t, res.Details, 1)
	assert.Equal(t, "No time in found for today", res.Details[0].Message)

	// An ordering problem is retried, not remembered as a rejection: the
	// missing time in may sync before the next pass.
	day, err := w.journal.ListForDate(rec.Date, "T1")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, journal.StatePending, day[0].SyncState)
	assert.Empty(t, day[0].Remarks)
}

func TestRun_RejectionStampsInjectedClock(t *testing.T) {
	w := newWorld(t)
	rec := w.seed(t, "S1", 0)

	stamp := time.Date(2026, 1, 5, 9, 30, 0, 0, time.Local)
	w.rec.now = func() time.Time { return stamp }
	w.sub.responses["S1"] = scriptedReply{err: &remote.RejectionError{
		Reason: remote.ReasonGradeMismatch, Message: "Grade level does not match",
	}}

	_ = w.rec.Run(context.Background(), "T1", nil)

	day, err := w.journal.ListForDate(rec.Date, "T1")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, journal.StateRejected, day[0].SyncState)
	assert.WithinDuration(t, stamp, day[0].UpdatedAt, time.Second)
}

func TestRun_CancellationStopsBetweenRecords(t *testing.T) {
	w := newWorld(t)
	w.seed(t, "S1", 0)
	w.seed(t, "S2", time.Minute)
	w.seed(t, "S3", 2*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	w.sub.cancel = cancel

	res := w.rec.Run(ctx, "T1", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Sync canceled after 1 of 3", res.Message)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, []string{"S1"}, w.sub.calls)

	// The first record was reconciled, the rest are untouched.
	left, err := w.journal.ListSyncable("T1")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, journal.StatePending, left[0].SyncState)
	assert.Equal(t, journal.StatePending, left[1].SyncState)
}

func TestRun_ScopeFallbackForRecordsWithoutTeacher(t *testing.T) {
	w := newWorld(t)
	_, _, err := w.journal.Create(journal.CreateRequest{
		StudentID: "S1",
		EventType: journal.TimeIn,
		Known:     true,
		Now:       time.Date(2026, 1, 5, 6, 30, 0, 0, time.Local),
	})
	require.NoError(t, err)

	w.sub.responses["S1"] = scriptedReply{res: &remote.SubmitResult{}}
	scoped := w.rec.Run(context.Background(), "T9", nil)
	assert.Equal(t, "Nothing to sync", scoped.Message)

	// Scoped listing skips the unowned record; the unscoped run picks it up.
	res := w.rec.Run(context.Background(), "", nil)
	assert.Equal(t, 1, res.SuccessCount)
}
