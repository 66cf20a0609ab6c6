package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return New(url, 2*time.Second, 500*time.Millisecond)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		body string
		want Reason
	}{
		{"Student is not assigned to this class", ReasonNotInClass},
		{"student not enrolled", ReasonNotInClass},
		{"Section mismatch: expected 11-A", ReasonSectionMismatch},
		{"grade level does not match", ReasonGradeMismatch},
		{"Attendance already recorded", ReasonAlreadyRecorded},
		{"No time in found for this date", ReasonNoTimeIn},
	}
	for _, tc := range cases {
		rej := Classify(tc.body)
		require.NotNil(t, rej, "body %q should classify", tc.body)
		assert.Equal(t, tc.want, rej.Reason)
	}

	assert.Nil(t, Classify("internal bookkeeping error"), "unknown bodies stay unclassified")
}

func TestSubmit_SuccessEchoesName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attendance/time-in", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"message":"recorded","student_name":"Jane Doe"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.SetToken("tok-1")

	res, err := c.SubmitTimeIn(context.Background(), Submission{StudentID: "S1", Date: "2026-01-05", TimeOfDay: "07:40:00", TeacherID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", res.StudentName)
}

func TestSubmit_ClassifiedRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Student section does not match"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SubmitTimeIn(context.Background(), Submission{StudentID: "S1"})
	rej := AsRejection(err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonSectionMismatch, rej.Reason)
	assert.False(t, IsTransient(err))
}

func TestSubmit_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SubmitTimeOut(context.Background(), Submission{StudentID: "S1"})
	assert.True(t, IsTransient(err))
	assert.Nil(t, AsRejection(err))
}

func TestSubmit_UnrecognizedClientErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"payload validation quirk"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SubmitTimeIn(context.Background(), Submission{StudentID: "S1"})
	assert.True(t, IsTransient(err), "bodies this client cannot attribute stay retryable")
}

func TestSubmit_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	_, err := newTestClient(srv.URL).SubmitTimeIn(context.Background(), Submission{StudentID: "S1"})
	assert.True(t, IsTransient(err))
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attendance/status/S1", r.URL.Path)
		assert.Equal(t, "2026-01-05", r.URL.Query().Get("date"))
		w.Write([]byte(`{"time_in":"07:40:00"}`))
	}))
	defer srv.Close()

	st, err := newTestClient(srv.URL).Status(context.Background(), "S1", "2026-01-05")
	require.NoError(t, err)
	assert.Equal(t, "07:40:00", st.TimeIn)
	assert.Empty(t, st.TimeOut)
}

func TestRoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/roster/T1", r.URL.Path)
		w.Write([]byte(`[{"student_id":"S1","full_name":"Jane Doe","section":"A"}]`))
	}))
	defer srv.Close()

	roster, err := newTestClient(srv.URL).Roster(context.Background(), "T1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Jane Doe", roster[0].FullName)
}

func TestLogin_InstallsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			w.Write([]byte(`{"token":"tok-9","teacher_id":"T1"}`))
		default:
			assert.Equal(t, "Bearer tok-9", r.Header.Get("Authorization"))
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Login(context.Background(), "teacher", "secret", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "T1", res.TeacherID)

	_, err = c.SubmitTimeIn(context.Background(), Submission{StudentID: "S1"})
	assert.NoError(t, err)
}

func TestOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
	}))

	c := newTestClient(srv.URL)
	assert.True(t, c.Online(context.Background()))

	srv.Close()
	assert.False(t, c.Online(context.Background()))
}
