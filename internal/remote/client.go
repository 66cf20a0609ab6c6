package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Submission is one attendance event pushed to the central authority.
type Submission struct {
	StudentID string `json:"student_id"`
	Date      string `json:"date"`
	TimeOfDay string `json:"time"`
	TeacherID string `json:"teacher_id"`
	DeviceID  string `json:"device_id"`
}

// SubmitResult is the authority's acknowledgement. StudentName is set when
// the server echoes the student's real name back.
type SubmitResult struct {
	Message     string
	StudentName string
}

// DayStatus reports what the authority already holds for a student/day.
type DayStatus struct {
	TimeIn  string `json:"time_in,omitempty"`
	TimeOut string `json:"time_out,omitempty"`
}

// RosterEntry is one student in the teacher's roster fetch.
type RosterEntry struct {
	StudentID  string `json:"student_id"`
	FullName   string `json:"full_name"`
	GradeLevel string `json:"grade_level"`
	Section    string `json:"section"`
	Strand     string `json:"strand"`
	SchoolID   string `json:"school_id"`
}

// LoginResult carries the bearer token and teacher scope returned at login.
type LoginResult struct {
	Token     string `json:"token"`
	TeacherID string `json:"teacher_id"`
}

// Client calls the central attendance authority.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	probe   *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client with a bounded request timeout and a shorter probe
// timeout for connectivity checks.
func New(baseURL string, timeout, probeTimeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		probe:   &http.Client{Timeout: probeTimeout},
	}
}

// SetToken installs the bearer token attached to authority calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login authenticates the device operator and installs the session token.
func (c *Client) Login(ctx context.Context, username, password, deviceID string) (*LoginResult, error) {
	body, _ := json.Marshal(map[string]string{
		"username":  username,
		"password":  password,
		"device_id": deviceID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("authority error %s", resp.Status)}
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login failed %s: %s", resp.Status, messageOf(raw))
	}

	var out LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	c.SetToken(out.Token)
	return &out, nil
}

// SubmitTimeIn pushes a time-in event.
func (c *Client) SubmitTimeIn(ctx context.Context, sub Submission) (*SubmitResult, error) {
	return c.submit(ctx, "/attendance/time-in", sub)
}

// SubmitTimeOut pushes a time-out event.
func (c *Client) SubmitTimeOut(ctx context.Context, sub Submission) (*SubmitResult, error) {
	return c.submit(ctx, "/attendance/time-out", sub)
}

func (c *Client) submit(ctx context.Context, path string, sub Submission) (*SubmitResult, error) {
	body, _ := json.Marshal(sub)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("authority error %s", resp.Status)}
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		if rej := Classify(messageOf(raw)); rej != nil {
			return nil, rej
		}
		// Unrecognized 4xx: do not mark the record rejected over a body
		// this client cannot attribute to a business rule.
		return nil, &TransientError{Err: fmt.Errorf("authority %s: %s", resp.Status, messageOf(raw))}
	}

	raw, _ := io.ReadAll(resp.Body)
	res := &SubmitResult{}
	var ack struct {
		Message     string `json:"message"`
		StudentName string `json:"student_name"`
	}
	if json.Unmarshal(raw, &ack) == nil {
		res.Message = ack.Message
		res.StudentName = ack.StudentName
	}
	return res, nil
}

// Status fetches the authority's recorded times for a student/day.
func (c *Client) Status(ctx context.Context, studentID, date string) (*DayStatus, error) {
	u := fmt.Sprintf("%s/attendance/status/%s?date=%s",
		c.BaseURL, url.PathEscape(studentID), url.QueryEscape(date))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("authority error %s", resp.Status)}
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status fetch %s: %s", resp.Status, messageOf(raw))
	}

	var out DayStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &out, nil
}

// Roster fetches the full roster for bulk profile hydration.
func (c *Client) Roster(ctx context.Context, teacherID string) ([]RosterEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/roster/"+url.PathEscape(teacherID), nil)
	if err != nil {
		return nil, err
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("authority error %s", resp.Status)}
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("roster fetch %s: %s", resp.Status, messageOf(raw))
	}

	var out []RosterEntry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode roster response: %w", err)
	}
	return out, nil
}

// Online probes the authority's health endpoint with the short timeout.
func (c *Client) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// messageOf pulls the human message out of an error body, degrading from a
// JSON envelope to the raw text.
func messageOf(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return string(raw)
}
