package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Reason is the closed set of permanent rejection classes the authority
// can return for a submission.
type Reason string

const (
	ReasonNotInClass      Reason = "not_in_class"
	ReasonSectionMismatch Reason = "section_mismatch"
	ReasonGradeMismatch   Reason = "grade_mismatch"
	ReasonAlreadyRecorded Reason = "already_recorded"
	ReasonNoTimeIn        Reason = "no_time_in"
)

// RejectionError is a permanent business-rule rejection. Retrying it
// without an authority-side change would fail the same way.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected (%s): %s", e.Reason, e.Message)
}

// TransientError wraps timeouts, transport failures and 5xx responses.
// Callers retry on the next cycle instead of surfacing these.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried rather than recorded.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// AsRejection extracts a permanent rejection from err, if any.
func AsRejection(err error) *RejectionError {
	var r *RejectionError
	if errors.As(err, &r) {
		return r
	}
	return nil
}

// reasonProbe maps known response-body substrings to a rejection class.
// Order matters: the first match wins, and the more specific phrasings sit
// before the generic ones.
var reasonProbes = []struct {
	substr  string
	reason  Reason
	message string
}{
	{"not assigned", ReasonNotInClass, "Student is not assigned to this class"},
	{"not in class", ReasonNotInClass, "Student is not assigned to this class"},
	{"not enrolled", ReasonNotInClass, "Student is not assigned to this class"},
	{"section", ReasonSectionMismatch, "Section does not match"},
	{"grade", ReasonGradeMismatch, "Grade level does not match"},
	{"already", ReasonAlreadyRecorded, "Already recorded for today"},
	{"no time in", ReasonNoTimeIn, "No time in found for today"},
	{"time in not found", ReasonNoTimeIn, "No time in found for today"},
}

// Classify maps a 4xx body to a permanent rejection, or nil when the body
// matches nothing known. Unmatched bodies are treated as transient by the
// caller.
func Classify(body string) *RejectionError {
	lower := strings.ToLower(body)
	for _, p := range reasonProbes {
		if strings.Contains(lower, p.substr) {
			return &RejectionError{Reason: p.reason, Message: p.message}
		}
	}
	return nil
}
