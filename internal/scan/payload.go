package scan

import (
	"encoding/json"
	"strings"
)

// Decoded QR payloads arrive in whatever shape the issuing school chose:
// a JSON object carrying a student-id field, a delimited string with the id
// first, or the bare id itself. Extraction is an ordered chain of parsers,
// each reporting whether it applies; the chain cannot fail — an unparseable
// payload degrades to "the whole string is the id".

type parser func(string) (string, bool)

var parsers = []parser{parseJSONObject, parseDelimited}

// ExtractStudentID pulls the student identifier out of a raw payload.
func ExtractStudentID(payload string) string {
	payload = strings.TrimSpace(payload)
	for _, p := range parsers {
		if id, ok := p(payload); ok {
			return id
		}
	}
	return payload
}

// parseJSONObject probes the common id field spellings of a JSON payload.
func parseJSONObject(payload string) (string, bool) {
	if !strings.HasPrefix(payload, "{") {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return "", false
	}
	for _, key := range []string{"student_id", "studentId", "lrn", "id"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s, true
		}
		var n json.Number
		if json.Unmarshal(raw, &n) == nil && n.String() != "" {
			return n.String(), true
		}
	}
	return "", false
}

// parseDelimited takes the first field of a delimited payload.
func parseDelimited(payload string) (string, bool) {
	for _, sep := range []string{"|", ",", ";", "\t"} {
		if !strings.Contains(payload, sep) {
			continue
		}
		first := strings.TrimSpace(strings.SplitN(payload, sep, 2)[0])
		if first != "" {
			return first, true
		}
	}
	return "", false
}
