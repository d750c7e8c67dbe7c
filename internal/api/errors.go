package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is a failed REST call. For 400 responses the server returns a JSON
// object mapping field names to error strings; callers with a matching form
// field surface those inline, everything else falls back to a global
// notification.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for field, msgs := range e.Fields {
			parts = append(parts, field+": "+strings.Join(msgs, "; "))
		}
		return fmt.Sprintf("%s %s: %d (%s)", e.Method, e.Path, e.Status, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// IsValidation reports whether the error is a 400 with at least one field
// error attached.
func (e *Error) IsValidation() bool {
	return e.Status == http.StatusBadRequest && len(e.Fields) > 0
}

func decodeError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &Error{
		Method: method,
		Path:   path,
		Status: resp.StatusCode,
	}

	if resp.StatusCode == http.StatusBadRequest {
		// Field errors come as {"field": ["msg", ...], ...}. Values may
		// also be single strings; accept both.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err == nil {
			parsed := make(map[string][]string, len(fields))
			for field, raw := range fields {
				var msgs []string
				if err := json.Unmarshal(raw, &msgs); err == nil {
					parsed[field] = msgs
					continue
				}
				var msg string
				if err := json.Unmarshal(raw, &msg); err == nil {
					parsed[field] = []string{msg}
				}
			}
			if len(parsed) > 0 {
				apiErr.Fields = parsed
				return apiErr
			}
		}
	}

	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
