package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind classifies every failure the gateway returns.
type Kind string

const (
	KindUnauthorized  Kind = "unauthorized"
	KindRequestFailed Kind = "request_failed"
	KindNetwork       Kind = "network"
	KindUnexpected    Kind = "unexpected"
)

type APIError struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first APIError in err's chain.
func KindOf(err error) (Kind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

// StatusOf returns the HTTP status behind err, or 0 when none was received.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func IsUnauthorized(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindUnauthorized
}

// IsForbidden reports a server-side ownership rejection.
func IsForbidden(err error) bool {
	return StatusOf(err) == http.StatusForbidden
}

// errorMessage extracts the server-supplied explanation from an error body.
// Precedence: detail string, joined detail[].msg, message, error. Bodies that
// are empty or not JSON yield a generic message with the status; JSON without
// any of those fields is returned verbatim.
func errorMessage(body []byte, status int) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return fmt.Sprintf("request failed with status %d", status)
	}
	res := gjson.ParseBytes(trimmed)
	detail := res.Get("detail")
	if detail.Type == gjson.String && detail.String() != "" {
		return detail.String()
	}
	if detail.IsArray() {
		msgs := make([]string, 0, len(detail.Array()))
		for _, item := range detail.Get("#.msg").Array() {
			if m := strings.TrimSpace(item.String()); m != "" {
				msgs = append(msgs, m)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	for _, key := range []string{"message", "error"} {
		if v := res.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return string(trimmed)
}
