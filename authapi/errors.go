package authapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// StatusError is a non-2xx gateway response. Message is the backend's user-facing text, if any.
type StatusError struct {
	Route      string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d %s", e.Route, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: %d %s", e.Route, e.StatusCode, e.Message)
}

// Unauthorized reports a 401 or 403.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *StatusError) ServerSide() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Route string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Route, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Unauthorized()
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// errorMessage pulls user-facing text from {message}, {detail}, {error} or {error: {message}}.
func errorMessage(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"message", "detail", "error"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return ""
}
