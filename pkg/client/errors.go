package client

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx API response decoded from the error envelope.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsForbidden reports whether err is a 403 response.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

// IsBadRequest reports whether err is a 400 response.
func IsBadRequest(err error) bool {
	return hasStatus(err, http.StatusBadRequest)
}

// IsConflict reports whether err is a 409 response.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// IsTransient reports whether err is worth retrying: a 5xx response or a
// transport-level failure. 4xx responses are terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

func hasStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}
