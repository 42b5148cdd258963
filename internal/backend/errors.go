package backend

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by GetSession when the backend answers 404.
var ErrSessionNotFound = errors.New("session not found or expired")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}
