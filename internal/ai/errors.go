package ai

import (
	"errors"
	"fmt"
)

var (
	ErrServiceUnavailable = errors.New("ai service unavailable")
	ErrServiceTimeout     = errors.New("ai service request timed out")
	ErrServiceStatus      = errors.New("ai service returned an error status")
	ErrInvalidResponse    = errors.New("ai service returned invalid response")
)

// StatusError is returned for a non-2xx answer. Body carries the response body
// (truncated) for the job's error reason.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("AI service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("AI service returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrServiceStatus }
