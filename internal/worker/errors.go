package worker

import "errors"

// ErrNoImagesAvailable is returned when none of a car's photos resolve to a URL.
var ErrNoImagesAvailable = errors.New("no images found for car")

// PermanentError wraps an error to indicate it should not be retried.
// A job that fails with a PermanentError is marked FAILED on the current attempt.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
