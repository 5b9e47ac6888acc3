package carlock

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/carinspect/pkg/models"
)

var (
	ErrForbidden         = errors.New("you do not have permission to access this car")
	ErrInvalidTransition = errors.New("invalid car status transition")
	ErrIncompleteMedia   = errors.New("car media is incomplete")
	ErrLocked            = errors.New("car is locked for analysis")
	ErrInvalidInput      = errors.New("invalid input")
)

// TransitionError reports a status move the transition table does not allow.
type TransitionError struct {
	From    models.CarStatus
	To      models.CarStatus
	Allowed []models.CarStatus
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("invalid status transition from %s to %s; allowed transitions: %s",
		e.From, e.To, strings.Join(allowed, ", "))
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func lockedError(status models.CarStatus) error {
	return fmt.Errorf("%w: car is in %s status", ErrLocked, status)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
