package trigger

import (
	"errors"
	"fmt"
)

// ValidationError indicates a request was rejected before any persistence:
// bad recurrence grammar, an unparseable start time, a past start time for a
// one-time trigger, or an illegal status transition.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NotFoundError indicates an unknown trigger ID on a lookup, update, or delete
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("trigger %s not found", e.ID)
}

// ErrClaimLost is returned when a concurrent dispatcher instance won the race
// to claim a due trigger. It is swallowed by the dispatcher loop: the trigger
// is simply reconsidered on a later tick if still due.
var ErrClaimLost = errors.New("trigger claim lost to another dispatcher")

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
