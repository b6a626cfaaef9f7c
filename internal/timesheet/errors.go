package timesheet

import "errors"

var (
	// ErrNoOpenSession is returned by clock-out when no session is open.
	ErrNoOpenSession = errors.New("no open session")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid marks a logical precondition violation. Operations failing
	// with ErrInvalid are never retried; retrying cannot fix bad input.
	ErrInvalid = errors.New("invalid input")
)

// Retryable reports whether an error from the store is worth retrying.
// Precondition violations and lookups of missing rows are permanent;
// everything else (network, timeout, quota) is treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalid) && !errors.Is(err, ErrNoOpenSession) && !errors.Is(err, ErrNotFound)
}
