package opendht

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	// ErrStart is returned when the engine could not start listening.
	ErrStart = errors.New("engine failed to start")

	// ErrClosed is returned for operations on a handle that was closed or
	// joined.
	ErrClosed = errors.New("handle closed")

	// ErrCanceled resolves completions whose handle was torn down before
	// the engine reported an outcome.
	ErrCanceled = errors.New("operation canceled")

	// ErrPending is returned by Completion.Result before the outcome is known.
	ErrPending = errors.New("operation pending")

	// ErrNoAddresses is returned when Bootstrap is called without addresses.
	ErrNoAddresses = errors.New("no bootstrap addresses")

	// ErrInvalidAddress is returned for unusable bootstrap addresses.
	ErrInvalidAddress = errors.New("invalid bootstrap address")

	// ErrMaintainerRunning is returned when a second maintenance loop is
	// started on the same handle.
	ErrMaintainerRunning = errors.New("maintenance loop already running")

	// ErrRunnerStarted is returned when a Runner is run twice or run after
	// Close.
	ErrRunnerStarted = errors.New("runner already started")
)

// invariantViolation reports a broken engine contract. These are not
// recoverable: the engine handed back a token it does not own.
func invariantViolation(function, msg string, token uintptr) {
	logrus.WithFields(logrus.Fields{
		"function": function,
		"token":    token,
	}).Error(msg)
	panic(fmt.Sprintf("opendht: %s: %s (token %d)", function, msg, token))
}
