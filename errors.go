package strio

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Error kinds shared by all transports. OS-level failures are not wrapped
// into these; they are returned as unix.Errno values so the exact error
// round-trips through logging and tests.
var (
	// ErrInvalidArgument reports a malformed or unknown argument key, an
	// unrecognized auxiliary tag, or an address of the wrong protocol.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTooBig reports an address entry that exceeds the platform's
	// generic sockaddr storage.
	ErrTooBig = errors.New("address too big")

	// ErrBusy reports a lifecycle operation invoked in the wrong state.
	ErrBusy = errors.New("busy")

	// ErrUnsupported reports an unknown control or operation.
	ErrUnsupported = errors.New("unsupported")

	// ErrClosed reports an operation on an endpoint that is not open,
	// or an open that was cancelled by a close.
	ErrClosed = errors.New("endpoint closed")
)

// Errno extracts the OS error number from an error chain, if present.
func Errno(err error) (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
