// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// POSIX-mapped and fatal-channel error values for hioload-fiber. Library
// methods that mirror a syscall return one of the sentinels below (wrapped
// so callers can still errors.Is against the underlying syscall.Errno);
// constructors and adoption paths return a plain error, aggregated with
// multierr when more than one rollback step failed.

package api

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// POSIX-mapped sentinels. Compare with errors.Is; each wraps the matching
// syscall.Errno so a caller that only knows unix.EAGAIN still works.
var (
	ErrBadDescriptor = wrapErrno(unix.EBADF)
	ErrWouldBlock    = wrapErrno(unix.EAGAIN)
	ErrInProgress    = wrapErrno(unix.EINPROGRESS)
	ErrNotSupported  = wrapErrno(unix.ENOSYS)
	ErrNotSocket     = wrapErrno(unix.ENOTSOCK)
	ErrInvalid       = wrapErrno(unix.EINVAL)
)

// ErrCancelled is returned from a suspended Loop call when the owning
// fiber was interrupted while blocked. It is the idiomatic-Go stand-in for
// the source's cancellation condition unwinding the suspended call frame.
var ErrCancelled = errors.New("hioload-fiber: fiber interrupted")

// ErrFiberExited is returned by scheduler operations targeting a fiber
// handle whose thunk has already returned.
var ErrFiberExited = errors.New("hioload-fiber: fiber already exited")

func wrapErrno(errno unix.Errno) error {
	return fmt.Errorf("%w", errno)
}

// Errno unwraps err to the underlying syscall.Errno, if any.
func Errno(err error) (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// ErrorCode groups POSIX-mapped errors into coarse categories, kept for
// callers that want to branch on category rather than exact errno (e.g.
// metrics bucketing).
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeWouldBlock
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeCancelled
	ErrCodeInternal
)

// CodeOf classifies err into an ErrorCode for coarse-grained reporting.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeOK
	case errors.Is(err, ErrCancelled):
		return ErrCodeCancelled
	case errors.Is(err, ErrWouldBlock):
		return ErrCodeWouldBlock
	case errors.Is(err, ErrNotSupported):
		return ErrCodeNotSupported
	case errors.Is(err, ErrInvalid):
		return ErrCodeInvalidArgument
	default:
		return ErrCodeInternal
	}
}
