// File: loop/file.go
// Author: momentics <momentics@gmail.com>
//
// Plain-descriptor operations: Open, Pipe2, Read/Write/Readv/Writev, Close,
// Fcntl and fd adoption. Every retrying method funnels through doRead or
// doWrite, the Go equivalent of the source's readFile/writeFile templates.

package loop

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
)

// doRead retries op until it succeeds or fails with something other than
// EAGAIN/EINTR, suspending on EAGAIN via waitForFile.
func (l *Loop) doRead(fd int, timeoutMS int64, op func() (int, error)) (int, error) {
	for {
		n, err := op()
		if err == nil {
			return n, nil
		}
		switch err {
		case unix.EAGAIN:
			if _, werr := l.waitForFile(fd, api.CondIn, timeoutMS); werr != nil {
				return -1, werr
			}
		case unix.EINTR:
		default:
			return -1, err
		}
	}
}

// doWrite is doRead's write-direction counterpart, waiting on CondOut.
func (l *Loop) doWrite(fd int, timeoutMS int64, op func() (int, error)) (int, error) {
	for {
		n, err := op()
		if err == nil {
			return n, nil
		}
		switch err {
		case unix.EAGAIN:
			if _, werr := l.waitForFile(fd, api.CondOut, timeoutMS); werr != nil {
				return -1, werr
			}
		case unix.EINTR:
		default:
			return -1, err
		}
	}
}

// Open opens path, always setting O_NONBLOCK at the kernel while
// remembering the caller's requested blocking mode.
func (l *Loop) Open(path string, flags int, mode uint32) (int, error) {
	fd, err := unix.Open(path, flags|unix.O_NONBLOCK, mode)
	if err != nil {
		return -1, err
	}
	blocking := flags&unix.O_NONBLOCK == 0
	if err := l.createIOContext(fd, false, blocking); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Pipe2 creates a pipe whose ends both become managed descriptors, with
// full rollback if either end's context creation fails.
func (l *Loop) Pipe2(flags int) (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], flags|unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	r, w = fds[0], fds[1]
	blocking := flags&unix.O_NONBLOCK == 0

	if err := l.createIOContext(r, false, blocking); err != nil {
		errs := multierr.Append(err, unix.Close(r))
		errs = multierr.Append(errs, unix.Close(w))
		return -1, -1, errs
	}
	if err := l.createIOContext(w, false, blocking); err != nil {
		l.destroyIOContext(r)
		errs := multierr.Append(err, unix.Close(r))
		errs = multierr.Append(errs, unix.Close(w))
		return -1, -1, errs
	}
	return r, w, nil
}

// Read reads into p, suspending on EAGAIN up to fd's effective read
// timeout.
func (l *Loop) Read(fd int, p []byte) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.ReadTimeoutMS, tag.Blocking)
	return l.doRead(fd, timeout, func() (int, error) { return unix.Read(fd, p) })
}

// Write writes p, suspending on EAGAIN up to fd's effective write timeout.
func (l *Loop) Write(fd int, p []byte) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.WriteTimeoutMS, tag.Blocking)
	return l.doWrite(fd, timeout, func() (int, error) { return unix.Write(fd, p) })
}

// Readv is Read's scatter counterpart.
func (l *Loop) Readv(fd int, iovs [][]byte) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.ReadTimeoutMS, tag.Blocking)
	return l.doRead(fd, timeout, func() (int, error) { return unix.Readv(fd, iovs) })
}

// Writev is Write's gather counterpart.
func (l *Loop) Writev(fd int, iovs [][]byte) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.WriteTimeoutMS, tag.Blocking)
	return l.doWrite(fd, timeout, func() (int, error) { return unix.Writev(fd, iovs) })
}

// Close destroys fd's context, forgets any adoption record, then closes
// the kernel descriptor.
func (l *Loop) Close(fd int) error {
	l.destroyIOContext(fd)
	delete(l.orig, fd)
	return unix.Close(fd)
}

// Fcntl virtualizes F_GETFL/F_SETFL's O_NONBLOCK bit against the context
// tag's Blocking flag; every other command passes through untouched.
func (l *Loop) Fcntl(fd int, cmd int, arg int) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	switch cmd {
	case unix.F_GETFL:
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			return -1, err
		}
		if tag.Blocking {
			flags &^= unix.O_NONBLOCK
		} else {
			flags |= unix.O_NONBLOCK
		}
		return flags, nil
	case unix.F_SETFL:
		tag.Blocking = arg&unix.O_NONBLOCK == 0
		return unix.FcntlInt(uintptr(fd), unix.F_SETFL, arg|unix.O_NONBLOCK)
	default:
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	}
}

func probeIsSocket(fd int) (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false, err
	}
	return st.Mode&unix.S_IFMT == unix.S_IFSOCK, nil
}

func timevalToMS(tv unix.Timeval) int64 {
	if tv.Sec == 0 && tv.Usec == 0 {
		return -1
	}
	return int64(tv.Sec)*1000 + int64(tv.Usec)/1000
}

// RegisterFD adopts a pre-existing descriptor: it probes whether fd is a
// socket, records its current blocking mode and (for sockets) its
// SO_RCVTIMEO/SO_SNDTIMEO, switches it to nonblocking, and creates a
// context for it. Any failure fully rolls back what adoption already did,
// aggregating every rollback-step error with multierr.
func (l *Loop) RegisterFD(fd int) error {
	if l.poll.ContextExists(fd) {
		return api.ErrInvalid
	}

	isSocket, err := probeIsSocket(fd)
	if err != nil {
		return fmt.Errorf("loop: registerfd probe: %w", err)
	}

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("loop: registerfd getfl: %w", err)
	}
	orig := origFDSettings{isSocket: isSocket, blocking: flags&unix.O_NONBLOCK == 0}

	if isSocket {
		rcv, err := unix.GetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO)
		if err != nil {
			return fmt.Errorf("loop: registerfd get SO_RCVTIMEO: %w", err)
		}
		snd, err := unix.GetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO)
		if err != nil {
			return fmt.Errorf("loop: registerfd get SO_SNDTIMEO: %w", err)
		}
		orig.rcvTimeo, orig.sndTimeo = *rcv, *snd
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("loop: registerfd setfl: %w", err)
	}

	if err := l.createIOContext(fd, isSocket, orig.blocking); err != nil {
		errs := fmt.Errorf("loop: registerfd create context: %w", err)
		if _, rerr := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags); rerr != nil {
			errs = multierr.Append(errs, rerr)
		}
		return errs
	}

	if isSocket {
		tag := l.poll.ContextTag(fd)
		tag.ReadTimeoutMS = timevalToMS(orig.rcvTimeo)
		tag.WriteTimeoutMS = timevalToMS(orig.sndTimeo)
	}
	l.orig[fd] = orig
	return nil
}

// UnregisterFD releases fd's context and restores the blocking mode and
// (for sockets) socket timeouts RegisterFD recorded. Every restoration
// failure is aggregated with multierr rather than aborting partway.
func (l *Loop) UnregisterFD(fd int) error {
	orig, ok := l.orig[fd]
	if !ok {
		return api.ErrInvalid
	}
	l.destroyIOContext(fd)
	delete(l.orig, fd)

	var errs error
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else {
		if orig.blocking {
			flags &^= unix.O_NONBLOCK
		} else {
			flags |= unix.O_NONBLOCK
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if orig.isSocket {
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &orig.rcvTimeo); err != nil {
			errs = multierr.Append(errs, err)
		}
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &orig.sndTimeo); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
