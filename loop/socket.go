// File: loop/socket.go
// Author: momentics <momentics@gmail.com>
//
// Socket-shaped operations: Socket, Accept4, Connect, Recv/Send,
// Recvfrom/Sendto, Getsockopt/Setsockopt.

package loop

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
)

// Socket creates a nonblocking socket, remembering the caller's requested
// blocking mode.
func (l *Loop) Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK, proto)
	if err != nil {
		return -1, err
	}
	blocking := typ&unix.SOCK_NONBLOCK == 0
	if err := l.createIOContext(fd, true, blocking); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept4 waits for and accepts one connection on fd, creating a context
// for the new socket before returning it.
func (l *Loop) Accept4(fd int, flags int) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.ReadTimeoutMS, tag.Blocking)

	newfd, err := l.doRead(fd, timeout, func() (int, error) {
		nfd, _, aerr := unix.Accept4(fd, flags|unix.SOCK_NONBLOCK)
		return nfd, aerr
	})
	if err != nil {
		return -1, err
	}

	blocking := flags&unix.SOCK_NONBLOCK == 0
	if err := l.createIOContext(newfd, true, blocking); err != nil {
		_ = unix.Close(newfd)
		return -1, err
	}
	return newfd, nil
}

// Connect initiates a connection on fd. EINTR is retried internally, same
// as doRead/doWrite; a nonblocking connect that returns EINPROGRESS is
// waited out on writability, then SO_ERROR is read to determine the final
// outcome. A connect still in progress when the wait times out (or at once,
// for a nonblocking descriptor) fails with api.ErrInProgress.
func (l *Loop) Connect(fd int, sa unix.Sockaddr) error {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return err
	}

	for {
		err = unix.Connect(fd, sa)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EINPROGRESS {
			return err
		}
		break
	}

	timeout := effectiveTimeout(tag.WriteTimeoutMS, tag.Blocking)
	if _, werr := l.waitForFile(fd, api.CondOut, timeout); werr != nil {
		if errors.Is(werr, api.ErrWouldBlock) {
			return api.ErrInProgress
		}
		return werr
	}

	errno, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// Recv reads from fd, honoring MSG_DONTWAIT (mapped to a zero timeout) and
// MSG_WAITALL (looped to fill p, returning a positive partial count on
// first error once any bytes have arrived).
func (l *Loop) Recv(fd int, p []byte, flags int) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.ReadTimeoutMS, tag.Blocking)
	if flags&unix.MSG_DONTWAIT != 0 {
		timeout = 0
		flags &^= unix.MSG_DONTWAIT
	}
	if flags&unix.MSG_WAITALL != 0 {
		flags &^= unix.MSG_WAITALL
		return l.recvAll(fd, p, flags, timeout)
	}
	return l.doRead(fd, timeout, func() (int, error) {
		n, _, rerr := unix.Recvfrom(fd, p, flags)
		return n, rerr
	})
}

func (l *Loop) recvAll(fd int, p []byte, flags int, timeout int64) (int, error) {
	var total int
	for total < len(p) {
		n, err := l.doRead(fd, timeout, func() (int, error) {
			n, _, rerr := unix.Recvfrom(fd, p[total:], flags)
			return n, rerr
		})
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return -1, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// Send writes p to fd, honoring MSG_DONTWAIT as a zero timeout.
func (l *Loop) Send(fd int, p []byte, flags int) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.WriteTimeoutMS, tag.Blocking)
	if flags&unix.MSG_DONTWAIT != 0 {
		timeout = 0
		flags &^= unix.MSG_DONTWAIT
	}
	return l.doWrite(fd, timeout, func() (int, error) {
		if err := unix.Sendto(fd, p, flags, nil); err != nil {
			return -1, err
		}
		return len(p), nil
	})
}

// Recvfrom reads from fd and reports the sender's address.
func (l *Loop) Recvfrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, nil, err
	}
	timeout := effectiveTimeout(tag.ReadTimeoutMS, tag.Blocking)
	if flags&unix.MSG_DONTWAIT != 0 {
		timeout = 0
		flags &^= unix.MSG_DONTWAIT
	}
	var from unix.Sockaddr
	n, err := l.doRead(fd, timeout, func() (int, error) {
		n, f, rerr := unix.Recvfrom(fd, p, flags)
		from = f
		return n, rerr
	})
	return n, from, err
}

// Sendto writes p to fd, addressed to to.
func (l *Loop) Sendto(fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	timeout := effectiveTimeout(tag.WriteTimeoutMS, tag.Blocking)
	return l.doWrite(fd, timeout, func() (int, error) {
		if err := unix.Sendto(fd, p, flags, to); err != nil {
			return -1, err
		}
		return len(p), nil
	})
}

// Getsockopt serves SO_RCVTIMEO/SO_SNDTIMEO (in milliseconds, 0 meaning no
// timeout) from the context tag; every other option passes through to the
// kernel. Non-socket descriptors fail with api.ErrNotSocket.
func (l *Loop) Getsockopt(fd, level, opt int) (int, error) {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return -1, err
	}
	if !tag.IsSocket {
		return -1, api.ErrNotSocket
	}
	if level == unix.SOL_SOCKET {
		var ms int64
		switch opt {
		case unix.SO_RCVTIMEO:
			ms = tag.ReadTimeoutMS
		case unix.SO_SNDTIMEO:
			ms = tag.WriteTimeoutMS
		default:
			return unix.GetsockoptInt(fd, level, opt)
		}
		if ms < 0 {
			ms = 0
		}
		return int(ms), nil
	}
	return unix.GetsockoptInt(fd, level, opt)
}

// Setsockopt sets SO_RCVTIMEO/SO_SNDTIMEO (in milliseconds, 0 meaning no
// timeout) on the context tag; every other option passes through to the
// kernel. Non-socket descriptors fail with api.ErrNotSocket.
func (l *Loop) Setsockopt(fd, level, opt, value int) error {
	tag, err := l.getFileOptions(fd)
	if err != nil {
		return err
	}
	if !tag.IsSocket {
		return api.ErrNotSocket
	}
	if level == unix.SOL_SOCKET {
		ms := int64(value)
		if value == 0 {
			ms = -1
		}
		switch opt {
		case unix.SO_RCVTIMEO:
			tag.ReadTimeoutMS = ms
			return nil
		case unix.SO_SNDTIMEO:
			tag.WriteTimeoutMS = ms
			return nil
		}
	}
	return unix.SetsockoptInt(fd, level, opt, value)
}
