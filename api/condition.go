// File: api/condition.go
// Author: momentics <momentics@gmail.com>
//
// IOCondition is the bitset over kernel readiness bits an IOWatcher may
// request and an IOContext may aggregate. Values are aligned with the
// EPOLL* bit positions so a poller implementation can pass them straight
// through to the kernel without translation.

package api

import "golang.org/x/sys/unix"

// IOCondition is a bitset over readiness conditions.
type IOCondition uint32

const (
	CondNo    IOCondition = 0
	CondIn    IOCondition = unix.EPOLLIN
	CondOut   IOCondition = unix.EPOLLOUT
	CondRdHup IOCondition = unix.EPOLLRDHUP
	CondPri   IOCondition = unix.EPOLLPRI
	CondErr   IOCondition = unix.EPOLLERR
	CondHup   IOCondition = unix.EPOLLHUP
)

// Has reports whether all bits of want are set in c.
func (c IOCondition) Has(want IOCondition) bool {
	return c&want == want
}

// Intersects reports whether c and other share any bit, with Err and Hup
// always counting as intersecting any nonzero watcher interest, matching
// the poller's fairness rule that error/hangup is always delivered.
func (c IOCondition) Intersects(other IOCondition) bool {
	if c == CondNo || other == CondNo {
		return false
	}
	if other&(CondErr|CondHup) != 0 {
		return true
	}
	return c&other != 0
}

func (c IOCondition) String() string {
	if c == CondNo {
		return "none"
	}
	s := ""
	add := func(bit IOCondition, name string) {
		if c&bit != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(CondIn, "in")
	add(CondOut, "out")
	add(CondRdHup, "rdhup")
	add(CondPri, "pri")
	add(CondErr, "err")
	add(CondHup, "hup")
	return s
}
