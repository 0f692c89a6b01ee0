// File: loop/wait.go
// Author: momentics <momentics@gmail.com>
//
// waitForFile is the single suspension primitive every blocking-shaped
// Loop method funnels through, transcribed from the source's waitForFile
// scope-guard shape: arm a watcher (and, for a finite timeout, a timer),
// suspend the calling fiber, then report whether it woke from readiness,
// a timeout, or an interrupt.

package loop

import "github.com/momentics/hioload-fiber/api"

// waitForFile suspends the current fiber until fd becomes ready for cond,
// timeoutMS elapses, or the fiber is interrupted.
//
// timeoutMS < 0 waits indefinitely; timeoutMS == 0 returns immediately
// with api.ErrWouldBlock; timeoutMS > 0 arms both a watcher and a timer.
func (l *Loop) waitForFile(fd int, cond api.IOCondition, timeoutMS int64) (api.IOCondition, error) {
	if timeoutMS == 0 {
		return api.CondNo, api.ErrWouldBlock
	}

	handle := l.sched.CurrentFiber()
	watcher := &api.IOWatcher{}
	var ready api.IOCondition
	watcher.Callback = func(_ *api.IOWatcher, r api.IOCondition) {
		ready = r
		l.sched.ResumeFiber(handle)
	}
	if err := l.poll.AddWatcher(watcher, fd, cond); err != nil {
		return api.CondNo, err
	}
	defer l.poll.RemoveWatcher(watcher)

	var timedOut bool
	if timeoutMS > 0 {
		timer := api.NewIOTimer(func(*api.IOTimer) {
			timedOut = true
			l.sched.ResumeFiber(handle)
		})
		l.clk.AddTimer(timer, timeoutMS)
		defer func() {
			if !timedOut {
				l.clk.RemoveTimer(timer)
			}
		}()
	}

	l.sched.SuspendFiber(handle)

	if l.sched.ConsumeInterrupt(handle) {
		return api.CondNo, api.ErrCancelled
	}
	if timedOut {
		return api.CondNo, api.ErrWouldBlock
	}
	return ready, nil
}

// SetDelay suspends the calling fiber for durationMS, or indefinitely if
// durationMS < 0, until InterruptFiber wakes it early.
func (l *Loop) SetDelay(durationMS int64) error {
	handle := l.sched.CurrentFiber()
	var timer *api.IOTimer
	if durationMS >= 0 {
		timer = api.NewIOTimer(func(*api.IOTimer) {
			l.sched.ResumeFiber(handle)
		})
		l.clk.AddTimer(timer, durationMS)
	}

	l.sched.SuspendFiber(handle)

	if timer != nil {
		l.clk.RemoveTimer(timer)
	}
	if l.sched.ConsumeInterrupt(handle) {
		return api.ErrCancelled
	}
	return nil
}

// Poll waits on at most one descriptor. n == 0 sleeps for timeoutMS with no
// descriptor; n == 1 waits on fd for want and reports what fired; n > 1 is
// not supported and fails with api.ErrNotSupported (mapped to ENOSYS).
func (l *Loop) Poll(fd int, want api.IOCondition, n int, timeoutMS int64) (api.IOCondition, error) {
	switch n {
	case 0:
		return api.CondNo, l.SetDelay(timeoutMS)
	case 1:
		return l.waitForFile(fd, want, timeoutMS)
	default:
		return api.CondNo, api.ErrNotSupported
	}
}
