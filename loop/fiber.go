// File: loop/fiber.go
// Author: momentics <momentics@gmail.com>
//
// Thin forwarding wrappers over the scheduler, kept on Loop so callers
// never need to reach into internal/fiberrt directly.

package loop

import (
	"sync/atomic"

	"github.com/momentics/hioload-fiber/api"
)

// CreateFiber starts a new fiber running thunk. A foreground fiber keeps
// Run from returning while it is alive. A stackSize <= 0 is substituted
// with the current value of the fiber.default_stack_size config key
// (see applyConfigReload), live-updatable via Control().SetConfig without
// a restart.
func (l *Loop) CreateFiber(thunk func(), stackSize int, foreground bool) api.Handle {
	if stackSize <= 0 {
		stackSize = int(atomic.LoadInt64(&l.defaultStackSize))
	}
	return l.sched.CreateFiber(thunk, stackSize, foreground)
}

// InterruptFiber marks handle's fiber for cancellation; if it is blocked in
// a Loop I/O call, that call returns api.ErrCancelled.
func (l *Loop) InterruptFiber(handle api.Handle) error {
	return l.sched.InterruptFiber(handle)
}

// CurrentFiber returns the handle of the fiber currently running.
func (l *Loop) CurrentFiber() api.Handle {
	return l.sched.CurrentFiber()
}

// YieldToScheduler cooperatively reschedules the calling fiber to the tail
// of the runnable queue.
func (l *Loop) YieldToScheduler() {
	l.sched.YieldTo()
}

// YieldToFiber transfers control directly to handle.
func (l *Loop) YieldToFiber(handle api.Handle) {
	l.sched.YieldToFiber(handle)
}

// ExecuteBlocking offloads thunk to the thread pool, suspending the calling
// fiber until it completes.
func (l *Loop) ExecuteBlocking(thunk func() error) error {
	return l.async.ExecuteTask(thunk)
}
