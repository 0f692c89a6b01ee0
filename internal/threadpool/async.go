// File: internal/threadpool/async.go
// Author: momentics <momentics@gmail.com>
//
// Async bridges a ThreadPool with fiber suspension: ExecuteTask submits a
// task and suspends the calling fiber; Loop calls Wake once per drained
// task to resume whichever fiber was waiting on it. ExecuteTask also
// handles the case where the calling fiber is interrupted instead of
// woken by completion, mirroring the source's Async::waitForTask
// (async.cc), which calls ThreadPool::removeTask on interruption.

package threadpool

import "github.com/momentics/hioload-fiber/api"

// interruptScheduler is the subset of a concrete scheduler Async needs
// beyond api.Scheduler: a way to tell, after a suspended fiber resumes,
// whether it resumed because of a real wake or because it was
// interrupted. Only *fiberrt.Scheduler satisfies it today — see that
// type's ConsumeInterrupt, which every other Loop suspension point
// (waitForFile, SetDelay) already relies on the same way.
type interruptScheduler interface {
	api.Scheduler
	ConsumeInterrupt(handle api.Handle) bool
}

// Async wraps a ThreadPool plus the minimal one-shot suspend/resume
// plumbing needed for a fiber to block on task completion, without
// exposing the pool's cross-thread machinery to callers.
type Async struct {
	pool    api.ThreadPool
	sched   interruptScheduler
	waiting map[*api.ThreadPoolTask]api.Handle
}

// NewAsync returns an Async driving sched's fibers over pool.
func NewAsync(pool api.ThreadPool, sched interruptScheduler) *Async {
	return &Async{
		pool:    pool,
		sched:   sched,
		waiting: make(map[*api.ThreadPoolTask]api.Handle),
	}
}

// ExecuteTask submits thunk to the pool and suspends the calling fiber
// until either the task completes or the fiber is interrupted.
//
// On interrupt, task is pulled out of the pending queue if a worker
// hasn't started it yet, and the waiting entry is dropped either way: a
// task that had already raced onto a worker and completes later still
// reaches DrainCompleted, but with no waiting entry left to resolve it
// just falls on the floor instead of spuriously resuming whatever the
// fiber has since gone on to wait for.
func (a *Async) ExecuteTask(thunk func() error) error {
	handle := a.sched.CurrentFiber()
	task := &api.ThreadPoolTask{Procedure: thunk}
	a.waiting[task] = handle
	a.pool.Submit(task)
	a.sched.SuspendFiber(handle)

	if a.sched.ConsumeInterrupt(handle) {
		delete(a.waiting, task)
		a.pool.Remove(task)
		return api.ErrCancelled
	}
	delete(a.waiting, task)
	return task.Err
}

// Wake resumes the fiber that was waiting on task, if any. Loop calls this
// from the callback it passes to ThreadPool.DrainCompleted.
func (a *Async) Wake(task *api.ThreadPoolTask) {
	handle, ok := a.waiting[task]
	if !ok {
		return
	}
	delete(a.waiting, task)
	a.sched.ResumeFiber(handle)
}

func (a *Async) Close() error { return a.pool.Close() }

var _ api.Async = (*Async)(nil)
