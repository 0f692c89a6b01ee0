// File: internal/threadpool/pool.go
// Author: momentics <momentics@gmail.com>
//
// ThreadPool offloads genuinely blocking work onto a fixed set of worker
// goroutines and signals the loop thread through an eventfd counter,
// mirroring the executor/worker shape of the teacher's own
// internal/concurrency/executor.go trimmed of its NUMA pinning and
// dynamic resize (neither is named by this runtime's design). The pending
// queue is an intrusive doubly-linked list guarded by a mutex and
// condition variable, per §4.5's "two mutexes ... one condition variable"
// rather than a Go channel, specifically so a task that hasn't yet been
// picked up by a worker can be pulled back out again by Remove — the Go
// channel this package used before this could not support that, matching
// the source's ThreadPool::removeTask (thread_pool.h).

package threadpool

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"go.uber.org/multierr"

	"github.com/momentics/hioload-fiber/api"
)

// ThreadPool is the concrete api.ThreadPool implementation.
type ThreadPool struct {
	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pendingHead *api.ThreadPoolTask
	pendingTail *api.ThreadPoolTask
	pendingLen  int
	closed      bool

	completedMu   sync.Mutex
	completedHead *api.ThreadPoolTask
	completedTail *api.ThreadPoolTask

	eventfd int
	workers int
	wg      sync.WaitGroup
}

// New starts workers workers (defaulting to runtime.NumCPU() if <= 0) and
// an eventfd the loop thread should watch for readability.
func New(workers int) (*ThreadPool, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	tp := &ThreadPool{
		eventfd: efd,
		workers: workers,
	}
	tp.pendingCond = sync.NewCond(&tp.pendingMu)
	tp.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go tp.worker()
	}
	return tp, nil
}

func (tp *ThreadPool) EventFD() int { return tp.eventfd }

// QueueDepth returns the number of tasks currently waiting for a worker,
// for debug introspection.
func (tp *ThreadPool) QueueDepth() int {
	tp.pendingMu.Lock()
	defer tp.pendingMu.Unlock()
	return tp.pendingLen
}

// Submit enqueues task. A Submit racing a Close is silently completed with
// api.ErrCancelled rather than queued past shutdown.
func (tp *ThreadPool) Submit(task *api.ThreadPoolTask) {
	tp.pendingMu.Lock()
	if tp.closed {
		tp.pendingMu.Unlock()
		task.Err = api.ErrCancelled
		task.State = api.TaskCompleted
		return
	}
	tp.pushPending(task)
	tp.pendingMu.Unlock()
	tp.pendingCond.Signal()
}

// Remove cancels task if a worker has not yet picked it up, mirroring
// ThreadPool::removeTask: it unlinks task from the pending list and marks
// it completed with api.ErrCancelled, reporting whether it did so. If task
// is no longer in the pending list — already running or already
// completed — Remove reports false and leaves it alone; the caller must
// still expect an eventual DrainCompleted for it in that case.
func (tp *ThreadPool) Remove(task *api.ThreadPoolTask) bool {
	tp.pendingMu.Lock()
	defer tp.pendingMu.Unlock()
	if !task.Queued {
		return false
	}
	tp.unlinkPending(task)
	task.Err = api.ErrCancelled
	task.State = api.TaskCompleted
	return true
}

func (tp *ThreadPool) pushPending(task *api.ThreadPoolTask) {
	task.Prev, task.Next = tp.pendingTail, nil
	task.Queued = true
	if tp.pendingTail != nil {
		tp.pendingTail.Next = task
	} else {
		tp.pendingHead = task
	}
	tp.pendingTail = task
	tp.pendingLen++
}

func (tp *ThreadPool) unlinkPending(task *api.ThreadPoolTask) {
	if task.Prev != nil {
		task.Prev.Next = task.Next
	} else if tp.pendingHead == task {
		tp.pendingHead = task.Next
	}
	if task.Next != nil {
		task.Next.Prev = task.Prev
	} else if tp.pendingTail == task {
		tp.pendingTail = task.Prev
	}
	task.Prev, task.Next, task.Queued = nil, nil, false
	tp.pendingLen--
}

func (tp *ThreadPool) worker() {
	defer tp.wg.Done()
	for {
		tp.pendingMu.Lock()
		for tp.pendingHead == nil && !tp.closed {
			tp.pendingCond.Wait()
		}
		if tp.pendingHead == nil {
			tp.pendingMu.Unlock()
			return
		}
		task := tp.pendingHead
		tp.unlinkPending(task)
		tp.pendingMu.Unlock()

		tp.runTask(task)
	}
}

func (tp *ThreadPool) runTask(task *api.ThreadPoolTask) {
	task.Err = runProtected(task.Procedure)
	task.State = api.TaskCompleted

	tp.completedMu.Lock()
	task.Next = nil
	if tp.completedTail != nil {
		tp.completedTail.Next = task
	} else {
		tp.completedHead = task
	}
	tp.completedTail = task
	tp.completedMu.Unlock()

	tp.notify()
}

func runProtected(proc func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("threadpool: task panicked: %v", r)
		}
	}()
	return proc()
}

func (tp *ThreadPool) notify() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(tp.eventfd, buf[:])
}

// DrainCompleted reads the eventfd counter (ignoring EAGAIN, meaning
// nothing had posted since the last drain) and invokes cb for every task
// on the completed list, in completion order.
func (tp *ThreadPool) DrainCompleted(cb func(*api.ThreadPoolTask)) {
	var buf [8]byte
	_, _ = unix.Read(tp.eventfd, buf[:])

	tp.completedMu.Lock()
	head := tp.completedHead
	tp.completedHead, tp.completedTail = nil, nil
	tp.completedMu.Unlock()

	for t := head; t != nil; {
		next := t.Next
		t.Next = nil
		cb(t)
		t = next
	}
}

// Close stops accepting new work, wakes every worker so it can drain
// whatever is still pending and exit, waits for them, then reports any
// error left on the completed list plus the eventfd close error,
// aggregated with multierr.
func (tp *ThreadPool) Close() error {
	tp.pendingMu.Lock()
	if tp.closed {
		tp.pendingMu.Unlock()
		return nil
	}
	tp.closed = true
	tp.pendingMu.Unlock()
	tp.pendingCond.Broadcast()

	tp.wg.Wait()

	var errs error
	tp.DrainCompleted(func(t *api.ThreadPoolTask) {
		if t.Err != nil {
			errs = multierr.Append(errs, t.Err)
		}
	})
	errs = multierr.Append(errs, unix.Close(tp.eventfd))
	return errs
}

var _ api.ThreadPool = (*ThreadPool)(nil)
