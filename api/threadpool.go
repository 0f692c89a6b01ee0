// File: api/threadpool.go
// Author: momentics <momentics@gmail.com>
//
// ThreadPoolTask and the ThreadPool/Async contracts for offloading
// genuinely blocking syscalls onto worker OS threads.

package api

// TaskState is the lifecycle state of a ThreadPoolTask.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskCompleted
)

// ThreadPoolTask is a work unit offloaded to a worker OS thread. Err is
// published under the pool's completed-list mutex; the submitter must not
// read it before the pool reports completion.
//
// Prev, Next and Queued are the pending/completed-list linkage, owned by
// whichever ThreadPool currently holds the task; exported only because
// that list lives in a different package from this type. Callers must not
// touch them. Queued is true exactly while the task sits on the pending
// list, i.e. exactly when Remove can still cancel it.
type ThreadPoolTask struct {
	Procedure func() error
	Err       error
	State     TaskState
	Prev      *ThreadPoolTask
	Next      *ThreadPoolTask
	Queued    bool
}

// ThreadPool runs submitted tasks on a fixed set of worker goroutines and
// signals completion through an eventfd the loop thread reads.
type ThreadPool interface {
	// EventFD returns the descriptor the loop thread should watch for
	// readability; each read drains the whole completion counter.
	EventFD() int
	// Submit enqueues task for execution by a worker.
	Submit(task *ThreadPoolTask)
	// Remove cancels task if a worker has not yet picked it up, marking it
	// completed with ErrCancelled and reporting whether cancellation took
	// effect. If it reports false, task is already running or already
	// completed and will (or already did) reach DrainCompleted normally.
	Remove(task *ThreadPoolTask) bool
	// DrainCompleted invokes cb for every task that has completed since
	// the last drain, removing it from the completed list.
	DrainCompleted(cb func(*ThreadPoolTask))
	// Close stops all workers, waiting for in-flight tasks to finish.
	Close() error
}

// Async wraps a ThreadPool with fiber-suspension so a fiber can offload a
// blocking call without blocking the loop thread.
type Async interface {
	// ExecuteTask runs thunk on a worker thread, suspending the calling
	// fiber until it completes, and returns any error thunk produced.
	ExecuteTask(thunk func() error) error
	// Close shuts down the underlying pool.
	Close() error
}
