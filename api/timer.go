// File: api/timer.go
// Author: momentics <momentics@gmail.com>
//
// IOTimer and the Clock contract. The clock keeps a monotonic millisecond
// "now" that only advances when explicitly told to (by the poller, after a
// wait), so that the whole loop iteration observes a single consistent
// instant.

package api

// IOTimer is a HeapNode whose key is an absolute expiry in monotonic
// milliseconds since the owning clock started. index is maintained by the
// heap the timer is inserted into via HeapIndex/SetHeapIndex; callers must
// not call SetHeapIndex.
type IOTimer struct {
	index    int
	Expiry   int64
	Callback func(*IOTimer)
}

// HeapIndex and SetHeapIndex satisfy internal/heap.Node.
func (t *IOTimer) HeapIndex() int     { return t.index }
func (t *IOTimer) SetHeapIndex(i int) { t.index = i }

// InHeap reports whether the timer is currently tracked by a heap.
func (t *IOTimer) InHeap() bool { return t.index >= 0 }

// NewIOTimer returns a timer outside any heap, ready for AddTimer.
func NewIOTimer(cb func(*IOTimer)) *IOTimer {
	return &IOTimer{index: -1, Callback: cb}
}

// Clock is a single-thread timer heap keyed on monotonic milliseconds.
type Clock interface {
	// Start begins measuring "now" from a fresh origin.
	Start()
	// Stop freezes "now" at its current value.
	Stop()
	// Restart rebases "now" to a fresh origin while preserving the
	// relative expiry of every timer still in the heap.
	Restart()
	// Now returns the clock's current monotonic millisecond value, as of
	// the last Start/Stop/Restart call — it is never computed live.
	Now() int64

	// AddTimer sets timer.Expiry = Now()+durationMS and inserts it. A
	// negative durationMS means "never expires".
	AddTimer(timer *IOTimer, durationMS int64)
	// RemoveTimer removes timer from the heap if present.
	RemoveTimer(timer *IOTimer)
	// DueTime returns milliseconds until the earliest expiry, or -1 if
	// the heap is empty, clamped to >= 0.
	DueTime() int64
	// RemoveExpiredTimers pops and invokes cb for every timer whose
	// expiry is <= Now(), in heap-extraction order.
	RemoveExpiredTimers(cb func(*IOTimer))
	// Len returns the number of timers currently tracked.
	Len() int
}
