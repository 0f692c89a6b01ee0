// File: internal/clock/clock.go
// Author: momentics <momentics@gmail.com>
//
// Clock implements api.Clock: a monotonic millisecond timeline that only
// moves when told to. now is a plain int64 field, folded forward by the
// elapsed wall-clock time on every Stop/Restart; nothing reads the wall
// clock outside those two calls, so a whole poll iteration observes one
// consistent instant no matter how many timers or watchers consult Now().

package clock

import (
	"math"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/heap"
)

func timerLess(a, b *api.IOTimer) bool { return a.Expiry < b.Expiry }

// Clock is not safe for concurrent use; it is owned by the fiber runtime's
// single poller thread.
type Clock struct {
	heap    *heap.Heap[*api.IOTimer]
	now     int64
	origin  time.Time
	running bool
}

// New returns a stopped clock with now == 0 and no timers.
func New() *Clock {
	return &Clock{heap: heap.New(timerLess)}
}

// Start begins measuring "now" from a fresh origin. Calling Start while
// already running just rebases the origin; the interval elapsed since the
// previous origin is not folded into now.
func (c *Clock) Start() {
	c.origin = time.Now()
	c.running = true
}

// Stop folds the elapsed running interval into now and freezes it.
func (c *Clock) Stop() {
	if !c.running {
		return
	}
	c.now += time.Since(c.origin).Milliseconds()
	c.running = false
}

// Restart folds the elapsed interval into now, same as Stop, but leaves the
// clock running with a fresh origin instead of freezing it. Every timer's
// Expiry is an absolute value on the now timeline and is left untouched.
func (c *Clock) Restart() {
	n := time.Now()
	if c.running {
		c.now += n.Sub(c.origin).Milliseconds()
	}
	c.origin = n
	c.running = true
}

// Now returns the clock's current millisecond value, as of the last
// Start/Stop/Restart call.
func (c *Clock) Now() int64 { return c.now }

// AddTimer sets timer.Expiry and inserts it into the heap. A negative
// durationMS means the timer never expires on its own; it stays reachable
// only via RemoveTimer.
func (c *Clock) AddTimer(timer *api.IOTimer, durationMS int64) {
	if durationMS < 0 {
		timer.Expiry = math.MaxInt64
	} else {
		timer.Expiry = c.now + durationMS
	}
	c.heap.Insert(timer)
}

// RemoveTimer removes timer from the heap if it is currently tracked.
func (c *Clock) RemoveTimer(timer *api.IOTimer) {
	c.heap.Remove(timer)
}

// DueTime returns milliseconds until the earliest expiry, clamped to >= 0,
// or -1 if no timer is armed.
func (c *Clock) DueTime() int64 {
	top, ok := c.heap.Top()
	if !ok {
		return -1
	}
	due := top.Expiry - c.now
	if due < 0 {
		return 0
	}
	return due
}

// RemoveExpiredTimers pops and invokes cb for every timer whose expiry is
// <= Now(), in ascending expiry order.
func (c *Clock) RemoveExpiredTimers(cb func(*api.IOTimer)) {
	for {
		top, ok := c.heap.Top()
		if !ok || top.Expiry > c.now {
			return
		}
		c.heap.RemoveTop()
		cb(top)
	}
}

// Len returns the number of timers currently tracked.
func (c *Clock) Len() int { return c.heap.Len() }

var _ api.Clock = (*Clock)(nil)
