// File: internal/fiberrt/scheduler.go
// Author: momentics <momentics@gmail.com>
//
// Scheduler realizes api.Scheduler as goroutines gated by baton-passing:
// each fiber's body runs on its own goroutine parked on a resume channel,
// and yields the OS thread back to the scheduler by sending on a shared
// yielded channel. Because exactly one fiber goroutine is ever unparked at
// a time, all scheduler and fiber state below is safe without further
// locking. Every Scheduler method, including InterruptFiber and
// ResumeFiber, is only ever called from the single OS thread that drives
// Loop.Run; a thread-pool worker never touches the scheduler directly,
// only the loop thread does so on its behalf after DrainCompleted.

package fiberrt

import (
	"fmt"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/assert"
)

type fiber struct {
	handle      api.Handle
	thunk       func()
	state       api.FiberState
	foreground  bool
	interrupted bool
	resume      chan struct{}
}

// Scheduler is the concrete cooperative fiber runtime. It satisfies
// api.Scheduler; callers that need ConsumeInterrupt hold the concrete type
// directly rather than the interface.
type Scheduler struct {
	log *zap.Logger

	fibers   map[api.Handle]*fiber
	runnable *queue.Queue
	yielded  chan struct{}
	nextHint api.Handle

	current    api.Handle
	foreground int
	nextID     uint64
}

// New returns an idle scheduler with no fibers and an empty Runnable set.
func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		log:      log,
		fibers:   make(map[api.Handle]*fiber),
		runnable: queue.New(),
		yielded:  make(chan struct{}),
	}
}

func (s *Scheduler) CreateFiber(thunk func(), stackSize int, foreground bool) api.Handle {
	if stackSize <= 0 {
		stackSize = api.DefaultFiberStackSize
	}
	s.nextID++
	h := api.Handle(s.nextID)
	f := &fiber{
		handle:     h,
		thunk:      thunk,
		state:      api.FiberRunnable,
		foreground: foreground,
		resume:     make(chan struct{}),
	}
	s.fibers[h] = f
	if foreground {
		s.foreground++
	}
	s.runnable.Add(h)
	go s.body(f)
	return h
}

// body is the fiber's goroutine: block until first scheduled, run thunk to
// completion (recovering any panic), then report exit on the shared
// yielded channel.
func (s *Scheduler) body(f *fiber) {
	<-f.resume
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("fiber panicked", zap.Uint64("handle", uint64(f.handle)), zap.Any("recover", r))
			}
			f.state = api.FiberExited
			if f.foreground {
				s.foreground--
			}
			s.yielded <- struct{}{}
		}()
		f.thunk()
	}()
}

func (s *Scheduler) InterruptFiber(handle api.Handle) error {
	f, ok := s.fibers[handle]
	if !ok || f.state == api.FiberExited {
		return api.ErrFiberExited
	}
	f.interrupted = true
	if f.state == api.FiberSuspended {
		s.markRunnable(f)
	}
	return nil
}

// ConsumeInterrupt reports and clears handle's pending interrupt flag. Loop
// calls this immediately after a fiber resumes from a suspension point to
// decide whether to return api.ErrCancelled instead of a normal result.
func (s *Scheduler) ConsumeInterrupt(handle api.Handle) bool {
	f, ok := s.fibers[handle]
	if !ok {
		return false
	}
	v := f.interrupted
	f.interrupted = false
	return v
}

func (s *Scheduler) SuspendFiber(handle api.Handle) {
	f, ok := s.fibers[handle]
	if !ok || f.state == api.FiberExited {
		return
	}
	wasCurrent := handle == s.current
	f.state = api.FiberSuspended
	if wasCurrent {
		s.yielded <- struct{}{}
		<-f.resume
		f.state = api.FiberRunning
	}
}

func (s *Scheduler) markRunnable(f *fiber) {
	if f.state == api.FiberRunnable || f.state == api.FiberRunning {
		return
	}
	f.state = api.FiberRunnable
	s.runnable.Add(f.handle)
}

func (s *Scheduler) ResumeFiber(handle api.Handle) {
	f, ok := s.fibers[handle]
	if !ok || f.state == api.FiberExited {
		assert.Assertf(false, "fiberrt: resume of exited fiber %d", handle)
		return
	}
	s.markRunnable(f)
}

func (s *Scheduler) YieldToFiber(handle api.Handle) {
	target, ok := s.fibers[handle]
	if !ok || target.state == api.FiberExited {
		return
	}
	cur, hasCur := s.fibers[s.current]
	if hasCur {
		cur.state = api.FiberRunnable
		s.runnable.Add(cur.handle)
	}
	s.markRunnable(target)
	s.nextHint = handle
	if hasCur {
		s.yielded <- struct{}{}
		<-cur.resume
		cur.state = api.FiberRunning
	}
}

func (s *Scheduler) YieldTo() {
	cur, ok := s.fibers[s.current]
	if !ok {
		return
	}
	cur.state = api.FiberRunnable
	s.runnable.Add(cur.handle)
	s.yielded <- struct{}{}
	<-cur.resume
	cur.state = api.FiberRunning
}

// Run pops Runnable fibers and hands each the baton in turn until Runnable
// is empty. Stale entries (a fiber suspended or exited after it was
// enqueued but before its turn) are skipped.
func (s *Scheduler) Run() {
	for {
		h, ok := s.next()
		if !ok {
			return
		}
		f := s.fibers[h]
		if f == nil || f.state != api.FiberRunnable {
			continue
		}
		f.state = api.FiberRunning
		s.current = h
		f.resume <- struct{}{}
		<-s.yielded
		s.current = 0
		if f.state == api.FiberExited {
			delete(s.fibers, h)
		}
	}
}

func (s *Scheduler) next() (api.Handle, bool) {
	if s.nextHint != 0 {
		h := s.nextHint
		s.nextHint = 0
		if f, ok := s.fibers[h]; ok && f.state == api.FiberRunnable {
			return h, true
		}
	}
	for s.runnable.Length() > 0 {
		h := s.runnable.Remove().(api.Handle)
		if f, ok := s.fibers[h]; ok && f.state == api.FiberRunnable {
			return h, true
		}
	}
	return 0, false
}

func (s *Scheduler) CurrentFiber() api.Handle { return s.current }

func (s *Scheduler) ForegroundCount() int { return s.foreground }

func (s *Scheduler) State(handle api.Handle) (api.FiberState, bool) {
	f, ok := s.fibers[handle]
	if !ok {
		return api.FiberExited, false
	}
	return f.state, true
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("Scheduler{fibers=%d foreground=%d runnable=%d}", len(s.fibers), s.foreground, s.runnable.Length())
}

var _ api.Scheduler = (*Scheduler)(nil)
