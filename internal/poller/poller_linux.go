//go:build linux
// +build linux

// File: internal/poller/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// epoll(7)-backed api.Poller. GetReadyWatchers brackets its blocking wait
// with clock.Start/Stop/Restart exactly the way the original library's
// pollEvents does: start before the wait, stop on a clean return, restart
// plus a recomputed timeout on EINTR, and a grow-then-zero-timeout drain
// pass when the event buffer fills completely in one wait.

package poller

import (
	"math"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/assert"
	"github.com/momentics/hioload-fiber/pool"
)

const initialEventBuf = 64

// eventBufPool hands out the initial per-Poller event batch buffer so
// repeated Poller construction (as in tests) doesn't each pay for a fresh
// slice; grown buffers are returned to the pool on Close for the next
// Poller to reuse.
var eventBufPool = pool.NewSyncPool(func() []unix.EpollEvent {
	return make([]unix.EpollEvent, initialEventBuf)
})

// Poller is the Linux epoll implementation of api.Poller.
type Poller struct {
	epfd      int
	contexts  map[int]*ioContext
	events    []unix.EpollEvent
	lastBatch int
}

// New creates an epoll instance. The returned Poller owns epfd and closes
// it in Close.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:     epfd,
		contexts: make(map[int]*ioContext),
		events:   eventBufPool.Get(),
	}, nil
}

func (p *Poller) CreateContext(fd int) (*api.FileOptions, error) {
	if _, exists := p.contexts[fd]; exists {
		return nil, api.ErrInvalid
	}
	ev := unix.EpollEvent{Events: uint32(unix.EPOLLET), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, err
	}
	ctx := newIOContext(fd)
	p.contexts[fd] = ctx
	return ctx.tag, nil
}

func (p *Poller) DestroyContext(fd int) {
	ctx, ok := p.contexts[fd]
	if !ok {
		return
	}
	assert.Assertf(ctx.head == nil, "poller: destroy context for fd %d with watchers still armed", fd)
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.contexts, fd)
}

func (p *Poller) ContextExists(fd int) bool {
	_, ok := p.contexts[fd]
	return ok
}

func (p *Poller) ContextTag(fd int) *api.FileOptions {
	ctx, ok := p.contexts[fd]
	if !ok {
		return nil
	}
	return ctx.tag
}

func (p *Poller) AddWatcher(w *api.IOWatcher, fd int, conditions api.IOCondition) error {
	ctx, ok := p.contexts[fd]
	if !ok {
		return api.ErrBadDescriptor
	}
	w.FD = fd
	w.Conditions = conditions
	w.Ready = api.CondNo
	w.Armed = true
	ctx.link(w)
	return p.syncInterest(ctx)
}

func (p *Poller) RemoveWatcher(w *api.IOWatcher) {
	if !w.Armed {
		return
	}
	ctx, ok := w.Context.(*ioContext)
	if !ok {
		return
	}
	ctx.unlink(w)
	w.Armed = false
	_ = p.syncInterest(ctx)
}

func (p *Poller) syncInterest(ctx *ioContext) error {
	if !ctx.recomputeInterest() {
		return nil
	}
	ev := unix.EpollEvent{Events: uint32(ctx.interest) | uint32(unix.EPOLLET), Fd: int32(ctx.fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, ctx.fd, &ev)
}

func clampTimeout(dueMS int64) int {
	if dueMS < 0 {
		return -1
	}
	if dueMS > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(dueMS)
}

func (p *Poller) GetReadyWatchers(clk api.Clock, cb func(*api.IOWatcher, api.IOCondition)) error {
	clk.Start()
	timeout := clampTimeout(clk.DueTime())
	count := 0
	for {
		n, err := unix.EpollWait(p.epfd, p.events[count:], timeout)
		if err != nil {
			if err == unix.EINTR {
				clk.Restart()
				timeout = clampTimeout(clk.DueTime())
				continue
			}
			clk.Stop()
			return err
		}
		clk.Stop()
		count += n
		if count < len(p.events) {
			break
		}
		// buffer saturated: grow it and take one more zero-timeout pass to
		// drain anything still pending, without waiting again.
		p.events = append(p.events, make([]unix.EpollEvent, len(p.events))...)
		clk.Start()
		timeout = 0
	}
	p.lastBatch = count
	p.dispatch(count, cb)
	return nil
}

// WatcherCount returns the number of watchers currently armed across every
// context, for debug introspection.
func (p *Poller) WatcherCount() int {
	total := 0
	for _, ctx := range p.contexts {
		for w := ctx.head; w != nil; w = w.ListNext {
			total++
		}
	}
	return total
}

// LastBatchEvents returns the number of ready events the most recent
// GetReadyWatchers call dispatched.
func (p *Poller) LastBatchEvents() int { return p.lastBatch }

func (p *Poller) dispatch(count int, cb func(*api.IOWatcher, api.IOCondition)) {
	for i := 0; i < count; i++ {
		raw := p.events[i]
		ctx, ok := p.contexts[int(raw.Fd)]
		if !ok {
			continue
		}
		fired := api.IOCondition(raw.Events)
		for w := ctx.head; w != nil; {
			next := w.ListNext
			if w.Armed && w.Conditions.Intersects(fired) {
				w.Ready = (fired & w.Conditions) | (fired & (api.CondErr | api.CondHup))
				cb(w, w.Ready)
			}
			w = next
		}
	}
}

func (p *Poller) Close() error {
	eventBufPool.Put(p.events)
	return unix.Close(p.epfd)
}

var _ api.Poller = (*Poller)(nil)
