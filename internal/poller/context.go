// File: internal/poller/context.go
// Author: momentics <momentics@gmail.com>
//
// ioContext is the per-descriptor bookkeeping a Poller keeps: the fd's
// aggregate interest, the intrusive list of armed watchers, and the
// FileOptions tag Loop stores per descriptor.

package poller

import "github.com/momentics/hioload-fiber/api"

type ioContext struct {
	fd       int
	interest api.IOCondition
	head     *api.IOWatcher
	tag      *api.FileOptions
}

func newIOContext(fd int) *ioContext {
	return &ioContext{
		fd:  fd,
		tag: &api.FileOptions{ReadTimeoutMS: -1, WriteTimeoutMS: -1},
	}
}

// link pushes w onto the front of the context's watcher list.
func (c *ioContext) link(w *api.IOWatcher) {
	w.ListPrev = nil
	w.ListNext = c.head
	if c.head != nil {
		c.head.ListPrev = w
	}
	c.head = w
	w.Context = c
}

// unlink removes w from the context's watcher list. No-op if w is not
// currently linked into this context.
func (c *ioContext) unlink(w *api.IOWatcher) {
	if w.ListPrev != nil {
		w.ListPrev.ListNext = w.ListNext
	} else if c.head == w {
		c.head = w.ListNext
	}
	if w.ListNext != nil {
		w.ListNext.ListPrev = w.ListPrev
	}
	w.ListPrev, w.ListNext, w.Context = nil, nil, nil
}

// recomputeInterest ORs together every armed watcher's requested
// conditions and reports whether the aggregate changed.
func (c *ioContext) recomputeInterest() bool {
	var agg api.IOCondition
	for w := c.head; w != nil; w = w.ListNext {
		agg |= w.Conditions
	}
	changed := agg != c.interest
	c.interest = agg
	return changed
}
