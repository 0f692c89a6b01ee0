// File: api/poller.go
// Author: momentics <momentics@gmail.com>
//
// IOWatcher, the per-descriptor FileOptions tag, and the Poller contract a
// concrete epoll-backed implementation satisfies.

package api

// IOWatcher is an arming of a fiber's interest in a subset of a
// descriptor's readiness conditions. Dormant until AddWatcher links it to
// an IOContext. When a poll sweep reports conditions it intersects, Ready
// is set and Callback invoked; the watcher is not detached by firing and
// stays armed, reported again on every later sweep in which its
// conditions fire, until RemoveWatcher detaches it.
//
// ListPrev, ListNext and Context are owned by whichever Poller currently
// holds the watcher and exported only because the intrusive watcher list
// lives in a different package from this type; callers outside a Poller
// implementation must not read or write them.
type IOWatcher struct {
	FD         int
	Conditions IOCondition
	Ready      IOCondition
	Armed      bool
	ListPrev   *IOWatcher
	ListNext   *IOWatcher
	Context    any
	Callback   func(*IOWatcher, IOCondition)
}

// FileOptions is the fixed-size tag every IOContext carries, holding the
// per-descriptor blocking-mode virtualization and timeout state the Loop
// needs. Stored in the context's opaque tag slot.
type FileOptions struct {
	IsSocket     bool
	Blocking     bool
	ReadTimeoutMS  int64 // -1 means no timeout
	WriteTimeoutMS int64 // -1 means no timeout
}

// Poller demultiplexes descriptor readiness and dispatches it to watchers.
type Poller interface {
	// CreateContext allocates a context for fd with empty interest.
	CreateContext(fd int) (*FileOptions, error)
	// DestroyContext releases fd's context. Any still-armed watchers are
	// orphaned; callers must remove watchers before calling this.
	DestroyContext(fd int)
	// ContextExists reports whether fd has a live context.
	ContextExists(fd int) bool
	// ContextTag returns fd's FileOptions tag, or nil if no context.
	ContextTag(fd int) *FileOptions

	// AddWatcher arms w on fd for conditions, updating the kernel
	// registration if the context's aggregate interest changed.
	AddWatcher(w *IOWatcher, fd int, conditions IOCondition) error
	// RemoveWatcher detaches w and recomputes its context's interest.
	RemoveWatcher(w *IOWatcher)

	// GetReadyWatchers blocks for at most clock's due time (or forever if
	// the clock has no timers and no descriptor is ready), then invokes
	// cb for every watcher whose requested conditions intersect what
	// fired, and advances clock's "now" to the post-wait instant. Fired
	// watchers stay armed; their owners detach them with RemoveWatcher.
	GetReadyWatchers(clock Clock, cb func(*IOWatcher, IOCondition)) error

	// Close releases the underlying kernel readiness set.
	Close() error
}
