// File: loop/loop.go
// Author: momentics <momentics@gmail.com>
//
// Loop is the POSIX-shaped façade composing the scheduler, clock, poller
// and thread pool into the single object a host application drives.
// Grounded on facade/hioload.go's composition style: one constructor wires
// every subsystem and rolls back everything already opened on partial
// failure, aggregating with multierr.

package loop

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/affinity"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/internal/assert"
	"github.com/momentics/hioload-fiber/internal/clock"
	"github.com/momentics/hioload-fiber/internal/fiberrt"
	"github.com/momentics/hioload-fiber/internal/logging"
	"github.com/momentics/hioload-fiber/internal/poller"
	"github.com/momentics/hioload-fiber/internal/threadpool"
)

// configKeyDefaultStackSize is the ConfigStore key Loop watches for a
// live-updatable default fiber stack size.
const configKeyDefaultStackSize = "fiber.default_stack_size"

// origFDSettings is what RegisterFD snapshots so UnregisterFD can restore
// an adopted descriptor to its pre-adoption state.
type origFDSettings struct {
	isSocket bool
	blocking bool
	rcvTimeo unix.Timeval
	sndTimeo unix.Timeval
}

// Loop composes a Scheduler, Clock, Poller and ThreadPool behind the
// POSIX-shaped surface documented on the methods in file.go, socket.go and
// wait.go.
type Loop struct {
	sched *fiberrt.Scheduler
	clk   *clock.Clock
	poll  api.Poller
	pool  *threadpool.ThreadPool
	async *threadpool.Async
	ctrl  *control.Runtime

	tpWatcher *api.IOWatcher

	pinCPU int
	pinned bool

	orig map[int]origFDSettings

	defaultStackSize int64 // atomic; read by CreateFiber, written by applyConfigReload
}

// New wires a fresh Loop. On any construction failure every subsystem
// already opened is torn down before the error is returned.
func New(cfg Config) (*Loop, error) {
	if cfg.Logger != nil {
		logging.SetLogger(cfg.Logger)
	}

	sched := fiberrt.New(logging.L())
	clk := clock.New()

	p, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("loop: create poller: %w", err)
	}

	pool, err := threadpool.New(cfg.Workers)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("loop: create threadpool: %w", err)
	}

	l := &Loop{
		sched:            sched,
		clk:              clk,
		poll:             p,
		pool:             pool,
		async:            threadpool.NewAsync(pool, sched),
		ctrl:             control.NewRuntime(),
		pinCPU:           cfg.PinCPU,
		orig:             make(map[int]origFDSettings),
		defaultStackSize: int64(api.DefaultFiberStackSize),
	}
	l.ctrl.OnReload(l.applyConfigReload)

	if _, err := p.CreateContext(pool.EventFD()); err != nil {
		errs := multierr.Append(fmt.Errorf("loop: register threadpool eventfd: %w", err), pool.Close())
		errs = multierr.Append(errs, p.Close())
		return nil, errs
	}
	l.tpWatcher = &api.IOWatcher{
		Callback: func(*api.IOWatcher, api.IOCondition) {
			l.pool.DrainCompleted(func(t *api.ThreadPoolTask) {
				l.async.Wake(t)
				l.ctrl.Metrics.Add("threadpool.tasks_completed", 1)
			})
		},
	}
	if err := p.AddWatcher(l.tpWatcher, pool.EventFD(), api.CondIn); err != nil {
		errs := multierr.Append(fmt.Errorf("loop: arm threadpool watcher: %w", err), pool.Close())
		errs = multierr.Append(errs, p.Close())
		return nil, errs
	}

	l.registerIntrospectionProbes()
	return l, nil
}

// applyConfigReload is registered with ctrl.OnReload at construction. It
// re-reads fiber.default_stack_size from the config snapshot and, if
// present and positive, makes it the size CreateFiber substitutes for a
// caller's stackSize <= 0 from this point on.
func (l *Loop) applyConfigReload() {
	size := l.ctrl.Config.GetInt(configKeyDefaultStackSize, 0)
	if size <= 0 {
		return
	}
	atomic.StoreInt64(&l.defaultStackSize, int64(size))
}

// registerIntrospectionProbes exposes live scheduler/poller/clock/thread
// pool internals through Control()'s debug-probe surface: foreground fiber
// count, pending-timer count, thread-pool queue depth, the current default
// fiber stack size, and (when the poller provides them) armed-watcher count
// and the last poll cycle's event count.
func (l *Loop) registerIntrospectionProbes() {
	l.ctrl.RegisterDebugProbe("scheduler.foreground_fibers", func() any {
		return l.sched.ForegroundCount()
	})
	l.ctrl.RegisterDebugProbe("clock.pending_timers", func() any {
		return l.clk.Len()
	})
	l.ctrl.RegisterDebugProbe("threadpool.queue_depth", func() any {
		return l.pool.QueueDepth()
	})
	l.ctrl.RegisterDebugProbe("fiber.default_stack_size", func() any {
		return atomic.LoadInt64(&l.defaultStackSize)
	})
	if wc, ok := l.poll.(interface{ WatcherCount() int }); ok {
		l.ctrl.RegisterDebugProbe("poller.armed_watchers", func() any {
			return wc.WatcherCount()
		})
	}
	if lb, ok := l.poll.(interface{ LastBatchEvents() int }); ok {
		l.ctrl.RegisterDebugProbe("poller.last_batch_events", func() any {
			return lb.LastBatchEvents()
		})
	}
}

// Control exposes the runtime configuration, metrics and debug-probe
// surface for this Loop.
func (l *Loop) Control() api.Control { return l.ctrl }

// SetLogger makes log the runtime's package-level logger (logging.L) from
// now on. This Loop's scheduler keeps the logger it was given in New, so
// fiber panic reports are not redirected.
func (l *Loop) SetLogger(log *zap.Logger) { logging.SetLogger(log) }

// PinToCPU records a pin request consumed at the next call to Run.
func (l *Loop) PinToCPU(cpuID int) {
	l.pinCPU = cpuID
	l.pinned = false
}

// Run drains runnable fibers, polls for readiness, expires timers, and
// repeats until no foreground fiber remains. If a CPU pin was requested
// (Config.PinCPU or PinToCPU) and not yet applied, it pins the calling OS
// thread once, on entry.
func (l *Loop) Run() error {
	if l.pinCPU >= 0 && !l.pinned {
		if err := affinity.SetAffinity(l.pinCPU); err != nil {
			logging.L().Warn("loop: affinity pin failed", zap.Int("cpu", l.pinCPU), zap.Error(err))
		}
		l.pinned = true
	}

	for l.sched.ForegroundCount() > 0 {
		l.sched.Run()
		if l.sched.ForegroundCount() == 0 {
			break
		}
		if err := l.poll.GetReadyWatchers(l.clk, l.dispatchWatcher); err != nil {
			return fmt.Errorf("loop: poll: %w", err)
		}
		l.ctrl.Metrics.Add("loop.poll_cycles", 1)
		l.clk.RemoveExpiredTimers(l.dispatchTimer)
	}
	return nil
}

func (l *Loop) dispatchWatcher(w *api.IOWatcher, ready api.IOCondition) {
	if w.Callback != nil {
		w.Callback(w, ready)
		l.ctrl.Metrics.Add("loop.watchers_dispatched", 1)
	}
}

func (l *Loop) dispatchTimer(t *api.IOTimer) {
	if t.Callback != nil {
		t.Callback(t)
		l.ctrl.Metrics.Add("loop.timers_fired", 1)
	}
}

// Shutdown tears down the thread pool and poller. It does not close any
// descriptor the caller registered or opened; those remain the caller's
// responsibility.
func (l *Loop) Shutdown() error {
	l.poll.RemoveWatcher(l.tpWatcher)
	l.poll.DestroyContext(l.pool.EventFD())
	errs := l.pool.Close()
	errs = multierr.Append(errs, l.poll.Close())
	return errs
}

func (l *Loop) createIOContext(fd int, isSocket, blocking bool) error {
	tag, err := l.poll.CreateContext(fd)
	if err != nil {
		return err
	}
	tag.IsSocket = isSocket
	tag.Blocking = blocking
	tag.ReadTimeoutMS = -1
	tag.WriteTimeoutMS = -1
	return nil
}

func (l *Loop) destroyIOContext(fd int) {
	l.poll.DestroyContext(fd)
}

func (l *Loop) getFileOptions(fd int) (*api.FileOptions, error) {
	tag := l.poll.ContextTag(fd)
	if tag == nil {
		assert.Assertf(false, "loop: use of descriptor %d with no context (already closed?)", fd)
		return nil, api.ErrBadDescriptor
	}
	return tag, nil
}

func effectiveTimeout(timeoutMS int64, blocking bool) int64 {
	if !blocking {
		return 0
	}
	return timeoutMS
}
