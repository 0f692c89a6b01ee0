//go:build linux
// +build linux

package poller_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/clock"
	"github.com/momentics/hioload-fiber/internal/poller"
)

func mustPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	return p[0], p[1]
}

func TestAddWatcherFiresOnWritableWriteEnd(t *testing.T) {
	pl, err := poller.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pl.Close()

	r, w := mustPipe(t)
	defer unix.Close(r)
	defer unix.Close(w)

	if _, err := pl.CreateContext(r); err != nil {
		t.Fatalf("CreateContext(r): %v", err)
	}
	if _, err := pl.CreateContext(w); err != nil {
		t.Fatalf("CreateContext(w): %v", err)
	}

	watcher := &api.IOWatcher{}
	if err := pl.AddWatcher(watcher, w, api.CondOut); err != nil {
		t.Fatalf("AddWatcher: %v", err)
	}

	c := clock.New()
	var fired api.IOCondition
	err = pl.GetReadyWatchers(c, func(w *api.IOWatcher, cond api.IOCondition) {
		fired = cond
	})
	if err != nil {
		t.Fatalf("GetReadyWatchers: %v", err)
	}
	if !fired.Has(api.CondOut) {
		t.Fatalf("expected CondOut to fire, got %v", fired)
	}
}

func TestRemoveWatcherDisarms(t *testing.T) {
	pl, err := poller.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pl.Close()

	_, w := mustPipe(t)
	defer unix.Close(w)

	if _, err := pl.CreateContext(w); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	watcher := &api.IOWatcher{}
	if err := pl.AddWatcher(watcher, w, api.CondOut); err != nil {
		t.Fatalf("AddWatcher: %v", err)
	}
	pl.RemoveWatcher(watcher)
	if watcher.Armed {
		t.Fatal("watcher still armed after RemoveWatcher")
	}
}
