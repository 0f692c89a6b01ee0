package threadpool_test

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/threadpool"
)

func waitEventFD(t *testing.T, fd int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var buf [8]byte
		n, err := unix.Read(fd, buf[:])
		if err == nil && n == 8 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for eventfd signal")
}

func TestSubmitRunsAndCompletes(t *testing.T) {
	tp, err := threadpool.New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()

	task := &api.ThreadPoolTask{Procedure: func() error { return nil }}
	tp.Submit(task)
	waitEventFD(t, tp.EventFD(), time.Second)

	var got *api.ThreadPoolTask
	tp.DrainCompleted(func(t *api.ThreadPoolTask) { got = t })
	if got != task {
		t.Fatal("expected completed task to be the one submitted")
	}
	if task.State != api.TaskCompleted {
		t.Fatalf("expected TaskCompleted, got %v", task.State)
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	tp, err := threadpool.New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()

	wantErr := errors.New("boom")
	task := &api.ThreadPoolTask{Procedure: func() error { return wantErr }}
	tp.Submit(task)
	waitEventFD(t, tp.EventFD(), time.Second)

	var got *api.ThreadPoolTask
	tp.DrainCompleted(func(t *api.ThreadPoolTask) { got = t })
	if got == nil || got.Err != wantErr {
		t.Fatalf("expected propagated error, got %v", got)
	}
}

func TestRemoveCancelsUnstartedTask(t *testing.T) {
	tp, err := threadpool.New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()

	block := make(chan struct{})
	blocker := &api.ThreadPoolTask{Procedure: func() error { <-block; return nil }}
	tp.Submit(blocker)

	task := &api.ThreadPoolTask{Procedure: func() error { return nil }}
	tp.Submit(task)

	if !tp.Remove(task) {
		t.Fatal("expected Remove to cancel a task still in the pending queue")
	}
	if task.State != api.TaskCompleted || !errors.Is(task.Err, api.ErrCancelled) {
		t.Fatalf("expected task cancelled with ErrCancelled, got state=%v err=%v", task.State, task.Err)
	}

	close(block)
	waitEventFD(t, tp.EventFD(), time.Second)
	var got *api.ThreadPoolTask
	tp.DrainCompleted(func(t *api.ThreadPoolTask) { got = t })
	if got != blocker {
		t.Fatalf("expected only the blocker to reach the completed list, got %v", got)
	}
}

func TestPanicIsRecoveredAsError(t *testing.T) {
	tp, err := threadpool.New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()

	task := &api.ThreadPoolTask{Procedure: func() error { panic("nope") }}
	tp.Submit(task)
	waitEventFD(t, tp.EventFD(), time.Second)

	var got *api.ThreadPoolTask
	tp.DrainCompleted(func(t *api.ThreadPoolTask) { got = t })
	if got == nil || got.Err == nil {
		t.Fatal("expected panic to surface as a task error")
	}
}
