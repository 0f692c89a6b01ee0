package fiberrt_test

import (
	"testing"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/internal/fiberrt"
)

func TestRunExecutesFiberToCompletion(t *testing.T) {
	s := fiberrt.New(nil)
	ran := false
	s.CreateFiber(func() { ran = true }, 0, true)
	s.Run()
	if !ran {
		t.Fatal("fiber body never ran")
	}
	if s.ForegroundCount() != 0 {
		t.Fatalf("expected 0 foreground fibers after exit, got %d", s.ForegroundCount())
	}
}

func TestYieldToInterleaves(t *testing.T) {
	s := fiberrt.New(nil)
	var order []string
	s.CreateFiber(func() {
		order = append(order, "a1")
		s.YieldTo()
		order = append(order, "a2")
	}, 0, true)
	s.CreateFiber(func() {
		order = append(order, "b1")
		s.YieldTo()
		order = append(order, "b2")
	}, 0, true)
	s.Run()
	want := []string{"a1", "b1", "a2", "b2"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestSuspendAndResume(t *testing.T) {
	s := fiberrt.New(nil)
	var resumed bool
	var h api.Handle
	s.CreateFiber(func() {
		h = s.CurrentFiber()
		s.SuspendFiber(h)
		resumed = true
	}, 0, true)

	// First Run call: fiber suspends itself and control returns here since
	// Runnable becomes empty (no other fiber, and this one is Suspended).
	s.Run()
	if resumed {
		t.Fatal("fiber ran past SuspendFiber before being resumed")
	}
	st, ok := s.State(h)
	if !ok || st != api.FiberSuspended {
		t.Fatalf("expected Suspended, got %v", st)
	}

	s.ResumeFiber(h)
	s.Run()
	if !resumed {
		t.Fatal("fiber did not resume past SuspendFiber")
	}
}

func TestInterruptSuspendedFiberSetsFlag(t *testing.T) {
	s := fiberrt.New(nil)
	var h api.Handle
	var sawInterrupt bool
	s.CreateFiber(func() {
		h = s.CurrentFiber()
		s.SuspendFiber(h)
		sawInterrupt = s.ConsumeInterrupt(h)
	}, 0, true)
	s.Run()

	if err := s.InterruptFiber(h); err != nil {
		t.Fatalf("InterruptFiber: %v", err)
	}
	s.Run()
	if !sawInterrupt {
		t.Fatal("expected fiber to observe pending interrupt after resume")
	}
}

func TestInterruptExitedFiberErrors(t *testing.T) {
	s := fiberrt.New(nil)
	h := s.CreateFiber(func() {}, 0, true)
	s.Run()
	if err := s.InterruptFiber(h); err == nil {
		t.Fatal("expected error interrupting an exited fiber")
	}
}

func TestBackgroundFiberDoesNotCountForeground(t *testing.T) {
	s := fiberrt.New(nil)
	s.CreateFiber(func() {}, 0, false)
	if s.ForegroundCount() != 0 {
		t.Fatalf("expected 0 foreground fibers, got %d", s.ForegroundCount())
	}
}
