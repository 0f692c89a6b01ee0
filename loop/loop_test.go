//go:build linux
// +build linux

// File: loop/loop_test.go
// Author: momentics <momentics@gmail.com>

package loop

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fiber/api"
)

func mustLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Shutdown() })
	return l
}

func TestPipeWriteThenRead(t *testing.T) {
	l := mustLoop(t)

	var got []byte
	var ferr error
	l.CreateFiber(func() {
		r, w, err := l.Pipe2(0)
		if err != nil {
			ferr = err
			return
		}
		defer l.Close(r)
		defer l.Close(w)

		msg := []byte("hello fiber")
		if _, err := l.Write(w, msg); err != nil {
			ferr = err
			return
		}
		buf := make([]byte, len(msg))
		n, err := l.Read(r, buf)
		if err != nil {
			ferr = err
			return
		}
		got = buf[:n]
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ferr != nil {
		t.Fatalf("fiber error: %v", ferr)
	}
	if string(got) != "hello fiber" {
		t.Fatalf("got %q", got)
	}
}

func TestInterruptDuringSetDelayReturnsCancelled(t *testing.T) {
	l := mustLoop(t)

	var errA error
	handleA := l.CreateFiber(func() {
		errA = l.SetDelay(10000)
	}, 0, true)

	l.CreateFiber(func() {
		_ = l.SetDelay(5)
		_ = l.InterruptFiber(handleA)
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(errA, api.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", errA)
	}
}

func TestInterruptDuringExecuteBlockingReturnsCancelled(t *testing.T) {
	l := mustLoop(t)

	var errA error
	handleA := l.CreateFiber(func() {
		errA = l.ExecuteBlocking(func() error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}, 0, true)

	l.CreateFiber(func() {
		_ = l.SetDelay(5)
		_ = l.InterruptFiber(handleA)
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(errA, api.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", errA)
	}
}

func TestFcntlNonblockRoundTrip(t *testing.T) {
	l := mustLoop(t)

	r, w, err := l.Pipe2(0)
	if err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	defer l.Close(r)
	defer l.Close(w)

	if _, err := l.Fcntl(w, unix.F_SETFL, unix.O_NONBLOCK); err != nil {
		t.Fatalf("Fcntl SETFL: %v", err)
	}
	flags, err := l.Fcntl(w, unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("Fcntl GETFL: %v", err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatal("expected O_NONBLOCK bit set after F_SETFL")
	}
}

func TestRegisterUnregisterFDRestoresBlockingMode(t *testing.T) {
	l := mustLoop(t)

	var fds [2]int
	if err := unix.Pipe2(fds[:], 0); err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	r := fds[0]
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	before, err := unix.FcntlInt(uintptr(r), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("FcntlInt: %v", err)
	}

	if err := l.RegisterFD(r); err != nil {
		t.Fatalf("RegisterFD: %v", err)
	}
	mid, err := unix.FcntlInt(uintptr(r), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("FcntlInt: %v", err)
	}
	if mid&unix.O_NONBLOCK == 0 {
		t.Fatal("expected kernel nonblocking after RegisterFD")
	}

	if err := l.UnregisterFD(r); err != nil {
		t.Fatalf("UnregisterFD: %v", err)
	}
	after, err := unix.FcntlInt(uintptr(r), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("FcntlInt: %v", err)
	}
	if after != before {
		t.Fatalf("flags not restored: got %o want %o", after, before)
	}
}

func TestPollMoreThanOneDescriptorFails(t *testing.T) {
	l := mustLoop(t)

	var got error
	l.CreateFiber(func() {
		_, got = l.Poll(0, api.CondIn, 2, 0)
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(got, api.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", got)
	}
}

func TestConfigReloadUpdatesDefaultStackSize(t *testing.T) {
	l := mustLoop(t)

	if err := l.Control().SetConfig(map[string]any{"fiber.default_stack_size": 1 << 20}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	// SetConfig dispatches reload listeners on their own goroutine; give
	// it a scheduling window by running an unrelated fiber to completion.
	l.CreateFiber(func() { _ = l.SetDelay(1) }, 0, true)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := 0
	for l.Control().Stats()["fiber.default_stack_size"] == nil && deadline < 1000 {
		deadline++
	}
	got := int64(0)
	l.CreateFiber(func() {
		got = int64(l.defaultStackSize)
	}, 0, true)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 1<<20 {
		t.Fatalf("default stack size not applied: got %d", got)
	}
}

func TestStatsReflectsMetricsAndDebugProbes(t *testing.T) {
	l := mustLoop(t)

	l.CreateFiber(func() { _ = l.SetDelay(1) }, 0, true)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := l.Control().Stats()
	if _, ok := stats["loop.poll_cycles"]; !ok {
		t.Fatal("expected loop.poll_cycles in Stats output")
	}
	if _, ok := stats["scheduler.foreground_fibers"]; !ok {
		t.Fatal("expected scheduler.foreground_fibers debug probe in Stats output")
	}
}

// listenerAddr binds and listens on an ephemeral loopback port outside
// the loop under test (a plain blocking socket is fine for the peer side;
// only the connecting/accepting side needs to be fiber-driven).
func listenerAddr(t *testing.T) (int, *unix.SockaddrInet4) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(fd) })
	if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	return fd, sa.(*unix.SockaddrInet4)
}

func TestConnectSendRecvRoundTrip(t *testing.T) {
	l := mustLoop(t)
	lfd, addr := listenerAddr(t)

	// The peer echoes from this goroutine: the fiber's MSG_WAITALL Recv
	// only completes once the echo arrives, and Run does not return before
	// that, so the echo cannot wait until after Run.
	accepted := make(chan int, 1)
	var peerN int
	var peerReadErr, peerWriteErr error
	go func() {
		nfd, _, err := unix.Accept4(lfd, 0)
		if err != nil {
			accepted <- -1
			return
		}
		buf := make([]byte, 4)
		peerN, peerReadErr = unix.Read(nfd, buf)
		if peerReadErr == nil && peerN == 4 {
			_, peerWriteErr = unix.Write(nfd, buf[:peerN])
		}
		accepted <- nfd
	}()

	var connErr, sendErr, recvErr error
	var got []byte
	l.CreateFiber(func() {
		fd, err := l.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			connErr = err
			return
		}
		defer l.Close(fd)

		if err := l.Connect(fd, addr); err != nil {
			connErr = err
			return
		}

		msg := []byte("ping")
		if _, err := l.Send(fd, msg, 0); err != nil {
			sendErr = err
			return
		}
		buf := make([]byte, 4)
		n, err := l.Recv(fd, buf, unix.MSG_WAITALL)
		if err != nil {
			recvErr = err
			return
		}
		got = buf[:n]
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if connErr != nil {
		t.Fatalf("Connect: %v", connErr)
	}

	nfd := <-accepted
	if nfd < 0 {
		t.Fatal("Accept4 on peer side failed")
	}
	defer unix.Close(nfd)
	if peerReadErr != nil || peerN != 4 {
		t.Fatalf("peer read: n=%d err=%v", peerN, peerReadErr)
	}
	if peerWriteErr != nil {
		t.Fatalf("peer write: %v", peerWriteErr)
	}

	if sendErr != nil {
		t.Fatalf("Send: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("Recv: %v", recvErr)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestGetSetSockoptTimeout(t *testing.T) {
	l := mustLoop(t)

	var setErr, getErr error
	var ms int
	l.CreateFiber(func() {
		fd, err := l.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			setErr = err
			return
		}
		defer l.Close(fd)

		if err := l.Setsockopt(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, 250); err != nil {
			setErr = err
			return
		}
		ms, getErr = l.Getsockopt(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO)
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if setErr != nil {
		t.Fatalf("Setsockopt: %v", setErr)
	}
	if getErr != nil {
		t.Fatalf("Getsockopt: %v", getErr)
	}
	if ms != 250 {
		t.Fatalf("got SO_RCVTIMEO=%d, want 250", ms)
	}
}

// TestConnectRetriesEINTR verifies Connect re-issues the connect syscall
// on EINTR: a real EINTR mid-connect (delivered by a signal racing the
// syscall) must not surface to the fiber as an error.
func TestConnectRetriesEINTR(t *testing.T) {
	l := mustLoop(t)
	lfd, addr := listenerAddr(t)

	accepted := make(chan struct{}, 1)
	go func() {
		nfd, _, err := unix.Accept4(lfd, 0)
		if err == nil {
			unix.Close(nfd)
		}
		accepted <- struct{}{}
	}()

	// Fire a stream of harmless signals at this thread while the fiber's
	// Connect call is in flight, to make a real EINTR plausible without
	// depending on kernel timing to reproduce it deterministically.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				unix.Kill(unix.Getpid(), unix.SIGWINCH)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	var connErr error
	l.CreateFiber(func() {
		fd, err := l.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			connErr = err
			return
		}
		defer l.Close(fd)
		connErr = l.Connect(fd, addr)
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(done)
	<-accepted

	if connErr != nil {
		t.Fatalf("Connect must retry EINTR internally, got: %v", connErr)
	}
}

func TestBackgroundFiberDoesNotBlockRun(t *testing.T) {
	l := mustLoop(t)

	ran := false
	l.CreateFiber(func() {
		ran = true
		_ = l.SetDelay(-1) // suspends forever; background, so Run must not wait on it
	}, 0, false)
	l.CreateFiber(func() {
		_ = l.SetDelay(1)
	}, 0, true)

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("background fiber never ran")
	}
}
