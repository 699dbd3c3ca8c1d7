package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

const timeout = 5 * time.Second

func newReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("creating reactor: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func testPipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	return p[0], p[1]
}

func await(t *testing.T, ch <-chan int, what string) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", what)
		return 0
	}
}

func TestReadDispatch(t *testing.T) {
	r := newReactor(t)
	rfd, wfd := testPipe(t)
	defer unix.Close(wfd)

	readC := make(chan int, 1)
	if err := r.Register(rfd, Handlers{
		OnRead: func(fd int) {
			var buf [8]byte
			unix.Read(fd, buf[:])
			select {
			case readC <- fd:
			default:
			}
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer func() {
		r.ClearNoReport(rfd)
		unix.Close(rfd)
	}()

	// Nothing dispatches until read is enabled.
	unix.Write(wfd, []byte{1})
	select {
	case <-readC:
		t.Fatalf("read dispatched while disabled")
	case <-time.After(50 * time.Millisecond):
	}

	r.SetReadEnable(rfd, true)
	if got := await(t, readC, "read dispatch"); got != rfd {
		t.Fatalf("dispatched fd %d, want %d", got, rfd)
	}
}

func TestClearAcknowledged(t *testing.T) {
	r := newReactor(t)
	rfd, wfd := testPipe(t)
	defer unix.Close(wfd)

	clearedC := make(chan int, 1)
	if err := r.Register(rfd, Handlers{
		OnCleared: func(fd int) { clearedC <- fd },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Clear(rfd)
	if got := await(t, clearedC, "clear acknowledgement"); got != rfd {
		t.Fatalf("cleared fd %d, want %d", got, rfd)
	}
	unix.Close(rfd)

	// A second registration of the same fd works after the clear.
	rfd2, wfd2 := testPipe(t)
	defer unix.Close(wfd2)
	if err := r.Register(rfd2, Handlers{OnCleared: func(fd int) { clearedC <- fd }}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	r.Clear(rfd2)
	await(t, clearedC, "second clear acknowledgement")
	unix.Close(rfd2)
}

func TestWriteDispatch(t *testing.T) {
	r := newReactor(t)
	rfd, wfd := testPipe(t)
	defer unix.Close(rfd)

	writeC := make(chan int, 1)
	if err := r.Register(wfd, Handlers{
		OnWrite: func(fd int) {
			r.SetWriteEnable(fd, false)
			select {
			case writeC <- fd:
			default:
			}
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer func() {
		r.ClearNoReport(wfd)
		unix.Close(wfd)
	}()

	// An empty pipe is immediately writable.
	r.SetWriteEnable(wfd, true)
	await(t, writeC, "write dispatch")
}

func TestSubmit(t *testing.T) {
	r := newReactor(t)
	ran := make(chan int, 1)
	r.Submit(func() { ran <- 1 })
	await(t, ran, "submitted function")
}

func TestSubmitOrdering(t *testing.T) {
	r := newReactor(t)
	got := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		r.Submit(func() { got <- i })
	}
	for want := 1; want <= 3; want++ {
		if v := await(t, got, "submitted function"); v != want {
			t.Fatalf("submitted functions ran out of order: got %d, want %d", v, want)
		}
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	r := newReactor(t)
	rfd, wfd := testPipe(t)
	defer unix.Close(wfd)

	if err := r.Register(rfd, Handlers{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(rfd, Handlers{}); err == nil {
		t.Fatalf("second register of fd %d succeeded", rfd)
	}
	r.ClearNoReport(rfd)
	unix.Close(rfd)
}

func TestCloseAcknowledgesPendingClears(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("creating reactor: %v", err)
	}
	rfd, wfd := testPipe(t)
	defer unix.Close(wfd)

	clearedC := make(chan int, 1)
	if err := r.Register(rfd, Handlers{OnCleared: func(fd int) { clearedC <- fd }}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Park the loop so the clear is still pending when Close runs.
	entered := make(chan struct{})
	release := make(chan struct{})
	r.Submit(func() {
		close(entered)
		<-release
	})
	<-entered
	r.Clear(rfd)

	closeDone := make(chan struct{})
	go func() {
		r.Close()
		close(closeDone)
	}()
	close(release)

	await(t, clearedC, "clear acknowledgement during close")
	select {
	case <-closeDone:
	case <-time.After(timeout):
		t.Fatalf("close never returned")
	}
	unix.Close(rfd)
}
