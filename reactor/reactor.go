// Package reactor implements a registered-fd readiness reactor. Callers
// register a file descriptor with read/write/except handler slots, toggle
// per-slot enables, and tear handlers down asynchronously: Clear stops
// dispatch for an fd and acknowledges through the OnCleared callback once
// the loop can no longer be inside one of its handlers.
//
// All handlers and submitted functions run on the single loop goroutine, so
// a given fd's handlers are never re-entered concurrently with themselves.
// Exception readiness maps to POLLPRI (TCP urgent data).
package reactor

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/sys/unix"
)

// Handlers holds the per-fd callback slots. Any slot may be nil.
type Handlers struct {
	OnRead   func(fd int)
	OnWrite  func(fd int)
	OnExcept func(fd int)
	// OnCleared is invoked exactly once, from the loop goroutine, after a
	// Clear request when no handler for the fd can still be running.
	OnCleared func(fd int)
}

type entry struct {
	h        Handlers
	readOn   bool
	writeOn  bool
	exceptOn bool
	clearing bool
}

// Reactor is a poll-based fd readiness loop.
type Reactor struct {
	logger *slog.Logger

	mu     sync.Mutex
	fds    map[int]*entry
	queue  []func()
	closed bool

	wakeR, wakeW int
	done         chan struct{}
	stopped      chan struct{}
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithLogger sets the logger used for loop-level failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reactor) { r.logger = l }
}

// New creates a reactor and starts its loop goroutine.
func New(opts ...Option) (*Reactor, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("creating wake pipe: %w", err)
	}
	r := &Reactor{
		logger:  slog.Default(),
		fds:     make(map[int]*entry),
		wakeR:   p[0],
		wakeW:   p[1],
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.run()
	return r, nil
}

// Register adds fd to the reactor with all enables off.
func (r *Reactor) Register(fd int, h Handlers) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reactor is closed")
	}
	if _, ok := r.fds[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	r.fds[fd] = &entry{h: h}
	r.wakeLocked()
	return nil
}

// SetReadEnable toggles read-readiness dispatch for fd.
func (r *Reactor) SetReadEnable(fd int, on bool) {
	r.setEnable(fd, on, func(e *entry, on bool) { e.readOn = on })
}

// SetWriteEnable toggles write-readiness dispatch for fd.
func (r *Reactor) SetWriteEnable(fd int, on bool) {
	r.setEnable(fd, on, func(e *entry, on bool) { e.writeOn = on })
}

// SetExceptEnable toggles exception-readiness (POLLPRI) dispatch for fd.
func (r *Reactor) SetExceptEnable(fd int, on bool) {
	r.setEnable(fd, on, func(e *entry, on bool) { e.exceptOn = on })
}

func (r *Reactor) setEnable(fd int, on bool, set func(*entry, bool)) {
	r.mu.Lock()
	if e, ok := r.fds[fd]; ok && !e.clearing {
		set(e, on)
		r.wakeLocked()
	}
	r.mu.Unlock()
}

// Clear asynchronously stops dispatch for fd. The entry's OnCleared runs
// from the loop goroutine once no handler for fd can still be in flight.
// The fd itself stays open; closing it is the callback's business.
func (r *Reactor) Clear(fd int) {
	r.mu.Lock()
	if e, ok := r.fds[fd]; ok {
		e.clearing = true
		r.wakeLocked()
	}
	r.mu.Unlock()
}

// ClearNoReport removes fd immediately without acknowledgement. Only legal
// when the caller knows no handler for fd is running or about to run.
func (r *Reactor) ClearNoReport(fd int) {
	r.mu.Lock()
	delete(r.fds, fd)
	r.wakeLocked()
	r.mu.Unlock()
}

// Submit schedules f to run on the loop goroutine.
func (r *Reactor) Submit(f func()) {
	r.mu.Lock()
	r.queue = append(r.queue, f)
	r.wakeLocked()
	r.mu.Unlock()
}

// Close stops the loop. Pending Clear requests are acknowledged before the
// loop exits; fds still registered are dropped without acknowledgement.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.wakeLocked()
	r.mu.Unlock()

	<-r.stopped
	unix.Close(r.wakeR)
	unix.Close(r.wakeW)
	return nil
}

func (r *Reactor) wakeLocked() {
	// A full pipe already guarantees a pending wakeup.
	_, _ = unix.Write(r.wakeW, []byte{0})
}

func (r *Reactor) run() {
	defer close(r.stopped)
	for {
		funcs, cleared, pfds := r.collect()

		for _, f := range funcs {
			f()
		}
		for _, c := range cleared {
			if c.h.OnCleared != nil {
				c.h.OnCleared(c.fd)
			}
		}

		select {
		case <-r.done:
			r.drainClears()
			return
		default:
		}

		n, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			r.logger.Error("poll failed", "err", err)
			continue
		}
		if n == 0 {
			continue
		}

		for _, p := range pfds {
			if p.Revents == 0 {
				continue
			}
			if int(p.Fd) == r.wakeR {
				var buf [64]byte
				for {
					if _, err := unix.Read(r.wakeR, buf[:]); err != nil {
						break
					}
				}
				continue
			}
			r.dispatch(int(p.Fd), p.Revents)
		}
	}
}

type clearedEntry struct {
	fd int
	h  Handlers
}

// collect snapshots pending submitted funcs, clear acknowledgements, and the
// poll set under the lock. Cleared entries are removed from the registry
// here; their acknowledgement runs after the snapshot, outside the lock.
func (r *Reactor) collect() ([]func(), []clearedEntry, []unix.PollFd) {
	r.mu.Lock()
	defer r.mu.Unlock()

	funcs := r.queue
	r.queue = nil

	var cleared []clearedEntry
	for _, fd := range maps.Keys(r.fds) {
		if e := r.fds[fd]; e.clearing {
			cleared = append(cleared, clearedEntry{fd: fd, h: e.h})
			delete(r.fds, fd)
		}
	}

	pfds := make([]unix.PollFd, 0, len(r.fds)+1)
	pfds = append(pfds, unix.PollFd{Fd: int32(r.wakeR), Events: unix.POLLIN})
	for fd, e := range r.fds {
		var ev int16
		if e.readOn {
			ev |= unix.POLLIN
		}
		if e.writeOn {
			ev |= unix.POLLOUT
		}
		if e.exceptOn {
			ev |= unix.POLLPRI
		}
		if ev != 0 {
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: ev})
		}
	}
	return funcs, cleared, pfds
}

func (r *Reactor) drainClears() {
	r.mu.Lock()
	var cleared []clearedEntry
	for _, fd := range maps.Keys(r.fds) {
		if e := r.fds[fd]; e.clearing {
			cleared = append(cleared, clearedEntry{fd: fd, h: e.h})
			delete(r.fds, fd)
		}
	}
	r.mu.Unlock()
	for _, c := range cleared {
		if c.h.OnCleared != nil {
			c.h.OnCleared(c.fd)
		}
	}
}

func (r *Reactor) dispatch(fd int, revents int16) {
	r.mu.Lock()
	e, ok := r.fds[fd]
	if !ok || e.clearing {
		r.mu.Unlock()
		return
	}
	h := e.h
	readOn, writeOn, exceptOn := e.readOn, e.writeOn, e.exceptOn
	r.mu.Unlock()

	// POLLERR/POLLHUP surface through whichever direction is armed so the
	// owner observes the failure as a readiness event.
	errCond := revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0

	if exceptOn && revents&unix.POLLPRI != 0 && h.OnExcept != nil {
		h.OnExcept(fd)
	}
	if readOn && (revents&unix.POLLIN != 0 || errCond) && h.OnRead != nil {
		h.OnRead(fd)
	}
	if writeOn && (revents&unix.POLLOUT != 0 || errCond) && h.OnWrite != nil {
		h.OnWrite(fd)
	}
}
