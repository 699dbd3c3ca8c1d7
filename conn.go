package strio

import (
	"io"
	"sync"

	"github.com/strio-net/strio/netaddr"
	"github.com/strio-net/strio/reactor"
	"golang.org/x/sys/unix"
)

// DefaultReadBufferSize is the read buffer size endpoints use when the
// "readbuf" argument is absent.
const DefaultReadBufferSize = 1024

// ControlNodelay is the control option for TCP_NODELAY. Get renders the
// current value as a decimal string; set parses the buffer as an unsigned
// integer in any base.
const ControlNodelay = "nodelay"

// ReadHandler receives inbound records. aux carries record tags; urgent
// data arrives tagged "oob". A non-nil err (io.EOF on orderly shutdown)
// terminates the stream; read dispatch is disabled before it is delivered.
type ReadHandler func(err error, data []byte, aux []string)

// ConnOps is the operation set a transport provides for an endpoint whose
// fd is already connected (the server shape).
type ConnOps interface {
	// Write transmits p on fd. aux tags modify the send; an unrecognized
	// tag must abort the write with ErrInvalidArgument before any byte is
	// transmitted. A would-block condition reports (0, nil).
	Write(fd int, p []byte, aux []string) (int, error)
	// ExceptReady handles an exception-readiness event, typically by
	// pushing an urgent-data record through c.DeliverIncoming.
	ExceptReady(c *Conn, fd int)
	// Control gets or sets a transport option. Unknown options return
	// ErrUnsupported.
	Control(fd int, get bool, option string, data []byte) ([]byte, error)
	// RemoteAddr reports the peer address the endpoint is connected to.
	RemoteAddr() (netaddr.Addr, error)
	// Free releases transport-owned resources once the endpoint is done.
	Free()
}

// OpenOps extends ConnOps with the connection establishment hooks of the
// client shape. SubOpen starts from the head of the candidate list;
// CheckOpen validates an in-progress fd once it turns writable; RetryOpen
// advances to the next candidate after a failed attempt.
type OpenOps interface {
	ConnOps
	SubOpen() (fd int, inProgress bool, err error)
	CheckOpen(fd int) error
	RetryOpen() (fd int, inProgress bool, err error)
}

type connState int

const (
	stateClosed connState = iota
	stateOpening            // connect in flight, waiting for writable
	stateRetryWait          // failed attempt, waiting for fd clear before retry
	stateOpen
	stateClosing // waiting for fd clear before close(fd)
)

// Conn is an endpoint bound to a registered fd. It owns the fd's reactor
// registration and drives the transport's operation set: asynchronous open
// with candidate fall-through for the client shape, read completions,
// writes, exception readiness, and refcount-free asynchronous teardown
// (handler-clear acknowledged by the reactor before the fd is closed).
type Conn struct {
	r           *reactor.Reactor
	ops         ConnOps
	openOps     OpenOps // nil for accepted (server-shape) endpoints
	maxReadSize int

	mu          sync.Mutex
	state       connState
	fd          int
	readBuf     []byte
	readEnabled bool
	reliable    bool
	freeOnClose bool
	readHandler ReadHandler
	writeReady  func()
	openDone    func(error)
	closeDone   func()
}

// NewConn creates a client-shape endpoint. The fd does not exist until Open
// drives ops.SubOpen.
func NewConn(r *reactor.Reactor, ops OpenOps, maxReadSize int) *Conn {
	if maxReadSize <= 0 {
		maxReadSize = DefaultReadBufferSize
	}
	return &Conn{
		r:           r,
		ops:         ops,
		openOps:     ops,
		maxReadSize: maxReadSize,
		fd:          -1,
		readBuf:     make([]byte, maxReadSize),
	}
}

// NewAcceptedConn creates a server-shape endpoint around a connected fd and
// registers it with the reactor. The open sequence completes asynchronously
// on the reactor goroutine, reporting through openDone.
func NewAcceptedConn(r *reactor.Reactor, fd int, ops ConnOps, maxReadSize int, openDone func(*Conn, error)) (*Conn, error) {
	if maxReadSize <= 0 {
		maxReadSize = DefaultReadBufferSize
	}
	c := &Conn{
		r:           r,
		ops:         ops,
		maxReadSize: maxReadSize,
		fd:          fd,
		readBuf:     make([]byte, maxReadSize),
		state:       stateOpen,
	}
	if err := r.Register(fd, c.handlers()); err != nil {
		return nil, err
	}
	r.SetExceptEnable(fd, true)
	if openDone != nil {
		r.Submit(func() { openDone(c, nil) })
	}
	return c, nil
}

func (c *Conn) handlers() reactor.Handlers {
	return reactor.Handlers{
		OnRead:    c.readReady,
		OnWrite:   c.writeReadyCB,
		OnExcept:  c.exceptReadyCB,
		OnCleared: c.fdCleared,
	}
}

// Open starts the connect sequence. done fires once with the final result:
// nil after a successful connect, the last OS error once the candidate list
// is exhausted, or ErrClosed if a Close interrupts the attempt. A
// synchronous setup failure is returned directly and done never fires.
func (c *Conn) Open(done func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openOps == nil {
		return ErrUnsupported
	}
	if c.state != stateClosed {
		return ErrBusy
	}
	c.openDone = done
	fd, inProgress, err := c.openOps.SubOpen()
	if err != nil {
		c.openDone = nil
		return err
	}
	if err := c.beginAttemptLocked(fd, inProgress); err != nil {
		c.openDone = nil
		return err
	}
	return nil
}

// beginAttemptLocked registers fd and either waits for writable or finishes
// the open. On registration failure the fd is closed and the conn returns
// to closed state; the caller decides how to report the error.
func (c *Conn) beginAttemptLocked(fd int, inProgress bool) error {
	if err := c.r.Register(fd, c.handlers()); err != nil {
		unix.Close(fd)
		c.state = stateClosed
		c.fd = -1
		return err
	}
	c.fd = fd
	if inProgress {
		c.state = stateOpening
		c.r.SetWriteEnable(fd, true)
		c.r.SetExceptEnable(fd, true)
		return nil
	}
	c.finishOpenLocked()
	return nil
}

func (c *Conn) finishOpenLocked() {
	c.state = stateOpen
	c.r.SetWriteEnable(c.fd, false)
	c.r.SetExceptEnable(c.fd, true)
	c.r.SetReadEnable(c.fd, c.readEnabled)
	done := c.openDone
	c.openDone = nil
	if done != nil {
		c.r.Submit(func() { done(nil) })
	}
}

// Close tears the endpoint down: handlers are cleared asynchronously, the
// fd is closed once the reactor acknowledges, then done fires. An open in
// flight is cancelled and its done receives ErrClosed first.
func (c *Conn) Close(done func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateClosed, stateClosing:
		return ErrBusy
	case stateRetryWait:
		// Clear already requested for this fd; just redirect the ack.
		c.state = stateClosing
	default:
		c.state = stateClosing
		c.r.Clear(c.fd)
	}
	c.closeDone = done
	return nil
}

// Free releases the endpoint. An open endpoint is closed first; the
// transport's Free hook runs once the fd is gone.
func (c *Conn) Free() {
	c.mu.Lock()
	switch c.state {
	case stateClosed:
		ops := c.ops
		c.mu.Unlock()
		ops.Free()
		return
	case stateClosing:
		c.freeOnClose = true
		c.mu.Unlock()
		return
	case stateRetryWait:
		c.state = stateClosing
		c.freeOnClose = true
		c.mu.Unlock()
		return
	default:
		c.state = stateClosing
		c.freeOnClose = true
		c.r.Clear(c.fd)
		c.mu.Unlock()
		return
	}
}

// Write transmits p with the given auxiliary tags. It reports the number of
// bytes accepted by the kernel; (0, nil) means the socket would block and
// the caller should wait for write readiness.
func (c *Conn) Write(p []byte, aux []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return 0, ErrClosed
	}
	return c.ops.Write(c.fd, p, aux)
}

// SetReadHandler installs the inbound record callback. Must be set before
// enabling reads.
func (c *Conn) SetReadHandler(h ReadHandler) {
	c.mu.Lock()
	c.readHandler = h
	c.mu.Unlock()
}

// SetReadEnable toggles read dispatch. The setting is remembered across
// open, so it may be configured before the endpoint is open.
func (c *Conn) SetReadEnable(on bool) {
	c.mu.Lock()
	c.readEnabled = on
	if c.state == stateOpen {
		c.r.SetReadEnable(c.fd, on)
	}
	c.mu.Unlock()
}

// SetWriteReadyHandler installs a callback fired when the socket turns
// writable while write readiness is enabled.
func (c *Conn) SetWriteReadyHandler(h func()) {
	c.mu.Lock()
	c.writeReady = h
	c.mu.Unlock()
}

// SetWriteEnable toggles write-readiness dispatch for an open endpoint.
func (c *Conn) SetWriteEnable(on bool) {
	c.mu.Lock()
	if c.state == stateOpen {
		c.r.SetWriteEnable(c.fd, on)
	}
	c.mu.Unlock()
}

// Control gets or sets a transport option on the open endpoint.
func (c *Conn) Control(get bool, option string, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return nil, ErrClosed
	}
	return c.ops.Control(c.fd, get, option, data)
}

// RemoteAddr reports the peer address the endpoint connected to.
func (c *Conn) RemoteAddr() (netaddr.Addr, error) {
	return c.ops.RemoteAddr()
}

// RemoteAddrString renders the peer address in host:port form.
func (c *Conn) RemoteAddrString() (string, error) {
	a, err := c.ops.RemoteAddr()
	if err != nil {
		return "", err
	}
	return a.String(), nil
}

// RemoteAddrBytes returns the raw sockaddr bytes of the peer address,
// truncated to at most max bytes when max is positive. The second result is
// the full length.
func (c *Conn) RemoteAddrBytes(max int) ([]byte, int, error) {
	a, err := c.ops.RemoteAddr()
	if err != nil {
		return nil, 0, err
	}
	raw := a.Raw()
	if max > 0 && max < len(raw) {
		return raw[:max], len(raw), nil
	}
	return raw, len(raw), nil
}

// SetReliable marks the endpoint as a reliable (lossless, ordered) stream.
func (c *Conn) SetReliable(on bool) {
	c.mu.Lock()
	c.reliable = on
	c.mu.Unlock()
}

// Reliable reports whether the endpoint is a reliable stream.
func (c *Conn) Reliable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reliable
}

// DeliverIncoming reads one record through read and pushes it to the read
// handler with the given tags. Transports use it from ExceptReady to
// deliver urgent data outside the main byte stream. The record is consumed
// even when no handler is installed, so readiness cannot wedge the loop.
func (c *Conn) DeliverIncoming(read func(fd int, buf []byte) (int, error), aux []string) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return
	}
	fd := c.fd
	h := c.readHandler
	buf := c.readBuf
	c.mu.Unlock()

	n, err := read(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINVAL {
		// EINVAL: no urgent data pending (stale POLLPRI).
		return
	}
	if h == nil {
		return
	}
	if err != nil {
		// Same contract as the read path: stop read dispatch first.
		c.mu.Lock()
		c.readEnabled = false
		if c.state == stateOpen {
			c.r.SetReadEnable(fd, false)
		}
		c.mu.Unlock()
		h(err, nil, aux)
		return
	}
	h(nil, buf[:n], aux)
}

// --- reactor callbacks; all run on the loop goroutine ---

func (c *Conn) readReady(fd int) {
	c.mu.Lock()
	if c.state != stateOpen || !c.readEnabled {
		c.mu.Unlock()
		return
	}
	h := c.readHandler
	buf := c.readBuf
	c.mu.Unlock()

	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return
	}
	if err == nil && n == 0 {
		err = io.EOF
	}
	if err != nil {
		// Stop read dispatch before reporting so a dead socket cannot
		// spin the loop.
		c.mu.Lock()
		c.readEnabled = false
		if c.state == stateOpen {
			c.r.SetReadEnable(fd, false)
		}
		c.mu.Unlock()
		if h != nil {
			h(err, nil, nil)
		}
		return
	}
	if h != nil {
		h(nil, buf[:n], nil)
	}
}

func (c *Conn) writeReadyCB(fd int) {
	c.mu.Lock()
	switch c.state {
	case stateOpening:
		err := c.openOps.CheckOpen(fd)
		if err != nil {
			// Failed attempt: clear the registration, retry from
			// fdCleared once the reactor acknowledges.
			c.state = stateRetryWait
			c.r.Clear(fd)
			c.mu.Unlock()
			return
		}
		c.finishOpenLocked()
		c.mu.Unlock()
	case stateOpen:
		h := c.writeReady
		c.mu.Unlock()
		if h != nil {
			h()
		}
	default:
		c.mu.Unlock()
	}
}

func (c *Conn) exceptReadyCB(fd int) {
	c.mu.Lock()
	st := c.state
	ops := c.ops
	c.mu.Unlock()
	if st == stateOpen {
		ops.ExceptReady(c, fd)
	}
}

func (c *Conn) fdCleared(fd int) {
	unix.Close(fd)

	c.mu.Lock()
	c.fd = -1
	switch c.state {
	case stateRetryWait:
		nfd, inProgress, err := c.openOps.RetryOpen()
		if err == nil {
			err = c.beginAttemptLocked(nfd, inProgress)
			if err == nil {
				c.mu.Unlock()
				return
			}
		}
		c.state = stateClosed
		done := c.openDone
		c.openDone = nil
		c.mu.Unlock()
		if done != nil {
			done(err)
		}
	case stateClosing:
		c.state = stateClosed
		openDone := c.openDone
		c.openDone = nil
		closeDone := c.closeDone
		c.closeDone = nil
		free := c.freeOnClose
		ops := c.ops
		c.mu.Unlock()
		if openDone != nil {
			openDone(ErrClosed)
		}
		if closeDone != nil {
			closeDone()
		}
		if free {
			ops.Free()
		}
	default:
		c.mu.Unlock()
	}
}
