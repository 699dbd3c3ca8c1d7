package tcp

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/strio-net/strio"
	"github.com/strio-net/strio/netaddr"
	"github.com/strio-net/strio/reactor"
	"golang.org/x/sys/unix"
)

type listenFd struct {
	fd     int
	family int
}

// accepter owns the bound listening socket set and the accept lifecycle.
//
// The refcount holds one reference for construction, one while the socket
// set is up, and one per accepted endpoint whose open sequence has not
// completed. The reactor's handler-clear is asynchronous, so the state must
// outlive every in-flight callback; the zero transition runs final
// teardown. derefAndUnlock decrements and releases the lock in one step so
// no other observer can see a zero-refcount accepter.
type accepter struct {
	r           *reactor.Reactor
	logger      *slog.Logger
	onNew       strio.NewConnectionHandler
	addrs       *netaddr.List
	maxReadSize int
	nodelay     bool
	acceptCheck func(fd int) string

	mu                   sync.Mutex
	refcount             int
	setup                bool // listen sockets are allocated
	enabled              bool // accepts are being dispatched
	inShutdown           bool // between shutdown request and last fd-clear ack
	listenFds            []listenFd
	nrAcceptCloseWaiting int
	shutdownDone         func()
	pending              map[*strio.Conn]struct{}
}

// NewAccepter builds an accepter for the given local address list.
// Recognized arguments: "readbuf=<size>", "nodelay[=<bool>]". onNew
// receives each inbound endpoint once its open sequence completes.
func NewAccepter(r *reactor.Reactor, addrs *netaddr.List, args []string, onNew strio.NewConnectionHandler, opts ...Option) (strio.Accepter, error) {
	o := applyOptions(opts)

	maxRead := uint64(strio.DefaultReadBufferSize)
	nodelay := false
	for _, arg := range args {
		if v, ok, err := strio.ArgSize(arg, "readbuf"); ok {
			if err != nil {
				return nil, err
			}
			maxRead = v
			continue
		}
		if v, ok, err := strio.ArgBool(arg, "nodelay"); ok {
			if err != nil {
				return nil, err
			}
			nodelay = v
			continue
		}
		return nil, fmt.Errorf("%w: unknown argument %q", strio.ErrInvalidArgument, arg)
	}

	if err := checkRawLens(addrs); err != nil {
		return nil, err
	}

	return &accepter{
		r:           r,
		logger:      o.logger,
		onNew:       onNew,
		addrs:       addrs.Dup(),
		maxReadSize: int(maxRead),
		nodelay:     nodelay,
		acceptCheck: o.acceptCheck,
		refcount:    1,
		pending:     make(map[*strio.Conn]struct{}),
	}, nil
}

// Listen resolves str in passive (bindable) form and builds an accepter
// for the result.
func Listen(r *reactor.Reactor, str string, args []string, onNew strio.NewConnectionHandler, opts ...Option) (strio.Accepter, error) {
	addrs, err := netaddr.Resolve(str, true)
	if err != nil {
		return nil, err
	}
	return NewAccepter(r, addrs, args, onNew, opts...)
}

func (a *accepter) ref() { a.refcount++ }

func (a *accepter) derefAndUnlock() {
	count := a.refcount - 1
	a.refcount = count
	a.mu.Unlock()
	if count == 0 {
		a.finishFree()
	}
}

func (a *accepter) finishFree() {
	a.addrs = nil
	a.pending = nil
}

// Startup opens and binds a listen socket per local address, all or none,
// and enables accept dispatch on each.
func (a *accepter) Startup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inShutdown || a.setup {
		return strio.ErrBusy
	}

	fds, err := openListenSockets(a.r, a.addrs, a.readHandler, a.fdCleared)
	if err != nil {
		return err
	}
	a.listenFds = fds
	a.setup = true
	a.setFdEnablesLocked(true)
	a.enabled = true
	a.shutdownDone = nil
	a.ref()
	return nil
}

func (a *accepter) setFdEnablesLocked(enable bool) {
	for _, l := range a.listenFds {
		a.r.SetReadEnable(l.fd, enable)
	}
}

// shutdownLocked starts the asynchronous teardown: every listen fd's
// handlers are cleared, and completion is counted in fdCleared.
func (a *accepter) shutdownLocked(done func()) {
	a.inShutdown = true
	a.shutdownDone = done
	a.nrAcceptCloseWaiting = len(a.listenFds)
	for _, l := range a.listenFds {
		a.r.Clear(l.fd)
	}
	a.setup = false
	a.enabled = false
}

// Shutdown tears the listen sockets down asynchronously. done fires exactly
// once, after every fd's handler-clear has been acknowledged and the fd
// closed.
func (a *accepter) Shutdown(done func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.setup {
		return strio.ErrBusy
	}
	a.shutdownLocked(done)
	return nil
}

// SetAcceptCallbackEnable toggles accept dispatch on every listen fd in
// lockstep. Disabling guarantees no new accept callbacks after it returns.
func (a *accepter) SetAcceptCallbackEnable(enable bool) {
	a.mu.Lock()
	if a.enabled != enable {
		a.setFdEnablesLocked(enable)
		a.enabled = enable
	}
	a.mu.Unlock()
}

// Disable force-closes the listen sockets synchronously, bypassing the
// fd-clear acknowledgement dance. No completion callback ever fires. Only
// legal when the caller knows no accept callback can be running.
func (a *accepter) Disable() {
	a.mu.Lock()
	a.inShutdown = false
	a.shutdownDone = nil
	fds := a.listenFds
	a.listenFds = nil
	a.setup = false
	a.enabled = false
	a.mu.Unlock()

	for _, l := range fds {
		a.r.ClearNoReport(l.fd)
	}
	for _, l := range fds {
		unix.Close(l.fd)
	}
}

// Free releases the accepter, shutting it down first (without completion
// notification) if it is still set up.
func (a *accepter) Free() {
	a.mu.Lock()
	if a.setup {
		a.shutdownLocked(nil)
	}
	a.derefAndUnlock()
}

// ListenAddrs reports the local addresses actually bound, including
// kernel-assigned ports.
func (a *accepter) ListenAddrs() ([]netaddr.Addr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.setup {
		return nil, strio.ErrClosed
	}
	addrs := make([]netaddr.Addr, 0, len(a.listenFds))
	for _, l := range a.listenFds {
		sa, err := unix.Getsockname(l.fd)
		if err != nil {
			return nil, err
		}
		addr, err := netaddr.FromSockaddr(sa)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (a *accepter) Reliable() bool { return true }

// readHandler accepts one connection on a readable listen fd, configures
// it, and builds a server-shape endpoint around it. Failures are logged
// and the accepter stays healthy.
func (a *accepter) readHandler(lfd int) {
	nfd, sa, err := unix.Accept4(lfd, unix.SOCK_CLOEXEC)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			a.logger.Error("error accepting TCP connection", "err", err)
		}
		return
	}

	if a.acceptCheck != nil {
		if errstr := a.acceptCheck(nfd); errstr != "" {
			writeNofail(nfd, []byte(errstr))
			unix.Close(nfd)
			return
		}
	}

	raddr, err := netaddr.FromSockaddr(sa)
	if err != nil {
		a.logger.Error("error decoding peer address", "err", err)
		unix.Close(nfd)
		return
	}

	ops := &connOps{}
	ops.setRemote(raddr)

	if err := socketSetup(nfd, a.nodelay, nil); err != nil {
		a.logger.Error("error setting up accepted socket",
			"raddr", raddr.String(), "err", err)
		unix.Close(nfd)
		return
	}

	a.mu.Lock()
	conn, err := strio.NewAcceptedConn(a.r, nfd, ops, a.maxReadSize, a.serverOpenDone)
	if err != nil {
		a.mu.Unlock()
		a.logger.Error("error registering accepted socket",
			"raddr", raddr.String(), "err", err)
		unix.Close(nfd)
		return
	}
	a.ref() // pending endpoint
	conn.SetReliable(true)
	a.pending[conn] = struct{}{}
	a.mu.Unlock()
}

// serverOpenDone runs once an accepted endpoint's open sequence completes.
func (a *accepter) serverOpenDone(c *strio.Conn, err error) {
	a.mu.Lock()
	delete(a.pending, c)
	a.mu.Unlock()

	if err != nil {
		c.Free()
		a.logger.Error("error setting up server endpoint", "err", err)
	} else if a.onNew != nil {
		a.onNew(c)
	}

	a.mu.Lock()
	a.derefAndUnlock()
}

// fdCleared runs once per listen fd after its handler-clear completes. The
// final acknowledgement finishes the shutdown: in_shutdown drops, the
// completion callback fires, and the startup reference is released.
func (a *accepter) fdCleared(fd int) {
	unix.Close(fd)

	a.mu.Lock()
	a.nrAcceptCloseWaiting--
	numLeft := a.nrAcceptCloseWaiting
	var done func()
	if numLeft == 0 {
		a.inShutdown = false
		a.listenFds = nil
		done = a.shutdownDone
	}
	a.mu.Unlock()

	if numLeft == 0 {
		if done != nil {
			done()
		}
		a.mu.Lock()
		a.derefAndUnlock()
	}
}

// NewConnEndpoint parses "host:port[,arg,...]" into a client endpoint,
// re-threading the accepter's defaults for arguments the string does not
// override. The address must carry an explicit, non-zero port.
func (a *accepter) NewConnEndpoint(addr string) (*strio.Conn, error) {
	parts := strings.Split(addr, ",")
	addrs, err := netaddr.Resolve(parts[0], false)
	if err != nil {
		return nil, err
	}
	if !addrs.PortSet() {
		return nil, fmt.Errorf("%w: no port in %q", strio.ErrInvalidArgument, parts[0])
	}

	maxRead := uint64(a.maxReadSize)
	laddr := ""
	nodelay := false
	for _, arg := range parts[1:] {
		if v, ok, err := strio.ArgSize(arg, "readbuf"); ok {
			if err != nil {
				return nil, err
			}
			maxRead = v
			continue
		}
		if _, ok := strio.ArgValue(arg, "laddr"); ok {
			laddr = arg
			continue
		}
		if v, ok, err := strio.ArgBool(arg, "nodelay"); ok {
			if err != nil {
				return nil, err
			}
			nodelay = v
			continue
		}
		return nil, fmt.Errorf("%w: unknown argument %q", strio.ErrInvalidArgument, arg)
	}

	var args []string
	if maxRead != strio.DefaultReadBufferSize {
		args = append(args, fmt.Sprintf("readbuf=%d", maxRead))
	}
	if laddr != "" {
		args = append(args, laddr)
	}
	if nodelay {
		args = append(args, "nodelay")
	}

	return New(a.r, addrs, args)
}

// writeNofail writes data to fd best-effort, ignoring errors.
func writeNofail(fd int, data []byte) {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil || n <= 0 {
			return
		}
		data = data[n:]
	}
}
