// Package tcp provides stream endpoints over IPv4/IPv6 TCP: a client
// endpoint that connects asynchronously through a list of candidate
// addresses, and an accepter that binds local sockets and produces a new
// endpoint per inbound connection. Both expose the same option surface
// (nodelay control, urgent-data records tagged "oob") through the strio
// endpoint engine.
package tcp

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/strio-net/strio"
	"github.com/strio-net/strio/netaddr"
	"golang.org/x/sys/unix"
)

// Option configures TCP endpoint construction beyond the string argument
// grammar.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	acceptCheck func(fd int) string
}

// WithLogger sets the logger used for accept-path failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAcceptCheck installs a host-access hook run against every accepted
// fd before an endpoint is built around it. A non-empty return denies the
// connection: the string is written to the peer best-effort and the fd is
// closed.
func WithAcceptCheck(check func(fd int) string) Option {
	return func(o *options) { o.acceptCheck = check }
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// socketSetup prepares a socket for connect or immediate use: non-blocking
// mode, keepalive, address reuse, optional nodelay, optional local bind.
// The first failing step aborts with its OS error.
func socketSetup(fd int, nodelay bool, local *netaddr.List) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if nodelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return err
		}
	}
	if local != nil {
		sa, err := local.First().Sockaddr()
		if err != nil {
			return err
		}
		if err := unix.Bind(fd, sa); err != nil {
			return err
		}
	}
	return nil
}

// connOps is the operation set shared by the client and server endpoint
// shapes: write with aux-tag handling, urgent-data delivery, the nodelay
// control, and the remote-address queries.
type connOps struct {
	mu    sync.Mutex
	raddr *netaddr.Addr
}

func (o *connOps) setRemote(a netaddr.Addr) {
	o.mu.Lock()
	o.raddr = &a
	o.mu.Unlock()
}

func (o *connOps) Write(fd int, p []byte, aux []string) (int, error) {
	flags := 0
	for _, tag := range aux {
		if !strings.EqualFold(tag, "oob") {
			return 0, fmt.Errorf("%w: unknown aux tag %q", strio.ErrInvalidArgument, tag)
		}
		flags |= unix.MSG_OOB
	}
	n, err := unix.SendmsgN(fd, p, nil, nil, flags)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (o *connOps) ExceptReady(c *strio.Conn, fd int) {
	c.DeliverIncoming(func(fd int, buf []byte) (int, error) {
		n, _, err := unix.Recvfrom(fd, buf, unix.MSG_OOB)
		return n, err
	}, []string{"oob"})
}

func (o *connOps) Control(fd int, get bool, option string, data []byte) ([]byte, error) {
	switch strings.ToLower(option) {
	case strio.ControlNodelay:
		if get {
			v, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
			if err != nil {
				return nil, err
			}
			return []byte(strconv.Itoa(v)), nil
		}
		v, err := strconv.ParseUint(string(data), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad nodelay value %q", strio.ErrInvalidArgument, data)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, int(v)); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, strio.ErrUnsupported
	}
}

func (o *connOps) RemoteAddr() (netaddr.Addr, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.raddr == nil {
		return netaddr.Addr{}, unix.ENOTCONN
	}
	return *o.raddr, nil
}

func (o *connOps) Free() {}

// clientOps adds the connect state machine: the owned candidate list, the
// cursor of the attempt in flight, and the last OS error observed.
type clientOps struct {
	connOps
	addrs   *netaddr.List
	local   *netaddr.List
	nodelay bool
	curr    int
	lastErr error
}

// tryOpen attempts the candidate under the cursor. A synchronous connect
// failure closes the socket and falls through to the next candidate; once
// the list is exhausted the last failure is returned.
func (t *clientOps) tryOpen() (fd int, inProgress bool, err error) {
	for {
		a := t.addrs.At(t.curr)
		fd, err = unix.Socket(a.Family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
		if err != nil {
			return -1, false, err
		}
		if err = socketSetup(fd, t.nodelay, t.local); err != nil {
			unix.Close(fd)
			return -1, false, err
		}
		sa, serr := a.Sockaddr()
		if serr != nil {
			unix.Close(fd)
			return -1, false, serr
		}
		err = unix.Connect(fd, sa)
		switch err {
		case nil:
			t.setRemote(a)
			return fd, false, nil
		case unix.EINPROGRESS:
			return fd, true, nil
		default:
			t.lastErr = err
			unix.Close(fd)
			if t.curr+1 < t.addrs.Len() {
				t.curr++
				continue
			}
			return -1, false, err
		}
	}
}

func (t *clientOps) SubOpen() (int, bool, error) {
	t.curr = 0
	return t.tryOpen()
}

func (t *clientOps) CheckOpen(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		t.lastErr = err
		return err
	}
	if v != 0 {
		t.lastErr = unix.Errno(v)
		return t.lastErr
	}
	t.setRemote(t.addrs.At(t.curr))
	return nil
}

func (t *clientOps) RetryOpen() (int, bool, error) {
	t.curr++
	if t.curr >= t.addrs.Len() {
		return -1, false, t.lastErr
	}
	return t.tryOpen()
}

func (t *clientOps) Free() {
	t.addrs = nil
	t.local = nil
}

// checkRawLens rejects lists with entries larger than generic sockaddr
// storage.
func checkRawLens(addrs *netaddr.List) error {
	for i := 0; i < addrs.Len(); i++ {
		if addrs.At(i).RawLen() > netaddr.MaxRawLen {
			return strio.ErrTooBig
		}
	}
	return nil
}
