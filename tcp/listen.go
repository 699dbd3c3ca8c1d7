package tcp

import (
	"github.com/strio-net/strio/netaddr"
	"github.com/strio-net/strio/reactor"
	"golang.org/x/sys/unix"
)

// openListenSockets opens, binds, and listens one socket per address in the
// list and registers each with the reactor. All sockets open or none: any
// failure unwinds everything opened so far. Read dispatch is left disabled;
// the caller enables it.
func openListenSockets(r *reactor.Reactor, addrs *netaddr.List, onRead, onCleared func(fd int)) ([]listenFd, error) {
	fds := make([]listenFd, 0, addrs.Len())

	unwind := func() {
		for _, l := range fds {
			r.ClearNoReport(l.fd)
			unix.Close(l.fd)
		}
	}

	for i := 0; i < addrs.Len(); i++ {
		a := addrs.At(i)
		fd, err := unix.Socket(a.Family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
		if err != nil {
			unwind()
			return nil, err
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			unwind()
			return nil, err
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			unwind()
			return nil, err
		}
		if a.Family == unix.AF_INET6 {
			// Keep a v6 wildcard from stealing the v4 one next to it.
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
				unix.Close(fd)
				unwind()
				return nil, err
			}
		}
		sa, err := a.Sockaddr()
		if err != nil {
			unix.Close(fd)
			unwind()
			return nil, err
		}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			unwind()
			return nil, err
		}
		if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
			unix.Close(fd)
			unwind()
			return nil, err
		}
		if err := r.Register(fd, reactor.Handlers{OnRead: onRead, OnCleared: onCleared}); err != nil {
			unix.Close(fd)
			unwind()
			return nil, err
		}
		fds = append(fds, listenFd{fd: fd, family: a.Family})
	}
	return fds, nil
}
