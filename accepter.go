package strio

import "github.com/strio-net/strio/netaddr"

// NewConnectionHandler receives each inbound endpoint an accepter produces,
// after the endpoint's open sequence has completed. The endpoint is
// delivered with reads disabled; the handler installs its callbacks and
// enables what it needs.
type NewConnectionHandler func(c *Conn)

// Accepter is a listening endpoint: it binds one or more local sockets,
// accepts inbound connections, and hands each one to the application as a
// new endpoint.
//
// Lifecycle: Startup binds and enables all listen sockets or none.
// Shutdown tears them down asynchronously; done fires exactly once after
// every listen fd's handler-clear has been acknowledged and the fd closed.
// Disable is the forceful synchronous variant: it closes everything
// immediately, never calls a completion, and is only legal when the caller
// knows no accept callback can fire. Free releases the accepter, shutting
// it down first if needed.
type Accepter interface {
	Startup() error
	Shutdown(done func()) error
	// SetAcceptCallbackEnable toggles accept dispatch on every listen fd.
	// Disabling guarantees no new accept callbacks after it returns; an
	// accept already in progress runs to completion.
	SetAcceptCallbackEnable(enable bool)
	Disable()
	Free()
	// NewConnEndpoint parses an address string, using the accepter's
	// defaults for arguments the string does not override, and returns a
	// client-shape endpoint for it.
	NewConnEndpoint(addr string) (*Conn, error)
	// ListenAddrs reports the bound local addresses while the accepter is
	// set up. Useful to recover the assigned port after binding port 0.
	ListenAddrs() ([]netaddr.Addr, error)
	// Reliable reports whether produced endpoints are reliable streams.
	Reliable() bool
}
