// Package strio is a small framework for building stream-I/O endpoints on
// top of registered file descriptors. It provides the endpoint engine
// (Conn), which plugs a transport's operation set into the fd reactor and
// drives the asynchronous open, read, write, and teardown flows, plus the
// Accepter contract for listening endpoints that produce new inbound
// connections.
//
// Transports live in subpackages; the tcp package is the reference
// implementation:
//
//	r, _ := reactor.New()
//	c, _ := tcp.Dial(r, "example.com:7", nil)
//	c.SetReadHandler(func(err error, data []byte, aux []string) { ... })
//	c.Open(func(err error) { ... })
//
// The striocat command under cmd/ is a complete program built on it.
package strio
