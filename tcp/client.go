package tcp

import (
	"fmt"

	"github.com/strio-net/strio"
	"github.com/strio-net/strio/netaddr"
	"github.com/strio-net/strio/reactor"
)

// New builds a client endpoint for the given candidate list. Recognized
// arguments: "readbuf=<size>", "laddr=<address>", "nodelay[=<bool>]"; any
// other argument fails with ErrInvalidArgument. The list is deep-copied;
// an entry larger than generic sockaddr storage fails with ErrTooBig.
// The endpoint connects when Open is called.
func New(r *reactor.Reactor, addrs *netaddr.List, args []string) (*strio.Conn, error) {
	maxRead := uint64(strio.DefaultReadBufferSize)
	var local *netaddr.List
	nodelay := false
	for _, arg := range args {
		if v, ok, err := strio.ArgSize(arg, "readbuf"); ok {
			if err != nil {
				return nil, err
			}
			maxRead = v
			continue
		}
		if v, ok := strio.ArgValue(arg, "laddr"); ok {
			l, err := netaddr.Resolve(v, true)
			if err != nil {
				return nil, fmt.Errorf("%w: laddr: %v", strio.ErrInvalidArgument, err)
			}
			local = l
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

	ops := &clientOps{
		addrs:   addrs.Dup(),
		local:   local,
		nodelay: nodelay,
	}
	c := strio.NewConn(r, ops, int(maxRead))
	c.SetReliable(true)
	return c, nil
}

// Dial resolves str in active form ("host:port") and builds a client
// endpoint for the result.
func Dial(r *reactor.Reactor, str string, args []string) (*strio.Conn, error) {
	addrs, err := netaddr.Resolve(str, false)
	if err != nil {
		return nil, err
	}
	return New(r, addrs, args)
}
