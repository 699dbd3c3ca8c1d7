// Package netaddr resolves network address strings into immutable lists of
// candidate socket addresses. A resolved list carries everything the
// transport layer needs to open a socket for each candidate: the address
// family, the raw sockaddr bytes, and the port. Lists are deep-copied when
// handed to an endpoint, so the caller may free or reuse the original.
package netaddr

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// MaxRawLen is the size of the platform's generic sockaddr storage. No
// resolved entry may have raw sockaddr bytes longer than this.
const MaxRawLen = 128

// Addr is a single resolved candidate address.
type Addr struct {
	// Family is the address family, unix.AF_INET or unix.AF_INET6.
	Family int
	// IP is the resolved IP address (4 or 16 bytes).
	IP net.IP
	// Port is the port number in host byte order.
	Port int
	// Zone is the IPv6 scope zone, empty for IPv4.
	Zone string
}

// RawLen reports the length of the raw sockaddr encoding of a.
func (a Addr) RawLen() int {
	switch a.Family {
	case unix.AF_INET:
		return unix.SizeofSockaddrInet4
	case unix.AF_INET6:
		return unix.SizeofSockaddrInet6
	default:
		// Unknown family: family field plus whatever address bytes we hold.
		return 2 + len(a.IP)
	}
}

// Raw encodes a into platform sockaddr bytes (sockaddr_in or sockaddr_in6).
func (a Addr) Raw() []byte {
	switch a.Family {
	case unix.AF_INET:
		b := make([]byte, unix.SizeofSockaddrInet4)
		binary.NativeEndian.PutUint16(b[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(b[2:4], uint16(a.Port))
		copy(b[4:8], a.IP.To4())
		return b
	case unix.AF_INET6:
		b := make([]byte, unix.SizeofSockaddrInet6)
		binary.NativeEndian.PutUint16(b[0:2], unix.AF_INET6)
		binary.BigEndian.PutUint16(b[2:4], uint16(a.Port))
		copy(b[8:24], a.IP.To16())
		binary.NativeEndian.PutUint32(b[24:28], a.scopeID())
		return b
	default:
		b := make([]byte, a.RawLen())
		binary.NativeEndian.PutUint16(b[0:2], uint16(a.Family))
		copy(b[2:], a.IP)
		return b
	}
}

// FromRaw decodes platform sockaddr bytes into an Addr.
func FromRaw(b []byte) (Addr, error) {
	if len(b) < 2 {
		return Addr{}, fmt.Errorf("sockaddr too short: %d bytes", len(b))
	}
	family := int(binary.NativeEndian.Uint16(b[0:2]))
	switch family {
	case unix.AF_INET:
		if len(b) < unix.SizeofSockaddrInet4 {
			return Addr{}, fmt.Errorf("short sockaddr_in: %d bytes", len(b))
		}
		ip := make(net.IP, 4)
		copy(ip, b[4:8])
		return Addr{
			Family: unix.AF_INET,
			IP:     ip,
			Port:   int(binary.BigEndian.Uint16(b[2:4])),
		}, nil
	case unix.AF_INET6:
		if len(b) < unix.SizeofSockaddrInet6 {
			return Addr{}, fmt.Errorf("short sockaddr_in6: %d bytes", len(b))
		}
		ip := make(net.IP, 16)
		copy(ip, b[8:24])
		return Addr{
			Family: unix.AF_INET6,
			IP:     ip,
			Port:   int(binary.BigEndian.Uint16(b[2:4])),
			Zone:   zoneFromScope(binary.NativeEndian.Uint32(b[24:28])),
		}, nil
	default:
		return Addr{}, fmt.Errorf("unsupported address family %d", family)
	}
}

// FromSockaddr converts a unix.Sockaddr (as returned by accept or
// getsockname) into an Addr.
func FromSockaddr(sa unix.Sockaddr) (Addr, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, sa.Addr[:])
		return Addr{Family: unix.AF_INET, IP: ip, Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, sa.Addr[:])
		return Addr{
			Family: unix.AF_INET6,
			IP:     ip,
			Port:   sa.Port,
			Zone:   zoneFromScope(sa.ZoneId),
		}, nil
	default:
		return Addr{}, fmt.Errorf("unsupported sockaddr type %T", sa)
	}
}

// Sockaddr converts a into the unix.Sockaddr form used by connect and bind.
func (a Addr) Sockaddr() (unix.Sockaddr, error) {
	switch a.Family {
	case unix.AF_INET:
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip4 := a.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, nil
	case unix.AF_INET6:
		sa := &unix.SockaddrInet6{Port: a.Port, ZoneId: a.scopeID()}
		if ip16 := a.IP.To16(); ip16 != nil {
			copy(sa.Addr[:], ip16)
		}
		return sa, nil
	default:
		return nil, fmt.Errorf("unsupported address family %d", a.Family)
	}
}

// String renders a in host:port form.
func (a Addr) String() string {
	host := a.IP.String()
	if a.Zone != "" {
		host += "%" + a.Zone
	}
	return net.JoinHostPort(host, strconv.Itoa(a.Port))
}

func (a Addr) scopeID() uint32 {
	if a.Zone == "" {
		return 0
	}
	if ifi, err := net.InterfaceByName(a.Zone); err == nil {
		return uint32(ifi.Index)
	}
	if n, err := strconv.ParseUint(a.Zone, 10, 32); err == nil {
		return uint32(n)
	}
	return 0
}

func zoneFromScope(id uint32) string {
	if id == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(int(id)); err == nil {
		return ifi.Name
	}
	return strconv.FormatUint(uint64(id), 10)
}

// List is an immutable, non-empty list of resolved candidate addresses.
type List struct {
	addrs   []Addr
	portSet bool
}

// NewList builds a list from explicit entries. The portSet flag records
// whether the source address string carried an explicit, non-zero port.
func NewList(addrs []Addr, portSet bool) (*List, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("empty address list")
	}
	return &List{addrs: append([]Addr(nil), addrs...), portSet: portSet}, nil
}

// Len reports the number of candidates.
func (l *List) Len() int { return len(l.addrs) }

// At returns the i'th candidate.
func (l *List) At(i int) Addr { return l.addrs[i] }

// First returns the head of the list.
func (l *List) First() Addr { return l.addrs[0] }

// PortSet reports whether the source string specified an explicit, non-zero
// port.
func (l *List) PortSet() bool { return l.portSet }

// Dup returns a deep copy of the list.
func (l *List) Dup() *List {
	addrs := make([]Addr, len(l.addrs))
	for i, a := range l.addrs {
		addrs[i] = Addr{
			Family: a.Family,
			IP:     append(net.IP(nil), a.IP...),
			Port:   a.Port,
			Zone:   a.Zone,
		}
	}
	return &List{addrs: addrs, portSet: l.portSet}
}

// String renders the candidates separated by semicolons.
func (l *List) String() string {
	s := ""
	for i, a := range l.addrs {
		if i > 0 {
			s += ";"
		}
		s += a.String()
	}
	return s
}

// Resolve resolves a "host:port" string into a candidate list for TCP.
// In passive form the host may be empty or unspecified, yielding wildcard
// bind addresses; in active form a concrete host is required. The port may
// be a number or a service name.
func Resolve(str string, passive bool) (*List, error) {
	host, portStr, err := net.SplitHostPort(str)
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", str, err)
	}

	port := 0
	if portStr != "" {
		port, err = net.DefaultResolver.LookupPort(context.Background(), "tcp", portStr)
		if err != nil {
			return nil, fmt.Errorf("resolving port %q: %w", portStr, err)
		}
	}
	portSet := portStr != "" && port != 0

	if host == "" {
		if !passive {
			return nil, fmt.Errorf("address %q: host required for an active endpoint", str)
		}
		// Wildcard bind on both families. The listen path sets IPV6_V6ONLY
		// on the v6 socket so the two do not collide.
		return &List{
			addrs: []Addr{
				{Family: unix.AF_INET6, IP: net.IPv6unspecified, Port: port},
				{Family: unix.AF_INET, IP: net.IPv4zero.To4(), Port: port},
			},
			portSet: portSet,
		}, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, fmt.Errorf("resolving host %q: %w", host, err)
	}

	addrs := make([]Addr, 0, len(ips))
	for _, ip := range ips {
		if ip4 := ip.IP.To4(); ip4 != nil {
			addrs = append(addrs, Addr{Family: unix.AF_INET, IP: ip4, Port: port})
		} else {
			addrs = append(addrs, Addr{
				Family: unix.AF_INET6,
				IP:     ip.IP,
				Port:   port,
				Zone:   ip.Zone,
			})
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses found for %q", host)
	}
	return &List{addrs: addrs, portSet: portSet}, nil
}
