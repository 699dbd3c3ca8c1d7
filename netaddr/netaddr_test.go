package netaddr

import (
	"bytes"
	"net"
	"testing"

	"golang.org/x/sys/unix"
)

func TestResolveIPv4(t *testing.T) {
	l, err := Resolve("127.0.0.1:8080", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("got %d entries, want 1", l.Len())
	}
	a := l.First()
	if a.Family != unix.AF_INET {
		t.Errorf("family = %d, want AF_INET", a.Family)
	}
	if !a.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("ip = %v, want 127.0.0.1", a.IP)
	}
	if a.Port != 8080 {
		t.Errorf("port = %d, want 8080", a.Port)
	}
	if !l.PortSet() {
		t.Errorf("port not marked as set")
	}
	if got := a.String(); got != "127.0.0.1:8080" {
		t.Errorf("String() = %q", got)
	}
}

func TestResolveIPv6(t *testing.T) {
	l, err := Resolve("[::1]:7", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	a := l.First()
	if a.Family != unix.AF_INET6 {
		t.Fatalf("family = %d, want AF_INET6", a.Family)
	}
	if got := a.String(); got != "[::1]:7" {
		t.Errorf("String() = %q", got)
	}
}

func TestResolveWildcard(t *testing.T) {
	l, err := Resolve(":0", true)
	if err != nil {
		t.Fatalf("passive resolve: %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("wildcard yielded %d entries, want 2", l.Len())
	}
	if l.PortSet() {
		t.Errorf("port 0 marked as set")
	}

	if _, err := Resolve(":0", false); err == nil {
		t.Errorf("active resolve of wildcard succeeded")
	}
}

func TestResolveErrors(t *testing.T) {
	if _, err := Resolve("127.0.0.1", false); err == nil {
		t.Errorf("resolve without port succeeded")
	}
	if _, err := Resolve("127.0.0.1:notaport", false); err == nil {
		t.Errorf("resolve with bad port succeeded")
	}
}

func TestRawRoundTrip(t *testing.T) {
	addrs := []Addr{
		{Family: unix.AF_INET, IP: net.IPv4(192, 0, 2, 7).To4(), Port: 4242},
		{Family: unix.AF_INET6, IP: net.ParseIP("2001:db8::1"), Port: 7},
	}
	for _, a := range addrs {
		raw := a.Raw()
		if len(raw) != a.RawLen() {
			t.Errorf("%v: raw length %d, RawLen %d", a, len(raw), a.RawLen())
		}
		if len(raw) > MaxRawLen {
			t.Errorf("%v: raw length %d exceeds storage", a, len(raw))
		}
		got, err := FromRaw(raw)
		if err != nil {
			t.Errorf("%v: FromRaw: %v", a, err)
			continue
		}
		if got.Family != a.Family || got.Port != a.Port || !got.IP.Equal(a.IP) {
			t.Errorf("round trip %v -> %v", a, got)
		}
	}
}

func TestSockaddrConversion(t *testing.T) {
	a := Addr{Family: unix.AF_INET, IP: net.IPv4(10, 0, 0, 1).To4(), Port: 80}
	sa, err := a.Sockaddr()
	if err != nil {
		t.Fatalf("sockaddr: %v", err)
	}
	back, err := FromSockaddr(sa)
	if err != nil {
		t.Fatalf("from sockaddr: %v", err)
	}
	if back.String() != a.String() {
		t.Errorf("round trip %v -> %v", a, back)
	}
}

func TestRawLenUnknownFamily(t *testing.T) {
	a := Addr{Family: 999, IP: bytes.Repeat([]byte{1}, 200)}
	if a.RawLen() <= MaxRawLen {
		t.Fatalf("RawLen = %d, expected over storage size", a.RawLen())
	}
}

func TestDupIsDeep(t *testing.T) {
	l, err := Resolve("127.0.0.1:9", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	d := l.Dup()
	d.addrs[0].IP[0] = 42
	if l.First().IP[0] == 42 {
		t.Fatalf("dup shares IP storage with the original")
	}
	if d.PortSet() != l.PortSet() || d.Len() != l.Len() {
		t.Fatalf("dup lost list attributes")
	}
}

func TestNewListRejectsEmpty(t *testing.T) {
	if _, err := NewList(nil, false); err == nil {
		t.Fatalf("empty list accepted")
	}
}
