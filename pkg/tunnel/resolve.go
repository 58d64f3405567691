package tunnel

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
)

// ResolveAddrPort turns the host:port of u into a concrete socket address,
// honoring the address family preference. Literal addresses resolve without
// a DNS round trip. Failures wrap ErrResolution.
func ResolveAddrPort(ctx context.Context, u *url.URL, ver IPVersion) (netip.AddrPort, error) {
	host := u.Hostname()
	if host == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: missing host in %q", ErrResolution, u.String())
	}
	portStr := u.Port()
	if portStr == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: missing port in %q", ErrResolution, u.String())
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: bad port %q", ErrResolution, portStr)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if !familyMatches(addr, ver) {
			return netip.AddrPort{}, fmt.Errorf("%w: %s is not an %s address", ErrResolution, addr, ver)
		}
		return netip.AddrPortFrom(addr, uint16(port)), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, ver.network(), host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	addr, ok := pickAddr(addrs, ver)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: no %s address for %q", ErrResolution, ver, host)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

func (v IPVersion) network() string {
	switch v {
	case IPv4Only:
		return "ip4"
	case IPv6Only:
		return "ip6"
	default:
		return "ip"
	}
}

func familyMatches(a netip.Addr, ver IPVersion) bool {
	switch ver {
	case IPv4Only:
		return a.Is4()
	case IPv6Only:
		return a.Is6() && !a.Is4In6()
	default:
		return true
	}
}

// pickAddr prefers IPv4 when both families are acceptable, keeping dial
// targets stable on dual-stack hosts.
func pickAddr(addrs []netip.Addr, ver IPVersion) (netip.Addr, bool) {
	var v6 netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is4() {
			if ver != IPv6Only {
				return a, true
			}
			continue
		}
		if ver != IPv4Only && !v6.IsValid() {
			v6 = a
		}
	}
	if v6.IsValid() {
		return v6, true
	}
	return netip.Addr{}, false
}

// Network returns the family-forcing network string for addr, e.g.
// Network("tcp", addr) yields "tcp4" or "tcp6".
func Network(base string, addr netip.Addr) string {
	if addr.Is4() {
		return base + "4"
	}
	return base + "6"
}
