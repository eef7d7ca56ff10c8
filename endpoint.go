package rudp

import (
	"context"
	"fmt"
	"net"
)

// rewriteUnspecified rewrites a wildcard/unspecified address to the loopback
// address of the matching family, per spec.md §3: "the wildcard/unspecified
// address is illegal as a connect target and is rewritten to loopback of the
// matching family before use."
func rewriteUnspecified(addr *net.UDPAddr) *net.UDPAddr {
	if addr == nil || !addr.IP.IsUnspecified() {
		return addr
	}
	out := &net.UDPAddr{Port: addr.Port, Zone: addr.Zone}
	if addr.IP.To4() != nil {
		out.IP = net.IPv4(127, 0, 0, 1)
	} else {
		out.IP = net.IPv6loopback
	}
	return out
}

// resolveCandidates resolves (host, service) to an ordered list of candidate
// endpoints, per spec.md §6 "Name resolution". Candidates are attempted in
// order by the caller; the slice is the Go stand-in for the spec's
// forward-only iterator with a terminal sentinel (end of slice).
func resolveCandidates(ctx context.Context, host, service string) ([]*net.UDPAddr, error) {
	port, err := net.DefaultResolver.LookupPort(ctx, "udp", service)
	if err != nil {
		return nil, fmt.Errorf("rudp: resolve service %q: %w", service, err)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("rudp: resolve host %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("rudp: %w: %s", ErrUnreachable, host)
	}

	candidates := make([]*net.UDPAddr, 0, len(ips))
	for _, ip := range ips {
		candidates = append(candidates, &net.UDPAddr{IP: ip, Port: port})
	}
	return candidates, nil
}
