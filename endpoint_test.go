package rudp

import (
	"context"
	"net"
	"testing"
	"time"
)

// TestScenarioS6UnspecifiedRewrittenToLoopback matches spec.md §8 S6: A
// binds loopback; connecting to 0.0.0.0:P must route to 127.0.0.1:P.
func TestScenarioS6UnspecifiedRewrittenToLoopback(t *testing.T) {
	cases := []struct {
		name string
		in   *net.UDPAddr
		want net.IP
	}{
		{"ipv4", &net.UDPAddr{IP: net.IPv4zero, Port: 9000}, net.IPv4(127, 0, 0, 1)},
		{"ipv6", &net.UDPAddr{IP: net.IPv6unspecified, Port: 9000}, net.IPv6loopback},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := rewriteUnspecified(c.in)
			if !got.IP.Equal(c.want) {
				t.Fatalf("rewriteUnspecified(%v).IP = %v, want %v", c.in, got.IP, c.want)
			}
			if got.Port != c.in.Port {
				t.Fatalf("rewriteUnspecified changed port: got %d, want %d", got.Port, c.in.Port)
			}
		})
	}
}

func TestRewriteUnspecifiedLeavesOrdinaryAddressAlone(t *testing.T) {
	in := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 1234}
	got := rewriteUnspecified(in)
	if got != in {
		t.Fatalf("rewriteUnspecified modified a non-wildcard address: got %v", got)
	}
}

// TestScenarioS5ConnectToUnreachableName matches spec.md §8 S5: resolving a
// name with no valid candidates fails with an error rather than hanging or
// panicking.
func TestScenarioS5ConnectToUnreachableName(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := resolveCandidates(ctx, "this.name.does.not.resolve.invalid", "0")
	if err == nil {
		t.Fatal("resolveCandidates on an unresolvable name: want error, got nil")
	}
}
