package rudp

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

// Option configures a Listen or Dial call.
type Option func(*options)

type options struct {
	cfg *Config
	log zerolog.Logger
}

func defaultOptions() *options {
	return &options{cfg: DefaultConfig(), log: getDefaultLogger()}
}

// WithConfig overrides the default retransmission/buffering configuration.
func WithConfig(cfg *Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger overrides the default zerolog sink.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Listen binds network/address and returns a Listener that accepts
// connections from any number of distinct remote peers (spec.md §4.6).
// Multiple Listen calls against the same explicit (non-zero port) address
// share one underlying Multiplexer (spec.md §4.6 registry); an address with
// port 0, and every Dial, gets a Multiplexer of its own.
func Listen(network, address string, opts ...Option) (*Listener, error) {
	o := applyOptions(opts)
	mux, err := acquireMultiplexer(network, address, o.cfg, o.log)
	if err != nil {
		return nil, err
	}

	placeholder := newConn(mux)
	l := newListener(mux, o.cfg)
	placeholder.listener = l

	done := make(chan struct{})
	if mux.post(func() {
		placeholder.state = StateListening
		mux.listener = placeholder
		mux.addInterest()
		close(done)
	}) {
		<-done
	}
	return l, nil
}

// Dial binds an ephemeral local endpoint and connects to address, per
// spec.md §4.5 async_connect. The connection is usable once Dial returns.
func Dial(ctx context.Context, network, address string, opts ...Option) (*Conn, error) {
	o := applyOptions(opts)
	mux, err := acquireMultiplexer(network, ":0", o.cfg, o.log)
	if err != nil {
		return nil, err
	}

	remote, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		releaseMultiplexer(mux)
		return nil, fmt.Errorf("rudp: resolve %q: %w", address, err)
	}

	c := newConn(mux)
	if err := c.Connect(ctx, remote); err != nil {
		releaseMultiplexer(mux)
		return nil, err
	}
	return c, nil
}

// DialName resolves host/service and dials the first reachable candidate,
// per spec.md §4.5 async_connect(host, service) and §6 name resolution.
func DialName(ctx context.Context, network, host, service string, opts ...Option) (*Conn, error) {
	o := applyOptions(opts)
	mux, err := acquireMultiplexer(network, ":0", o.cfg, o.log)
	if err != nil {
		return nil, err
	}

	c := newConn(mux)
	if err := c.ConnectName(ctx, host, service); err != nil {
		releaseMultiplexer(mux)
		return nil, err
	}
	return c, nil
}
