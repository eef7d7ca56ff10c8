package rudp

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Listener accepts inbound connections on a bound local endpoint (spec.md
// §4.6, "Listening" state). Accept returns independent, fully-established
// Conn values for each distinct remote peer — see Multiplexer.acceptHandshake
// for how the redesigned (non-single-shot) acceptor is implemented.
type Listener struct {
	mux *Multiplexer
	log zerolog.Logger

	accepted chan *Conn
	closed   chan struct{}

	closeOnce sync.Once
}

func newListener(mux *Multiplexer, cfg *Config) *Listener {
	return &Listener{
		mux:      mux,
		log:      mux.log,
		accepted: make(chan *Conn, cfg.AcceptBacklog),
		closed:   make(chan struct{}),
	}
}

// Accept blocks until a peer completes its handshake or ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c, ok := <-l.accepted:
		if !ok {
			return nil, ErrListenerClosed
		}
		return c, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver hands a newly established connection to a waiting or future
// Accept call. Always invoked from the owning Multiplexer's loop goroutine.
// If the accept backlog is full, the connection is dropped (spec.md §5,
// AcceptBacklog bound).
func (l *Listener) deliver(c *Conn) {
	select {
	case l.accepted <- c:
		c.delivered = true
	default:
		l.log.Debug().Msg("accept backlog full, dropping established connection")
		c.closeInternal(ErrCancelled)
	}
}

// Close stops accepting new connections and releases this Listener's
// reference to its Multiplexer.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)

		done := make(chan struct{})
		if l.mux.post(func() {
			if l.mux.listener != nil && l.mux.listener.listener == l {
				l.mux.listener.closeInternal(ErrCancelled)
				l.mux.listener = nil
				l.mux.removeInterest()
			}
			close(done)
		}) {
			<-done
		}

		releaseMultiplexer(l.mux)
	})
	return nil
}

// Addr returns the listener's bound local endpoint.
func (l *Listener) Addr() net.Addr {
	return l.mux.local
}
