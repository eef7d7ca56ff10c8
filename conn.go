package rudp

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a connection's position in the state machine of spec.md §4.5.
type State int32

const (
	StateClosed State = iota
	StateListening
	StateConnecting
	StateHandshaking
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Conn is a logical, reliable, ordered, message-preserving channel to a
// single peer (spec.md §3 "Connection"). All state is mutated only from
// closures posted to the owning Multiplexer's loop goroutine; see
// multiplexer.go. The mutex below exists solely so State/LocalAddr/
// RemoteAddr can be read safely from arbitrary goroutines.
type Conn struct {
	mux *Multiplexer
	id  uuid.UUID
	log zerolog.Logger

	closeOnce sync.Once

	mu         sync.RWMutex
	state      State
	localAddr  net.Addr
	remoteAddr net.Addr

	nextSequence       Sequence
	lastRemoteSequence *Sequence

	txq *transmitQueue
	rx  receiveStaging

	connectDone func(error)

	// listener is non-nil only while this Conn is the armed placeholder
	// for a Listener (StateListening); newly accepted connections are
	// independent Conn values and do not carry this back-reference.
	listener *Listener

	// acceptRef is true for a Conn spawned by Multiplexer.acceptHandshake;
	// such a Conn holds its own multiplexer reference (acquired via
	// acquireMultiplexerRef). delivered becomes true once it is handed to
	// a waiting Accept call, at which point the application's eventual
	// Close() becomes responsible for releasing that reference instead of
	// closeInternal — see closeInternal.
	acceptRef bool
	delivered bool
}

type sendResult struct {
	n   int
	err error
}

func newConn(mux *Multiplexer) *Conn {
	id := uuid.New()
	c := &Conn{
		mux:          mux,
		id:           id,
		log:          mux.log.With().Str("conn_id", id.String()).Logger(),
		state:        StateClosed,
		localAddr:    mux.local,
		nextSequence: randomSequence(),
	}
	c.txq = newTransmitQueue(func(fn func()) { mux.post(fn) })
	c.txq.onNonEmpty = func() { mux.addInterest() }
	c.txq.onEmpty = func() { mux.removeInterest() }
	c.rx.onInputPending = func() { mux.addInterestAndStartReceive() }
	return c
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the connection's current state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LocalAddr returns the connection's local endpoint.
func (c *Conn) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localAddr
}

// RemoteAddr returns the connection's remote endpoint, or nil before one is
// known.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteAddr
}

// Connect initiates a connection to remote (spec.md §4.5 async_connect).
// Wildcard *net.UDPAddr remotes are rewritten to loopback (spec.md §3); any
// other net.Addr implementation (e.g. a test Substrate's own address type)
// is used as given.
func (c *Conn) Connect(ctx context.Context, remote net.Addr) error {
	if c.mux == nil {
		return ErrInvalidArgument
	}
	result := make(chan error, 1)
	posted := c.mux.post(func() {
		switch c.State() {
		case StateClosed:
			c.beginConnect(remote, func(err error) { result <- err })
		case StateEstablished:
			result <- ErrAlreadyConnected
		default:
			result <- ErrAlreadyStarted
		}
	})
	if !posted {
		return ErrCancelled
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectName resolves (host, service) and attempts each candidate in
// order, reporting the last failure if every candidate is exhausted
// (spec.md §4.5 async_connect(host, service)).
func (c *Conn) ConnectName(ctx context.Context, host, service string) error {
	candidates, err := resolveCandidates(ctx, host, service)
	if err != nil {
		return err
	}
	var lastErr error
	for _, candidate := range candidates {
		lastErr = c.Connect(ctx, candidate)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (c *Conn) beginConnect(remote net.Addr, done func(error)) {
	if udpAddr, ok := remote.(*net.UDPAddr); ok {
		remote = rewriteUnspecified(udpAddr)
	}
	c.mu.Lock()
	c.state = StateConnecting
	c.remoteAddr = remote
	c.mu.Unlock()

	c.mux.add(c)
	c.connectDone = done

	seq := c.nextSequence
	c.nextSequence = c.nextSequence.Next()
	c.txq.push(seq, 0, c.mux.cfg.RetransmitTimeout,
		func(done func(error, int)) {
			c.mux.sendHandshake(remote, seq, nil, func(err error) { done(err, 0) })
		},
		func(err error, _ int) {
			if err != nil {
				c.closeInternal(err)
			}
		},
	)
	c.mux.startReceive()
}

// Send transmits one discrete payload and completes once the peer
// acknowledges it (spec.md §4.5 async_send). Payload must be 1..MTU bytes.
func (c *Conn) Send(ctx context.Context, payload []byte) (int, error) {
	if len(payload) == 0 || len(payload) > c.mux.cfg.MTU {
		return 0, ErrInvalidArgument
	}
	result := make(chan sendResult, 1)
	var entry *transmitEntry
	posted := c.mux.post(func() {
		if c.State() != StateEstablished {
			result <- sendResult{0, ErrNotConnected}
			return
		}
		seq := c.nextSequence
		c.nextSequence = c.nextSequence.Next()
		ack := *c.lastRemoteSequence
		buf := append([]byte(nil), payload...)
		remote := c.remoteAddr

		entry = c.txq.push(seq, len(buf), c.mux.cfg.RetransmitTimeout,
			func(done func(error, int)) {
				c.mux.sendData(remote, seq, &ack, buf, func(err error) { done(err, len(buf)) })
			},
			func(err error, n int) { result <- sendResult{n, err} },
		)
		c.mux.startReceive()
	})
	if !posted {
		return 0, ErrCancelled
	}
	select {
	case r := <-result:
		return r.n, r.err
	case <-ctx.Done():
		c.mux.post(func() { c.txq.cancelEntry(entry, ctx.Err()) })
		return 0, ctx.Err()
	}
}

// Receive completes once a payload is available, copying up to len(buf)
// bytes into it (spec.md §4.5 async_receive / §4.3 receive staging).
func (c *Conn) Receive(ctx context.Context, buf []byte) (int, error) {
	if c.mux == nil {
		return 0, ErrNotConnected
	}
	result := make(chan sendResult, 1)
	var req *readRequest
	posted := c.mux.post(func() {
		if c.State() != StateEstablished {
			result <- sendResult{0, ErrNotConnected}
			return
		}
		req = c.rx.enqueueRead(buf, func(err error, n int) { result <- sendResult{n, err} })
	})
	if !posted {
		return 0, ErrCancelled
	}
	select {
	case r := <-result:
		return r.n, r.err
	case <-ctx.Done():
		c.mux.post(func() { c.rx.cancelRead(req, ctx.Err()) })
		return 0, ctx.Err()
	}
}

// Close transitions the connection to Closed and cancels every pending
// operation with ErrCancelled (spec.md §9 redesign: the original never
// leaves Established on close; this repository does).
func (c *Conn) Close() error {
	if c.mux == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		if c.mux.post(func() {
			c.closeInternal(ErrCancelled)
			close(done)
		}) {
			<-done
		} else {
			c.closeInternal(ErrCancelled)
		}
		releaseMultiplexer(c.mux)
	})
	return nil
}

// closeInternal tears down connection state and is safe to call from any
// internal failure path, not just the public Close(). A Conn spawned by
// Multiplexer.acceptHandshake that never reached Accept (failed handshake,
// a substrate error before delivery, a full accept backlog) releases its
// own multiplexer reference right here, since no application Close() call
// will ever arrive for it; once delivered, that responsibility shifts to
// Close() so a successfully accepted connection is released exactly once.
func (c *Conn) closeInternal(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	releaseOwnRef := c.acceptRef && !c.delivered
	c.mu.Unlock()

	c.txq.close(err)
	c.rx.close(err)
	if c.connectDone != nil {
		done := c.connectDone
		c.connectDone = nil
		done(err)
	}
	c.mux.remove(c)
	if releaseOwnRef {
		releaseMultiplexer(c.mux)
	}
}

// dispatch is the multiplexer's single entry point for inbound datagrams
// already routed to this connection (spec.md §4.5 "Protocol handlers
// invoked by multiplexer"). It always applies a piggybacked ack first, then
// the kind-specific handler.
func (c *Conn) dispatch(remote net.Addr, h header) {
	if h.AckPresent {
		c.processAcknowledgement(h.Ack)
	}
	switch h.Kind {
	case KindHandshake:
		c.processHandshake(h.Seq, remote)
	case KindData:
		c.processData(nil, h.Seq, len(h.Payload), h.Payload)
	case KindKeepalive:
		// A KEEPALIVE consumes one of the peer's sequences, so an in-order
		// one advances lastRemoteSequence; otherwise the peer's next DATA
		// would never be the exact next sequence processData accepts.
		if c.lastRemoteSequence != nil && h.Seq == c.lastRemoteSequence.Next() {
			lrs := h.Seq
			c.lastRemoteSequence = &lrs
		}
	case KindAck:
		// No further action: a pure ack is fully handled above.
	}
}

// processHandshake is invoked when a HANDSHAKE datagram is routed to this
// connection (spec.md §4.5). The Listening case runs for a freshly spawned
// responder connection (see Multiplexer.acceptHandshake), which is
// constructed in StateListening so that this branch drives it to
// Established. The Listener's placeholder Conn never reaches this method:
// Multiplexer.route hands unrouted HANDSHAKEs to acceptHandshake instead.
func (c *Conn) processHandshake(peerInitial Sequence, remote net.Addr) {
	switch c.State() {
	case StateListening:
		seq := c.nextSequence
		c.nextSequence = c.nextSequence.Next()
		ack := peerInitial
		c.txq.push(seq, 0, c.mux.cfg.RetransmitTimeout,
			func(done func(error, int)) {
				c.mux.sendHandshake(remote, seq, &ack, func(err error) { done(err, 0) })
			},
			func(err error, _ int) {
				if err != nil {
					c.closeInternal(err)
					return
				}
				c.mu.Lock()
				c.state = StateEstablished
				c.remoteAddr = remote
				c.mu.Unlock()
				lrs := peerInitial
				c.lastRemoteSequence = &lrs
				c.fireConnect(nil)
			},
		)
		c.mux.startReceive()

	case StateConnecting:
		c.setState(StateHandshaking)
		lrs := peerInitial
		c.lastRemoteSequence = &lrs

		seq := c.nextSequence
		c.nextSequence = c.nextSequence.Next()
		ack := peerInitial
		// This KEEPALIVE completes the handshake and is sent directly,
		// bypassing the transmit queue: nothing in the protocol ever acks
		// an unsolicited KEEPALIVE, so queuing it would wait forever for
		// an ack that never arrives (socket.hpp's send_keepalive, unlike
		// send_handshake, never touches transmit_queue).
		c.mux.sendKeepalive(remote, seq, &ack, func(err error) {
			if err != nil {
				c.closeInternal(err)
				return
			}
			c.setState(StateEstablished)
			c.fireConnect(nil)
		})

	case StateHandshaking, StateEstablished:
		// Duplicate handshake: retransmission from a peer still waiting
		// for our ack to arrive. Ignore; the peer will retry.

	default:
		// Closed: ignore, never fatal (spec.md §7).
	}
}

// processAcknowledgement applies a (possibly piggybacked) cumulative ack
// (spec.md §4.5).
func (c *Conn) processAcknowledgement(ack Sequence) {
	if c.State() == StateHandshaking {
		c.setState(StateEstablished)
	}
	c.txq.applyAck(ack)
}

// processData handles an inbound DATA datagram (spec.md §4.5). Duplicate or
// out-of-order sequences are dropped silently; only the exact next sequence
// is accepted (spec.md §9 — the strict is_expected_packet behavior of the
// original source is preserved).
func (c *Conn) processData(substrateErr error, seq Sequence, payloadSize int, payload []byte) {
	if substrateErr != nil {
		c.rx.enqueuePayload(substrateErr, nil)
		c.closeInternal(substrateErr)
		return
	}

	if c.lastRemoteSequence == nil || seq != c.lastRemoteSequence.Next() {
		c.log.Debug().Uint32("seq", uint32(seq)).Msg("drop out-of-order or duplicate data")
		return
	}

	lrs := seq
	c.lastRemoteSequence = &lrs

	data := make([]byte, payloadSize)
	copy(data, payload)
	c.rx.enqueuePayload(nil, data)

	kseq := c.nextSequence
	c.nextSequence = c.nextSequence.Next()
	ack := lrs
	remote := c.remoteAddr
	// Fire-and-forget, same as the handshake-completing KEEPALIVE above:
	// no retry, since nothing ever acks an unsolicited KEEPALIVE. Routing
	// this through the transmit queue would leave it unacknowledged at
	// the head forever, permanently blocking every later Send.
	c.mux.sendKeepalive(remote, kseq, &ack, func(err error) {
		if err != nil {
			c.log.Debug().Err(err).Msg("delivery-confirmation keepalive failed")
		}
	})
}

func (c *Conn) fireConnect(err error) {
	if c.connectDone == nil {
		return
	}
	done := c.connectDone
	c.connectDone = nil
	done(err)
}
