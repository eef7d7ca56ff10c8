package rudp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestMux builds a Multiplexer directly over a chanSubstrate, bypassing
// the registry (tests don't go through Listen/Dial's network binding). Its
// refcount is seeded at 1, matching the single top-level Listen/Dial call
// that would normally own it.
func newTestMux(sub Substrate, cfg *Config) *Multiplexer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := newMultiplexer(sub, cfg, zerolog.Nop(), sub.LocalAddr().String())
	m.refCount = 1
	return m
}

func newTestListener(mux *Multiplexer) *Listener {
	placeholder := newConn(mux)
	l := newListener(mux, mux.cfg)
	placeholder.listener = l

	done := make(chan struct{})
	mux.post(func() {
		placeholder.state = StateListening
		mux.listener = placeholder
		mux.addInterest()
		close(done)
	})
	<-done
	return l
}

// handshake drives scenario S1: A dials B, B accepts, both reach
// Established.
func handshake(t *testing.T, net *chanNetwork) (*Conn, *Conn, *Listener) {
	t.Helper()
	subA := net.listen("A")
	subB := net.listen("B")
	muxA := newTestMux(subA, nil)
	muxB := newTestMux(subB, nil)

	listener := newTestListener(muxB)
	connA := newConn(muxA)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var accepted *Conn
	var acceptErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		accepted, acceptErr = listener.Accept(ctx)
	}()

	if err := connA.Connect(ctx, chanAddr("B")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	wg.Wait()
	if acceptErr != nil {
		t.Fatalf("Accept: %v", acceptErr)
	}

	if connA.State() != StateEstablished {
		t.Fatalf("A state = %v, want Established", connA.State())
	}
	if accepted.State() != StateEstablished {
		t.Fatalf("B state = %v, want Established", accepted.State())
	}
	return connA, accepted, listener
}

func TestScenarioS1HandshakeSucceeds(t *testing.T) {
	net := newChanNetwork()
	connA, accepted, listener := handshake(t, net)
	connA.Close()
	accepted.Close()
	listener.Close()
}

func TestScenarioS2SingleMessageDelivery(t *testing.T) {
	net := newChanNetwork()
	connA, accepted, listener := handshake(t, net)
	defer connA.Close()
	defer accepted.Close()
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sendDone := make(chan error, 1)
	go func() {
		_, err := connA.Send(ctx, []byte("hello"))
		sendDone <- err
	}()

	buf := make([]byte, 5)
	n, err := accepted.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if n != 5 || string(buf[:5]) != "hello" {
		t.Fatalf("got %q (n=%d), want hello", buf[:n], n)
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("Send completion: %v", err)
	}
}

func TestScenarioS3OutOfOrderDataDropped(t *testing.T) {
	net := newChanNetwork()
	connA, accepted, listener := handshake(t, net)
	defer connA.Close()
	defer accepted.Close()
	defer listener.Close()

	before := *accepted.lastRemoteSequence
	fabricatedHeader := header{Kind: KindData, Seq: before + 2, Payload: []byte("bad")}
	fabricated := fabricatedHeader.encode()

	subB := accepted.mux.substrate.(*chanSubstrate)
	subB.inject(chanAddr("A"), fabricated)

	time.Sleep(100 * time.Millisecond)

	if *accepted.lastRemoteSequence != before {
		t.Fatalf("lastRemoteSequence changed to %d, want unchanged %d", *accepted.lastRemoteSequence, before)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := accepted.Receive(ctx, make([]byte, 16))
	if err == nil {
		t.Fatal("Receive completed after a dropped out-of-order datagram, want timeout")
	}
}

func TestScenarioS4RetransmissionUnderLoss(t *testing.T) {
	net := newChanNetwork()

	var mu sync.Mutex
	dropped := false
	net.onDeliver = func(from, to chanAddr, h header) bool {
		if h.Kind != KindData || from != "A" || to != "B" {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		if !dropped {
			dropped = true
			return false
		}
		return true
	}

	connA, accepted, listener := handshake(t, net)
	defer connA.Close()
	defer accepted.Close()
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sendResult := make(chan error, 1)
	go func() {
		_, err := connA.Send(ctx, []byte("x"))
		sendResult <- err
	}()

	buf := make([]byte, 4)
	n, err := accepted.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if n != 1 || buf[0] != 'x' {
		t.Fatalf("got %q, want x", buf[:n])
	}

	if err := <-sendResult; err != nil {
		t.Fatalf("Send completion: %v", err)
	}
}
