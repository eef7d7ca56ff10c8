package rudp

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTestSend = errors.New("transmitqueue_test: simulated send failure")

// serialPost returns a post function that serializes every callback behind
// a single mutex, standing in for a real Multiplexer's single loop goroutine
// without needing one.
func serialPost() func(func()) {
	var mu sync.Mutex
	return func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}
}

func TestTransmitQueuePushAndAck(t *testing.T) {
	q := newTransmitQueue(serialPost())

	var sendCount int
	var completed []error
	q.push(1, 5, time.Hour, func(done func(error, int)) {
		sendCount++
		done(nil, 5)
	}, func(err error, n int) {
		completed = append(completed, err)
		if n != 5 {
			t.Errorf("completion n = %d, want 5", n)
		}
	})

	if sendCount != 1 {
		t.Fatalf("sendCount = %d, want 1", sendCount)
	}

	q.applyAck(1)
	if len(completed) != 1 || completed[0] != nil {
		t.Fatalf("completed = %v, want one nil error", completed)
	}
}

func TestTransmitQueueCumulativeAck(t *testing.T) {
	q := newTransmitQueue(serialPost())

	var order []Sequence
	push := func(seq Sequence) {
		q.push(seq, 0, time.Hour, func(done func(error, int)) {
			done(nil, 0)
		}, func(err error, n int) {
			order = append(order, seq)
		})
	}
	push(1)
	push(2)
	push(3)

	q.applyAck(2)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("completed order = %v, want [1 2]", order)
	}

	q.applyAck(3)
	if len(order) != 3 || order[2] != 3 {
		t.Fatalf("completed order = %v, want [1 2 3]", order)
	}
}

func TestTransmitQueueRetransmitsOnTimeout(t *testing.T) {
	q := newTransmitQueue(serialPost())

	calls := make(chan struct{}, 10)
	q.push(1, 0, 20*time.Millisecond, func(done func(error, int)) {
		calls <- struct{}{}
		// never complete: simulate loss until ack arrives.
	}, func(error, int) {})

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("retransmission %d never happened", i+1)
		}
	}

	q.applyAck(1)
}

func TestTransmitQueueOnlyHeadIsSent(t *testing.T) {
	q := newTransmitQueue(serialPost())

	var sent []Sequence
	push := func(seq Sequence) {
		q.push(seq, 0, time.Hour, func(done func(error, int)) {
			sent = append(sent, seq)
		}, func(error, int) {})
	}
	push(1)
	push(2)
	push(3)

	if len(sent) != 1 || sent[0] != 1 {
		t.Fatalf("sent = %v, want only [1] before any ack", sent)
	}
}

func TestTransmitQueueCloseCancelsPending(t *testing.T) {
	q := newTransmitQueue(serialPost())

	var errs []error
	q.push(1, 0, time.Hour, func(func(error, int)) {}, func(err error, n int) { errs = append(errs, err) })
	q.push(2, 0, time.Hour, func(func(error, int)) {}, func(err error, n int) { errs = append(errs, err) })

	q.close(ErrCancelled)
	if len(errs) != 2 || errs[0] != ErrCancelled || errs[1] != ErrCancelled {
		t.Fatalf("errs = %v, want two ErrCancelled", errs)
	}
}

func TestTransmitQueueSendFailureCompletesWithError(t *testing.T) {
	q := newTransmitQueue(serialPost())

	wantErr := wrapSubstrateErr(errTestSend)
	var gotErr error
	q.push(1, 0, time.Hour, func(done func(error, int)) {
		done(wantErr, 0)
	}, func(err error, n int) {
		gotErr = err
	})

	if gotErr != wantErr {
		t.Fatalf("completion err = %v, want %v", gotErr, wantErr)
	}
}
