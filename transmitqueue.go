package rudp

import "time"

// transmitEntry is the spec.md §3 "Transmit queue entry":
// (sequence, byte_size, deadline_ms, send_step, completion).
type transmitEntry struct {
	seq        Sequence
	size       int
	timeout    time.Duration
	sendStep   func(done func(err error, n int))
	completion func(err error, n int)
	timer      *time.Timer
}

// transmitQueue is the per-connection ordered queue of pending outbound
// datagrams with retransmission timers and acknowledgement-driven removal
// (spec.md §4.2). Its methods are only ever called from the owning
// multiplexer's loop goroutine (see multiplexer.go), so no internal lock is
// needed — the mutual exclusion is structural, matching the single-loop
// concurrency model of spec.md §5.
type transmitQueue struct {
	entries []*transmitEntry

	// post schedules fn to run on the owning loop; used to bring timer
	// and send-step callbacks (which fire on their own goroutines) back
	// onto the single loop before they touch queue state.
	post func(fn func())

	// onNonEmpty/onEmpty notify the owning multiplexer that this queue
	// has started or stopped requiring attention, so it can decide
	// whether to keep its receive loop armed (spec.md §4.4).
	onNonEmpty func()
	onEmpty    func()
}

func newTransmitQueue(post func(func())) *transmitQueue {
	return &transmitQueue{post: post}
}

// push enqueues an entry and, if it becomes the head, schedules its
// send_step immediately; otherwise it waits until prior entries are
// acknowledged. The returned entry is an opaque handle for cancelEntry.
func (q *transmitQueue) push(seq Sequence, size int, timeout time.Duration,
	sendStep func(done func(err error, n int)), completion func(err error, n int)) *transmitEntry {

	entry := &transmitEntry{
		seq:        seq,
		size:       size,
		timeout:    timeout,
		sendStep:   sendStep,
		completion: completion,
	}

	wasEmpty := len(q.entries) == 0
	q.entries = append(q.entries, entry)
	if wasEmpty {
		if q.onNonEmpty != nil {
			q.onNonEmpty()
		}
		q.armHead()
	}
	return entry
}

// cancelEntry removes entry if it is still queued and completes it with err.
// A no-op if entry already completed (via ack or send failure) before this
// runs — the caller's ctx-cancellation race with a just-arrived ack.
func (q *transmitQueue) cancelEntry(entry *transmitEntry, err error) {
	for i, e := range q.entries {
		if e != entry {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		if i == 0 && len(q.entries) > 0 {
			q.armHead()
		}
		if len(q.entries) == 0 && q.onEmpty != nil {
			q.onEmpty()
		}
		e.completion(err, 0)
		return
	}
}

// armHead invokes the head entry's send_step. Its completion (fired on an
// arbitrary goroutine) is brought back onto the loop via post.
func (q *transmitQueue) armHead() {
	if len(q.entries) == 0 {
		return
	}
	entry := q.entries[0]
	entry.sendStep(func(err error, n int) {
		q.post(func() { q.onSendStepDone(entry, err, n) })
	})
}

func (q *transmitQueue) onSendStepDone(entry *transmitEntry, err error, n int) {
	if len(q.entries) == 0 || q.entries[0] != entry {
		return // stale callback for an entry already removed by an ack
	}
	if err != nil {
		// Hard substrate error: complete with the error, drop the entry,
		// and move on to whatever is next (spec.md §4.2 "Failure").
		q.entries = q.entries[1:]
		entry.completion(err, 0)
		if len(q.entries) == 0 {
			if q.onEmpty != nil {
				q.onEmpty()
			}
			return
		}
		q.armHead()
		return
	}
	entry.timer = time.AfterFunc(entry.timeout, func() {
		q.post(func() { q.onTimeout(entry) })
	})
}

// onTimeout resends the head entry if it is still unacknowledged. The
// timeout is reset on each retransmission (spec.md §4.2).
func (q *transmitQueue) onTimeout(entry *transmitEntry) {
	if len(q.entries) == 0 || q.entries[0] != entry {
		return
	}
	entry.sendStep(func(err error, n int) {
		q.post(func() { q.onSendStepDone(entry, err, n) })
	})
}

// applyAck removes every entry whose sequence is modularly <= ack and
// invokes each removed entry's completion with success and its recorded
// size (cumulative ack semantics, spec.md §4.2).
func (q *transmitQueue) applyAck(ack Sequence) {
	removed := 0
	for len(q.entries) > 0 && seqLessOrEqual(q.entries[0].seq, ack) {
		entry := q.entries[0]
		if entry.timer != nil {
			entry.timer.Stop()
		}
		q.entries = q.entries[1:]
		removed++
		entry.completion(nil, entry.size)
	}
	if removed == 0 {
		return
	}
	if len(q.entries) == 0 {
		if q.onEmpty != nil {
			q.onEmpty()
		}
		return
	}
	q.armHead()
}

// close tears down the queue (connection closed): every remaining
// completion fires with a cancellation error.
func (q *transmitQueue) close(err error) {
	entries := q.entries
	q.entries = nil
	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.completion(err, 0)
	}
	if len(entries) > 0 && q.onEmpty != nil {
		q.onEmpty()
	}
}
