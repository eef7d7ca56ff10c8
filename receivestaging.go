package rudp

// readRequest is a pending application receive: a destination buffer and
// the completion to invoke once a payload is copied into it.
type readRequest struct {
	buf  []byte
	done func(err error, n int)
}

// pendingPayload is an inbound payload awaiting a matching readRequest.
type pendingPayload struct {
	err  error
	data []byte
}

// receiveStaging pairs pending application receive requests with inbound
// payloads (spec.md §4.3). Exactly one of its two FIFOs is non-empty at any
// instant. Like transmitQueue, it is only ever touched from the owning
// multiplexer's loop goroutine.
type receiveStaging struct {
	input  []*readRequest
	output []*pendingPayload

	// onInputPending is called whenever a read request is queued with no
	// payload waiting, so the owning multiplexer can ensure a receive is
	// active (spec.md §4.3 "enqueue_read ... signal the multiplexer").
	onInputPending func()
}

// enqueuePayload is the produce side: if a read request is pending, it is
// popped, the bytes are copied into its destination, and it completes;
// otherwise the payload is buffered for a future Receive.
func (rs *receiveStaging) enqueuePayload(err error, data []byte) {
	if len(rs.input) > 0 {
		req := rs.input[0]
		rs.input = rs.input[1:]
		n := copy(req.buf, data)
		req.done(err, n)
		return
	}
	rs.output = append(rs.output, &pendingPayload{err: err, data: data})
}

// enqueueRead is the consume side: if a payload is pending, it is popped,
// copied into buf (truncated to len(buf) — no fragmentation across reads,
// spec.md §4.3), and the completion posts immediately; otherwise the
// request is queued and the multiplexer is signalled.
func (rs *receiveStaging) enqueueRead(buf []byte, done func(err error, n int)) *readRequest {
	if len(rs.output) > 0 {
		payload := rs.output[0]
		rs.output = rs.output[1:]
		n := copy(buf, payload.data)
		done(payload.err, n)
		return nil
	}
	req := &readRequest{buf: buf, done: done}
	rs.input = append(rs.input, req)
	if rs.onInputPending != nil {
		rs.onInputPending()
	}
	return req
}

// cancelRead removes req if it is still queued and completes it with err. A
// no-op if req already completed (a payload arrived) before this runs, or if
// req is nil (enqueueRead completed synchronously and never queued).
func (rs *receiveStaging) cancelRead(req *readRequest, err error) {
	if req == nil {
		return
	}
	for i, r := range rs.input {
		if r != req {
			continue
		}
		rs.input = append(rs.input[:i], rs.input[i+1:]...)
		r.done(err, 0)
		return
	}
}

// close cancels every pending read request with err; used on connection
// close (spec.md §7 "Connection-level close cancels all pending receive and
// send completions with a cancellation error").
func (rs *receiveStaging) close(err error) {
	input := rs.input
	rs.input = nil
	rs.output = nil
	for _, req := range input {
		req.done(err, 0)
	}
}
