package rudp

import "math/rand"

// Sequence is a wrapping sequence number identifying an outbound datagram
// on a connection. W=32 bits, the width recommended by the protocol.
type Sequence uint32

// Next returns the modular successor of s.
func (s Sequence) Next() Sequence {
	return s + 1
}

// randomSequence picks the connection's initial sequence uniformly at random.
func randomSequence() Sequence {
	return Sequence(rand.Uint32())
}

// seqLess reports whether a is modularly older than b: the half-space before
// b is considered "older". Equality is not "less".
func seqLess(a, b Sequence) bool {
	d := uint32(b - a)
	return d > 0 && d <= 1<<31
}

// seqLessOrEqual reports whether a is b or modularly older than b.
func seqLessOrEqual(a, b Sequence) bool {
	return a == b || seqLess(a, b)
}
