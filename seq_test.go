package rudp

import "testing"

func TestSequenceNext(t *testing.T) {
	var s Sequence = 0xFFFFFFFF
	if got := s.Next(); got != 0 {
		t.Fatalf("Next() wraparound = %d, want 0", got)
	}
}

func TestSeqLess(t *testing.T) {
	cases := []struct {
		a, b Sequence
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		{0xFFFFFFFF, 0, true},  // wraparound: 0 is "after" max uint32
		{0, 0xFFFFFFFF, false}, // and not the reverse
		{100, 1<<31 + 100, true},
	}
	for _, c := range cases {
		if got := seqLess(c.a, c.b); got != c.want {
			t.Errorf("seqLess(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSeqLessOrEqual(t *testing.T) {
	if !seqLessOrEqual(5, 5) {
		t.Error("seqLessOrEqual(5, 5) = false, want true")
	}
	if !seqLessOrEqual(5, 6) {
		t.Error("seqLessOrEqual(5, 6) = false, want true")
	}
	if seqLessOrEqual(6, 5) {
		t.Error("seqLessOrEqual(6, 5) = true, want false")
	}
}
