package tcp

import "testing"

func TestWrappingLT(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		{0xffffffff, 0, true},
		{0, 0xffffffff, false},
	}
	for _, c := range cases {
		if got := WrappingLT(c.a, c.b); got != c.want {
			t.Errorf("WrappingLT(%d,%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestBetweenWrapped(t *testing.T) {
	if BetweenWrapped(100, 100, 100) {
		t.Error("BetweenWrapped(s,s,s) must be false")
	}
	if !BetweenWrapped(100, 150, 200) {
		t.Error("150 should be between 100 and 200")
	}
	if BetweenWrapped(100, 200, 150) {
		t.Error("200 is not between 100 and 150")
	}
	// wraparound: window starting near the top of the space
	var near uint32 = 0xfffffff0
	if !BetweenWrapped(near, near+5, near+20) {
		t.Error("wraparound window should accept a value inside it")
	}
	if BetweenWrapped(near, near+30, near+20) {
		t.Error("wraparound window should reject a value outside it")
	}
}
