package kaspaapi

import "testing"

func TestBitsToTarget_MonotonicWithExponent(t *testing.T) {
	small := bitsToTarget(0x1d00ffff)
	large := bitsToTarget(0x1f00ffff)
	if large.Cmp(small) <= 0 {
		t.Fatalf("expected a larger exponent to produce a larger target: %v vs %v", small, large)
	}
}

func TestBitsToTarget_LowExponentShiftsRight(t *testing.T) {
	target := bitsToTarget(0x03123456)
	if target.Sign() <= 0 {
		t.Fatal("expected a positive target")
	}
}
