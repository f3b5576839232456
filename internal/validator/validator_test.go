package validator

import "testing"

func TestDifficultyToTarget_HigherDifficultyMeansLowerTarget(t *testing.T) {
	low := DifficultyToTarget(1)
	high := DifficultyToTarget(1000)
	if high.Cmp(low) >= 0 {
		t.Fatalf("expected higher difficulty to produce a smaller target: diff1=%v diff1000=%v", low, high)
	}
}

func TestDifficultyToTarget_NonPositiveDoesNotPanic(t *testing.T) {
	for _, d := range []float64{0, -5} {
		if target := DifficultyToTarget(d); target.Sign() <= 0 {
			t.Fatalf("expected a positive target for difficulty %v, got %v", d, target)
		}
	}
}
