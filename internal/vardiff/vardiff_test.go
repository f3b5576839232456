package vardiff

import (
	"testing"
	"time"
)

func TestController_NoRetargetBeforeColdStartGrace(t *testing.T) {
	c := New(1, 20, false)
	now := time.Now()
	for i := 0; i < 15; i++ {
		if _, changed := c.RecordShare(now.Add(time.Duration(i) * time.Second)); changed {
			t.Fatal("expected no retarget during cold-start grace window")
		}
	}
}

func TestController_RetargetsUpOnFastShares(t *testing.T) {
	c := New(1, 20, false)
	start := time.Now()
	var last float64
	var changed, fired bool
	// Simulate shares arriving far faster than the 20/min target, well past
	// both the cold-start grace and the retarget interval. The retarget fires
	// on the one share where the interval first opens, so record whether any
	// call reported a change.
	for i := 0; i < 200; i++ {
		last, changed = c.RecordShare(start.Add(time.Duration(i) * 200 * time.Millisecond))
		fired = fired || changed
	}
	if !fired {
		t.Fatal("expected a retarget to have fired")
	}
	if last <= 1 {
		t.Fatalf("expected difficulty to increase above the floor, got %v", last)
	}
}

func TestController_NeverBelowMinDiff(t *testing.T) {
	c := New(5, 20, false)
	if c.Difficulty() != 5 {
		t.Fatalf("expected initial difficulty to equal minDiff, got %v", c.Difficulty())
	}
	// One share every 10s is far below the 20/min target, so the controller
	// proposes a lower difficulty; the minDiff floor must hold.
	start := time.Now()
	for i := 0; i < 100; i++ {
		if d, _ := c.RecordShare(start.Add(time.Duration(i) * 10 * time.Second)); d < 5 {
			t.Fatalf("difficulty dropped below minDiff: %v", d)
		}
	}
}

func TestRoundToPow2(t *testing.T) {
	cases := map[float64]float64{
		1:   1,
		3:   4,
		5:   4,
		6:   8,
		100: 128,
	}
	for in, want := range cases {
		if got := roundToPow2(in); got != want {
			t.Errorf("roundToPow2(%v) = %v, want %v", in, got, want)
		}
	}
}
