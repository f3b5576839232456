// Package vardiff retargets a session's share difficulty to approximate a
// configured share rate, generalized from a single-window elapsed-time
// retarget into a sliding window with a power-of-two clamp and a hysteresis
// band so sessions don't thrash on noisy share arrival.
package vardiff

import (
	"math"
	"sync"
	"time"
)

const (
	minSamplesForWindow = 8
	retargetInterval    = 30 * time.Second
	coldStartGrace      = 15 * time.Second
	hysteresisPercent   = 10.0
	minClampFactor      = 0.25
	maxClampFactor      = 4.0
)

// Controller tracks one session's share arrivals and recommends difficulty
// changes.
type Controller struct {
	mu sync.Mutex

	minDiff      float64
	targetPerMin float64
	pow2Clamp    bool

	difficulty   float64
	authorizedAt time.Time
	lastRetarget time.Time
	window       []time.Time
	windowSize   int
}

// New builds a controller starting at minDiff, targeting targetSharesPerMin
// shares per minute.
func New(minDiff, targetSharesPerMin float64, pow2Clamp bool) *Controller {
	windowSize := int(targetSharesPerMin)
	if windowSize < minSamplesForWindow {
		windowSize = minSamplesForWindow
	}
	now := time.Now()
	return &Controller{
		minDiff:      minDiff,
		targetPerMin: targetSharesPerMin,
		pow2Clamp:    pow2Clamp,
		difficulty:   minDiff,
		authorizedAt: now,
		lastRetarget: now,
		windowSize:   windowSize,
	}
}

// Difficulty returns the current difficulty.
func (c *Controller) Difficulty() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.difficulty
}

// RecordShare registers a share arrival and returns (newDifficulty, changed).
// changed is true only when the recommended difficulty moved by more than
// the hysteresis band and the retarget interval has elapsed.
func (c *Controller) RecordShare(now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = append(c.window, now)
	if len(c.window) > c.windowSize {
		c.window = c.window[len(c.window)-c.windowSize:]
	}

	if now.Sub(c.authorizedAt) < coldStartGrace {
		return c.difficulty, false
	}
	if now.Sub(c.lastRetarget) < retargetInterval {
		return c.difficulty, false
	}
	if len(c.window) < minSamplesForWindow {
		return c.difficulty, false
	}

	elapsed := now.Sub(c.window[0]).Seconds()
	if elapsed <= 0 {
		return c.difficulty, false
	}
	observedPerMin := float64(len(c.window)-1) / elapsed * 60.0

	proposed := c.difficulty * (observedPerMin / c.targetPerMin)
	proposed = clamp(proposed, c.difficulty*minClampFactor, c.difficulty*maxClampFactor)
	if proposed < c.minDiff {
		proposed = c.minDiff
	}
	if c.pow2Clamp {
		proposed = roundToPow2(proposed)
	}

	c.lastRetarget = now

	changePercent := math.Abs(proposed-c.difficulty) / c.difficulty * 100.0
	if changePercent <= hysteresisPercent {
		return c.difficulty, false
	}

	c.difficulty = proposed
	return c.difficulty, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundToPow2 rounds to the nearest power of two, never below 1.
func roundToPow2(v float64) float64 {
	if v < 1 {
		return 1
	}
	lower := math.Pow(2, math.Floor(math.Log2(v)))
	upper := lower * 2
	if v-lower < upper-v {
		return lower
	}
	return upper
}
