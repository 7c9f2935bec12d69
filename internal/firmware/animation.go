package firmware

import (
	"math/rand"
	"time"

	"github.com/ledmatrix/matrixnode/internal/protocol"
)

// DefaultAnimationInterval is the fade tick rate.
const DefaultAnimationInterval = 50 * time.Millisecond

// Animator fades every LED toward a per-LED random target color. When an
// LED reaches its target a new one is drawn, so the matrix drifts through
// colors indefinitely. The animator owns only the targets; the current
// colors live in the device's LED buffer, which the dispatcher also writes.
type Animator struct {
	interval time.Duration
	last     time.Time
	targets  [protocol.LEDCount]protocol.Color
	rnd      *rand.Rand
}

// NewAnimator creates an animator using rnd for target regeneration.
func NewAnimator(rnd *rand.Rand, interval time.Duration) *Animator {
	if interval <= 0 {
		interval = DefaultAnimationInterval
	}
	return &Animator{interval: interval, rnd: rnd}
}

// Step advances the fade by one tick if the tick interval has elapsed.
// It reports whether colors were mutated; the caller pushes the whole
// buffer to the sink once per tick, not once per LED.
func (a *Animator) Step(now time.Time, colors *[protocol.LEDCount]protocol.Color) bool {
	if !a.last.IsZero() && now.Sub(a.last) <= a.interval {
		return false
	}
	a.last = now

	for i := range colors {
		if colors[i] == a.targets[i] {
			a.targets[i] = randomTarget(a.rnd)
		}
		colors[i] = fadeToward(colors[i], a.targets[i])
	}
	return true
}
