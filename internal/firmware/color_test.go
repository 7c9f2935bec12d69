package firmware

import (
	"math/rand"
	"testing"

	"github.com/ledmatrix/matrixnode/internal/protocol"
)

func TestFadeTowardStepsOneUnit(t *testing.T) {
	c := fadeToward(protocol.Color{R: 10, G: 200, B: 50}, protocol.Color{R: 12, G: 100, B: 50})
	want := protocol.Color{R: 11, G: 199, B: 50}
	if c != want {
		t.Errorf("fadeToward = %+v, want %+v", c, want)
	}
}

func TestFadeTowardConverges(t *testing.T) {
	cur := protocol.Color{}
	target := protocol.Color{R: 255, G: 3, B: 128}

	for i := 0; i < 256; i++ {
		cur = fadeToward(cur, target)
	}
	if cur != target {
		t.Errorf("did not converge after 256 steps: %+v", cur)
	}
	// once at the target, further steps must not overshoot
	if next := fadeToward(cur, target); next != target {
		t.Errorf("overshot target: %+v", next)
	}
}

func TestRandomTargetDominantHue(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		c := randomTarget(rnd)
		low := 0
		for _, ch := range []uint8{c.R, c.G, c.B} {
			if ch < 8 {
				low++
			}
		}
		// exactly one channel spans the full range, the other two stay
		// in 0..7; the full-range draw may land below 8 as well
		if low < 2 {
			t.Fatalf("draw %d: more than one wide channel: %+v", i, c)
		}
	}
}
