package firmware

import (
	"math/rand"

	"github.com/ledmatrix/matrixnode/internal/protocol"
)

// fadeToward moves each channel of c one unit toward t, stopping exactly at
// the target value. Channels never overshoot.
func fadeToward(c, t protocol.Color) protocol.Color {
	c.R = stepChannel(c.R, t.R)
	c.G = stepChannel(c.G, t.G)
	c.B = stepChannel(c.B, t.B)
	return c
}

func stepChannel(v, target uint8) uint8 {
	switch {
	case v < target:
		return v + 1
	case v > target:
		return v - 1
	default:
		return v
	}
}

// randomTarget draws a dominant-hue random color: one channel is drawn from
// the full 0..255 range, the other two from a narrow 0..7 range. The result
// fades toward a saturated hue instead of white noise.
func randomTarget(rnd *rand.Rand) protocol.Color {
	dominant := rnd.Intn(3)
	return protocol.Color{
		R: randomChannel(rnd, dominant == 0),
		G: randomChannel(rnd, dominant == 1),
		B: randomChannel(rnd, dominant == 2),
	}
}

func randomChannel(rnd *rand.Rand, high bool) uint8 {
	if high {
		return uint8(rnd.Intn(256))
	}
	return uint8(rnd.Intn(8))
}
