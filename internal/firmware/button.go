package firmware

import "time"

// ButtonState classifies one debounced button sample.
type ButtonState int

const (
	// ButtonReleased is the idle result; it is also what Read returns
	// between eligible sampling windows regardless of the physical level.
	ButtonReleased ButtonState = iota
	// ButtonPressed is the debounced rising edge.
	ButtonPressed
	// ButtonPressedContinuously means the input was still asserted on a
	// later sample while already latched pressed.
	ButtonPressedContinuously
)

func (s ButtonState) String() string {
	switch s {
	case ButtonPressed:
		return "PRESSED"
	case ButtonPressedContinuously:
		return "PRESSED_CONTINUOUSLY"
	default:
		return "RELEASED"
	}
}

// DefaultDebounceInterval is the minimum spacing between raw input samples.
const DefaultDebounceInterval = 200 * time.Millisecond

// Button debounces a single digital input and classifies press events.
// Sampling is rate limited to one raw read per debounce window; between
// windows Read always reports ButtonReleased. A one-shot gate makes each
// non-released state edge-triggered at debounce granularity: PRESSED and
// PRESSED_CONTINUOUSLY each fire at most once until a released sample is
// observed again.
type Button struct {
	level    func() bool // physical input, true when pressed
	now      func() time.Time
	interval time.Duration

	last      time.Time
	latched   bool
	firedDown bool
	firedHeld bool
}

// NewButton creates a button over the given level probe.
func NewButton(level func() bool, interval time.Duration) *Button {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	return &Button{level: level, now: time.Now, interval: interval}
}

// Read samples the input if a debounce window has elapsed and returns the
// classified state, or ButtonReleased when it is not yet time to sample.
func (b *Button) Read() ButtonState {
	now := b.now()
	if !b.last.IsZero() && now.Sub(b.last) <= b.interval {
		return ButtonReleased
	}
	b.last = now

	level := b.level()
	candidate := ButtonReleased
	switch {
	case level && !b.latched:
		b.latched = true
		candidate = ButtonPressed
	case level:
		candidate = ButtonPressedContinuously
	default:
		b.latched = false
	}

	switch candidate {
	case ButtonReleased:
		b.firedDown = false
		b.firedHeld = false
	case ButtonPressed:
		if !b.firedDown {
			b.firedDown = true
			return ButtonPressed
		}
	case ButtonPressedContinuously:
		if !b.firedHeld {
			b.firedHeld = true
			return ButtonPressedContinuously
		}
	}
	return ButtonReleased
}
