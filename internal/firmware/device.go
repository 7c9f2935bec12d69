// Package firmware implements the matrix-side half of the protocol: the
// command dispatcher, the OFF/RANDOM/BT mode controller, the color fade
// animation and the debounced button. It runs the same cooperative
// single-threaded main loop the microcontroller runs, so it doubles as a
// full firmware simulator when wired to a socket instead of a UART.
package firmware

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ledmatrix/matrixnode/internal/protocol"
)

// Mode is the animation/control regime the device is in.
type Mode int

const (
	// ModeOff blanks the LEDs and suspends until a button wake edge.
	ModeOff Mode = iota
	// ModeRandom lets the animation engine drive the LEDs. Initial mode.
	ModeRandom
	// ModeBT holds whatever the peer last wrote; the loop keeps servicing
	// protocol bytes but the animation engine does not run.
	ModeBT
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeRandom:
		return "RANDOM"
	case ModeBT:
		return "BT"
	default:
		return "UNKNOWN"
	}
}

// Config wires a Device to its collaborators.
type Config struct {
	Link   ByteLink
	Sink   PixelSink
	Button *Button
	// Wake is signaled on a physical button edge and is the only thing
	// that resumes a device sleeping in ModeOff. Nil disables sleeping:
	// ModeOff then falls straight back to ModeRandom.
	Wake   <-chan struct{}
	Logger *slog.Logger
	Rand   *rand.Rand
	// LoopDelay is the idle pause between main-loop passes when no bytes
	// are pending. Defaults to 1ms.
	LoopDelay         time.Duration
	AnimationInterval time.Duration
}

// Device is the firmware state: the LED buffer (ground truth for READ),
// the mode, and the per-loop collaborators. All state is owned by the
// single goroutine running Run; there is no locking because the animation
// engine and the dispatcher never touch the buffer in the same pass.
type Device struct {
	link   ByteLink
	sink   PixelSink
	button *Button
	anim   *Animator
	wake   <-chan struct{}
	logger *slog.Logger
	now    func() time.Time
	delay  time.Duration

	colors [protocol.LEDCount]protocol.Color
	// mode is written only by the device goroutine but read by
	// observers (tests, status endpoints), hence the atomic.
	mode atomic.Int32
}

// New creates a device in ModeRandom with an all-black LED buffer.
func New(cfg Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	delay := cfg.LoopDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	d := &Device{
		link:   cfg.Link,
		sink:   cfg.Sink,
		button: cfg.Button,
		anim:   NewAnimator(rnd, cfg.AnimationInterval),
		wake:   cfg.Wake,
		logger: logger,
		now:    time.Now,
		delay:  delay,
	}
	d.mode.Store(int32(ModeRandom))
	return d
}

// Mode returns the current mode.
func (d *Device) Mode() Mode { return Mode(d.mode.Load()) }

// Colors returns a copy of the LED buffer.
func (d *Device) Colors() [protocol.LEDCount]protocol.Color { return d.colors }

// Run executes the cooperative main loop until ctx is canceled or the link
// fails. One pass services, strictly in sequence: button events, the mode
// action, and at most one protocol dispatch cycle.
func (d *Device) Run(ctx context.Context) error {
	d.logger.Info("boot finished", "leds", protocol.LEDCount)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.link.Closed():
			return ErrLinkClosed
		default:
		}

		if d.button != nil {
			switch d.button.Read() {
			case ButtonPressed:
				d.logger.Info("button pressed")
				d.setMode(ModeRandom)
			case ButtonPressedContinuously:
				d.logger.Info("button pressed continuously")
				d.setMode(ModeOff)
			}
		}

		switch d.Mode() {
		case ModeOff:
			d.sleep(ctx)
		case ModeRandom:
			if d.anim.Step(d.now(), &d.colors) {
				d.push()
			}
		case ModeBT:
			// quiescent: the peer owns the LEDs
		}

		if d.link.Available() {
			d.dispatch()
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.delay):
		}
	}
}

func (d *Device) setMode(m Mode) {
	old := d.Mode()
	if old == m {
		return
	}
	d.logger.Debug("mode changed", "from", old.String(), "to", m.String())
	d.mode.Store(int32(m))
}

// sleep blanks the LEDs and suspends until the next button wake edge. On
// wake the device reverts to ModeRandom, never back to ModeOff.
func (d *Device) sleep(ctx context.Context) {
	d.sink.Clear()
	d.sink.Show()

	if d.wake == nil {
		d.setMode(ModeRandom)
		return
	}

	d.logger.Info("sleeping")
	select {
	case <-ctx.Done():
		return
	case <-d.link.Closed():
		return
	case <-d.wake:
	}
	d.logger.Info("waking up")
	d.setMode(ModeRandom)
}

// push stages the whole LED buffer and flushes once.
func (d *Device) push() {
	for i, c := range d.colors {
		d.sink.SetPixel(i, c)
	}
	d.sink.Show()
}
