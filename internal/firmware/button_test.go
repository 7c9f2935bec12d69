package firmware

import (
	"testing"
	"time"
)

// buttonHarness drives a Button with a manual clock and level.
type buttonHarness struct {
	b     *Button
	now   time.Time
	level bool
}

func newButtonHarness() *buttonHarness {
	h := &buttonHarness{now: time.Unix(1000, 0)}
	h.b = NewButton(func() bool { return h.level }, 200*time.Millisecond)
	h.b.now = func() time.Time { return h.now }
	return h
}

// tick advances past one debounce window and reads.
func (h *buttonHarness) tick() ButtonState {
	h.now = h.now.Add(201 * time.Millisecond)
	return h.b.Read()
}

func TestButtonShortPress(t *testing.T) {
	h := newButtonHarness()

	if got := h.tick(); got != ButtonReleased {
		t.Fatalf("idle read = %v", got)
	}

	h.level = true
	if got := h.tick(); got != ButtonPressed {
		t.Fatalf("press read = %v, want PRESSED", got)
	}

	h.level = false
	if got := h.tick(); got != ButtonReleased {
		t.Fatalf("release read = %v", got)
	}
}

func TestButtonLongPress(t *testing.T) {
	h := newButtonHarness()

	h.level = true
	if got := h.tick(); got != ButtonPressed {
		t.Fatalf("first sample = %v, want PRESSED", got)
	}
	if got := h.tick(); got != ButtonPressedContinuously {
		t.Fatalf("second sample = %v, want PRESSED_CONTINUOUSLY", got)
	}
	// held further: the one-shot gate suppresses repeats
	for i := 0; i < 5; i++ {
		if got := h.tick(); got != ButtonReleased {
			t.Fatalf("held sample %d = %v, want RELEASED", i, got)
		}
	}
}

func TestButtonGateResetsOnRelease(t *testing.T) {
	h := newButtonHarness()

	h.level = true
	h.tick() // PRESSED
	h.tick() // PRESSED_CONTINUOUSLY
	h.level = false
	if got := h.tick(); got != ButtonReleased {
		t.Fatalf("release = %v", got)
	}

	// gate reopened: a fresh press fires again
	h.level = true
	if got := h.tick(); got != ButtonPressed {
		t.Fatalf("second press = %v, want PRESSED", got)
	}
}

func TestButtonRateLimited(t *testing.T) {
	h := newButtonHarness()
	h.level = true
	h.tick() // consume the press

	// reads inside the same debounce window always report RELEASED
	for i := 0; i < 10; i++ {
		h.now = h.now.Add(time.Millisecond)
		if got := h.b.Read(); got != ButtonReleased {
			t.Fatalf("in-window read %d = %v, want RELEASED", i, got)
		}
	}
}
