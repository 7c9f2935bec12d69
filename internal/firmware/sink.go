package firmware

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ledmatrix/matrixnode/internal/protocol"
)

// PixelSink is the opaque LED driving primitive: a pixel buffer that is
// pushed to hardware on Show. Implementations must tolerate being called
// from the single device goroutine only.
type PixelSink interface {
	// SetPixel stages a color for the LED at index i.
	SetPixel(i int, c protocol.Color)
	// Show pushes all staged pixels to the hardware.
	Show()
	// Clear stages black for every pixel.
	Clear()
}

// MemorySink is a PixelSink backed by process memory. The simulator uses it
// in place of a LED strip driver; tests inspect it through Snapshot.
type MemorySink struct {
	mu     sync.Mutex
	staged [protocol.LEDCount]protocol.Color
	shown  [protocol.LEDCount]protocol.Color
	shows  int
}

// NewMemorySink creates an all-black memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SetPixel implements PixelSink.
func (s *MemorySink) SetPixel(i int, c protocol.Color) {
	if i < 0 || i >= protocol.LEDCount {
		return
	}
	s.mu.Lock()
	s.staged[i] = c
	s.mu.Unlock()
}

// Show implements PixelSink.
func (s *MemorySink) Show() {
	s.mu.Lock()
	s.shown = s.staged
	s.shows++
	s.mu.Unlock()
}

// Clear implements PixelSink.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	s.staged = [protocol.LEDCount]protocol.Color{}
	s.mu.Unlock()
}

// Snapshot returns the pixels as of the last Show.
func (s *MemorySink) Snapshot() [protocol.LEDCount]protocol.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}

// Shows returns how many times the buffer was pushed.
func (s *MemorySink) Shows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shows
}

// LogSink is a MemorySink that reports each frame at debug level, so a
// headless simulator still shows what the matrix would display.
type LogSink struct {
	MemorySink
	logger *slog.Logger
}

// NewLogSink creates a log sink writing frame summaries to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Show implements PixelSink.
func (s *LogSink) Show() {
	s.MemorySink.Show()
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	snap := s.Snapshot()
	lit := 0
	for _, c := range snap {
		if c != (protocol.Color{}) {
			lit++
		}
	}
	s.logger.Debug("frame shown", "lit", lit, "shows", s.Shows())
}
