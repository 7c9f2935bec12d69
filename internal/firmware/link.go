package firmware

import (
	"errors"
	"io"
	"sync"
)

// ErrLinkClosed is returned by StreamLink reads and writes after the
// underlying stream failed or reached EOF.
var ErrLinkClosed = errors.New("firmware: link closed")

// ByteLink is the device's view of the serial link: non-blocking byte reads
// driven by an availability poll, plus blocking frame writes. The main loop
// must keep running its animation and button work while no bytes are
// pending, so reads never block.
type ByteLink interface {
	// Available reports whether at least one byte can be read right now.
	Available() bool
	// ReadByte pops one buffered byte. It returns an error only on
	// transport failure, which aborts the current dispatch cycle.
	ReadByte() (byte, error)
	// Write sends a response frame to the peer.
	Write(p []byte) error
	// Closed is closed once the transport has failed or reached EOF.
	Closed() <-chan struct{}
}

// StreamLink adapts a blocking byte stream to the ByteLink polling model.
// A pump goroutine reads the stream into a buffer; each transport read is
// appended under the lock as one unit, so a frame delivered in a single
// read becomes visible to the dispatcher atomically rather than byte by
// byte.
type StreamLink struct {
	rw io.ReadWriter

	mu  sync.Mutex
	buf []byte

	closed  chan struct{}
	errOnce sync.Once
	err     error
	wmu     sync.Mutex
}

// NewStreamLink wraps rw and starts the pump goroutine.
func NewStreamLink(rw io.ReadWriter) *StreamLink {
	l := &StreamLink{
		rw:     rw,
		closed: make(chan struct{}),
	}
	go l.pump()
	return l
}

func (l *StreamLink) pump() {
	chunk := make([]byte, 256)
	for {
		n, err := l.rw.Read(chunk)
		if n > 0 {
			l.mu.Lock()
			l.buf = append(l.buf, chunk[:n]...)
			l.mu.Unlock()
		}
		if err != nil {
			l.fail(err)
			return
		}
	}
}

func (l *StreamLink) fail(err error) {
	l.errOnce.Do(func() {
		l.err = err
		close(l.closed)
	})
}

// Available implements ByteLink.
func (l *StreamLink) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf) > 0
}

// ReadByte implements ByteLink.
func (l *StreamLink) ReadByte() (byte, error) {
	l.mu.Lock()
	if len(l.buf) > 0 {
		b := l.buf[0]
		l.buf = l.buf[1:]
		if len(l.buf) == 0 {
			l.buf = nil
		}
		l.mu.Unlock()
		return b, nil
	}
	l.mu.Unlock()

	select {
	case <-l.closed:
		return 0, ErrLinkClosed
	default:
		return 0, io.ErrNoProgress
	}
}

// Write implements ByteLink.
func (l *StreamLink) Write(p []byte) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.rw.Write(p); err != nil {
		l.fail(err)
		return err
	}
	return nil
}

// Closed implements ByteLink.
func (l *StreamLink) Closed() <-chan struct{} {
	return l.closed
}

// Err returns the transport error that closed the link, if any.
func (l *StreamLink) Err() error {
	select {
	case <-l.closed:
		return l.err
	default:
		return nil
	}
}
