// Package aggregator reassembles response messages from a byte stream that
// has no framing. The device writes each response in one burst, so a gap of
// silence on the wire marks the end of a message.
package aggregator

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSilenceWindow is the quiet period that ends a message.
	DefaultSilenceWindow = 50 * time.Millisecond
	// defaultPollInterval is how often the detector checks for silence.
	defaultPollInterval = 5 * time.Millisecond
	// messageBacklog bounds how many complete messages can sit unconsumed.
	messageBacklog = 8
)

// ErrStopped is returned by Err when the aggregator was stopped explicitly.
var ErrStopped = errors.New("aggregator: stopped")

// Aggregator turns a raw byte stream into discrete messages using a silence
// window. A reader goroutine accumulates bytes; a detector goroutine flushes
// the accumulated buffer once no byte has arrived for the silence window.
type Aggregator struct {
	r      io.Reader
	gap    time.Duration
	poll   time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	buf  []byte
	last time.Time
	err  error

	msgs     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSilenceWindow overrides the silence window. Mostly for tests.
func WithSilenceWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.gap = d }
}

// WithPollInterval overrides the detector poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.poll = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// New creates an aggregator over r and starts its goroutines. The caller
// owns r and must close it separately; closing r unblocks the reader and
// winds the aggregator down after a final flush.
func New(r io.Reader, opts ...Option) *Aggregator {
	a := &Aggregator{
		r:      r,
		gap:    DefaultSilenceWindow,
		poll:   defaultPollInterval,
		logger: slog.Default(),
		msgs:   make(chan []byte, messageBacklog),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.readLoop()
	go a.detectLoop()
	return a
}

// Messages returns the channel of complete messages. The channel is closed
// after Stop or a reader failure once the final flush is delivered.
func (a *Aggregator) Messages() <-chan []byte {
	return a.msgs
}

// Reset discards any partially accumulated bytes and any complete messages
// not yet consumed. Call it before sending a command so the next message
// on the wire is the response to that command.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.buf = nil
	a.mu.Unlock()

	for {
		select {
		case _, ok := <-a.msgs:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Stop shuts the detector down. The reader goroutine exits when the
// underlying stream is closed by its owner.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		if a.err == nil {
			a.err = ErrStopped
		}
		a.mu.Unlock()
		close(a.done)
	})
}

// Err returns the reader error after the aggregator has wound down.
func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if errors.Is(a.err, ErrStopped) {
		return nil
	}
	return a.err
}

func (a *Aggregator) readLoop() {
	chunk := make([]byte, 512)
	for {
		n, err := a.r.Read(chunk)
		if n > 0 {
			a.mu.Lock()
			a.buf = append(a.buf, chunk[:n]...)
			a.last = time.Now()
			a.mu.Unlock()
		}
		if err != nil {
			a.mu.Lock()
			if a.err == nil {
				a.err = err
			}
			a.mu.Unlock()
			a.stopOnce.Do(func() { close(a.done) })
			return
		}
	}
}

func (a *Aggregator) detectLoop() {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	defer close(a.msgs)

	for {
		select {
		case <-a.done:
			// Final flush so a response racing the shutdown is not lost
			a.flush(true)
			return
		case now := <-ticker.C:
			if msg := a.takeIfQuiet(now, false); msg != nil {
				a.deliver(msg)
			}
		}
	}
}

// flush publishes whatever is buffered regardless of the silence window.
func (a *Aggregator) flush(force bool) {
	if msg := a.takeIfQuiet(time.Now(), force); msg != nil {
		a.deliver(msg)
	}
}

// takeIfQuiet snapshots and clears the buffer when the wire has been quiet
// for the silence window (or unconditionally when force is set).
func (a *Aggregator) takeIfQuiet(now time.Time, force bool) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf) == 0 {
		return nil
	}
	if !force && now.Sub(a.last) < a.gap {
		return nil
	}
	msg := a.buf
	a.buf = nil
	return msg
}

func (a *Aggregator) deliver(msg []byte) {
	a.logger.Debug("message assembled", "bytes", len(msg))
	select {
	case a.msgs <- msg:
	default:
		// Consumer fell behind; the oldest unread message is stale anyway
		select {
		case <-a.msgs:
		default:
		}
		select {
		case a.msgs <- msg:
		default:
		}
	}
}
