// Package host implements the controller side of the LED matrix protocol:
// it owns the device link, serializes command exchanges over it, keeps a
// local mirror of the matrix and broadcasts changes on the event bus.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ledmatrix/matrixnode/internal/aggregator"
	"github.com/ledmatrix/matrixnode/internal/devices"
	"github.com/ledmatrix/matrixnode/internal/events"
	"github.com/ledmatrix/matrixnode/internal/metrics"
	"github.com/ledmatrix/matrixnode/internal/protocol"
	"github.com/ledmatrix/matrixnode/internal/transport"
)

// DefaultResponseTimeout is how long an exchange waits for the device's
// response message before giving up.
const DefaultResponseTimeout = 500 * time.Millisecond

var (
	// ErrNotConnected is returned when no device link is open.
	ErrNotConnected = errors.New("host: not connected")
	// ErrTimeout is returned when the device does not answer in time.
	ErrTimeout = errors.New("host: response timeout")
)

// Client talks to one LED matrix at a time. All exchanges go through a
// single mutex: the protocol has no request ids, so only one command may
// be in flight per link.
type Client struct {
	bus      *events.Bus
	registry devices.Registry
	logger   *slog.Logger
	timeout  time.Duration
	aggOpts  []aggregator.Option
	dial     func(ctx context.Context, target string) (transport.Conn, error)

	mu       sync.Mutex
	conn     transport.Conn
	agg      *aggregator.Aggregator
	deviceID string

	ledMu    sync.RWMutex
	leds     [protocol.LEDCount]protocol.Color
	errIsSet bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithResponseTimeout overrides the response timeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithAggregatorOptions passes options to the response aggregator.
// Mostly for tests that shrink the silence window.
func WithAggregatorOptions(opts ...aggregator.Option) Option {
	return func(c *Client) { c.aggOpts = opts }
}

// WithDialer overrides the transport dialer.
func WithDialer(dial func(ctx context.Context, target string) (transport.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

// NewClient creates a client publishing on bus and persisting device
// selection in registry. The registry may be nil.
func NewClient(bus *events.Bus, registry devices.Registry, opts ...Option) *Client {
	c := &Client{
		bus:      bus,
		registry: registry,
		logger:   slog.Default(),
		timeout:  DefaultResponseTimeout,
		dial:     transport.Dial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the device and takes over its link. Any previous link is
// closed first.
func (c *Client) Connect(ctx context.Context, dev devices.Device) error {
	c.Disconnect()

	c.publishState(dev.ID, "connecting", "")
	conn, err := c.dial(ctx, dev.Target)
	if err != nil {
		c.publishState(dev.ID, "disconnected", err.Error())
		c.publishError(fmt.Sprintf("Connect failed: %v", err))
		return fmt.Errorf("host: connect %s: %w", dev.ID, err)
	}

	c.Attach(conn, dev.ID)
	return nil
}

// Attach adopts an already open link. Used by Connect and by tests that
// wire the client straight to a simulated device.
func (c *Client) Attach(conn transport.Conn, deviceID string) {
	c.mu.Lock()
	c.conn = conn
	c.deviceID = deviceID
	aggOpts := append([]aggregator.Option{aggregator.WithLogger(c.logger)}, c.aggOpts...)
	c.agg = aggregator.New(conn, aggOpts...)
	c.mu.Unlock()

	metrics.SetConnected(true)
	c.publishState(deviceID, "connected", "")
	c.logger.Info("device connected", "device_id", deviceID, "target", conn.Target())

	if c.registry != nil {
		if err := c.registry.Update(deviceID, devices.Device{LastSeen: time.Now()}); err != nil {
			c.logger.Debug("device registry update failed", "error", err)
		}
	}
}

// Disconnect closes the current link, if any.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, agg, deviceID := c.conn, c.agg, c.deviceID
	c.conn, c.agg, c.deviceID = nil, nil, ""
	c.mu.Unlock()

	if conn == nil {
		return
	}
	agg.Stop()
	conn.Close()
	metrics.SetConnected(false)
	c.publishState(deviceID, "disconnected", "")
	c.logger.Info("device disconnected", "device_id", deviceID)
}

// Connected reports whether a device link is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// DeviceID returns the id of the connected device, empty when offline.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// SelectDevice persists id as the active device and connects to it.
func (c *Client) SelectDevice(ctx context.Context, id string) error {
	if c.registry == nil {
		return errors.New("host: no device registry configured")
	}
	dev, ok := c.registry.Get(id)
	if !ok {
		return fmt.Errorf("host: device %s not found", id)
	}
	if err := c.registry.Select(id); err != nil {
		return err
	}
	return c.Connect(ctx, dev)
}

// Leds returns a copy of the local matrix mirror.
func (c *Client) Leds() [protocol.LEDCount]protocol.Color {
	c.ledMu.RLock()
	defer c.ledMu.RUnlock()
	return c.leds
}

// SetLocalColor updates one LED in the local mirror without talking to the
// device. The change reaches the hardware on the next SendColors.
func (c *Client) SetLocalColor(id uint8, color protocol.Color) error {
	if int(id) >= protocol.LEDCount {
		return fmt.Errorf("host: led %d out of range", id)
	}
	c.ledMu.Lock()
	c.leds[id] = color
	c.ledMu.Unlock()
	c.publishLeds("local")
	return nil
}

// SendColors writes the given LEDs to the device, splitting into bursts of
// at most protocol.MaxWriteRecords records, and updates the mirror.
func (c *Client) SendColors(ctx context.Context, leds []protocol.LED) error {
	if len(leds) == 0 {
		return nil
	}
	for _, led := range leds {
		if int(led.ID) >= protocol.LEDCount {
			return fmt.Errorf("host: led %d out of range", led.ID)
		}
	}

	// A uniform full-coverage batch collapses to one SET_LEDS_ALL command
	if color, uniform := uniformCoverage(leds); uniform {
		return c.Fill(ctx, color)
	}

	for start := 0; start < len(leds); start += protocol.MaxWriteRecords {
		end := min(start+protocol.MaxWriteRecords, len(leds))
		chunk := leds[start:end]

		cmd, err := protocol.EncodeWrite(chunk)
		if err != nil {
			return err
		}
		resp, err := c.exchange(ctx, cmd)
		if err != nil {
			return err
		}
		if err := checkStatus(resp, protocol.OpWrite); err != nil {
			c.publishError(err.Error())
			return err
		}

		c.ledMu.Lock()
		for _, led := range chunk {
			c.leds[led.ID] = led.Color
		}
		c.ledMu.Unlock()
	}

	c.clearError()
	c.publishLeds("write")
	return nil
}

// uniformCoverage reports whether leds assigns one color to every LED.
func uniformCoverage(leds []protocol.LED) (protocol.Color, bool) {
	if len(leds) < protocol.LEDCount {
		return protocol.Color{}, false
	}
	color := leds[0].Color
	var seen [protocol.LEDCount]bool
	covered := 0
	for _, led := range leds {
		if led.Color != color {
			return protocol.Color{}, false
		}
		if !seen[led.ID] {
			seen[led.ID] = true
			covered++
		}
	}
	return color, covered == protocol.LEDCount
}

// Fill sets every LED to one color with a single SET_LEDS_ALL command.
func (c *Client) Fill(ctx context.Context, color protocol.Color) error {
	resp, err := c.exchange(ctx, protocol.EncodeWriteAll(color))
	if err != nil {
		return err
	}
	if err := checkStatus(resp, protocol.OpWriteAll); err != nil {
		c.publishError(err.Error())
		return err
	}

	c.ledMu.Lock()
	for i := range c.leds {
		c.leds[i] = color
	}
	c.ledMu.Unlock()

	c.clearError()
	c.publishLeds("fill")
	return nil
}

// Refresh reads the full matrix state from the device into the mirror.
func (c *Client) Refresh(ctx context.Context) error {
	resp, err := c.exchange(ctx, protocol.EncodeRead())
	if err != nil {
		return err
	}
	if err := checkStatus(resp, protocol.OpRead); err != nil {
		c.publishError(err.Error())
		return err
	}

	leds, err := protocol.DecodeRecords(resp.Data)
	if err != nil {
		err = fmt.Errorf("host: malformed GET_LEDS payload: %w", err)
		c.publishError(err.Error())
		return err
	}

	c.ledMu.Lock()
	for _, led := range leds {
		if int(led.ID) < protocol.LEDCount {
			c.leds[led.ID] = led.Color
		}
	}
	c.ledMu.Unlock()

	c.clearError()
	c.publishLeds("refresh")
	return nil
}

// exchange sends one command and waits for the device's response message.
// The mutex holds for the whole round trip: one command in flight per link.
func (c *Client) exchange(ctx context.Context, cmd []byte) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return protocol.Response{}, ErrNotConnected
	}

	// Drop anything left over from a previous exchange so the next
	// assembled message is the response to this command
	c.agg.Reset()

	if _, err := c.conn.Write(cmd); err != nil {
		c.failLocked(err)
		return protocol.Response{}, fmt.Errorf("host: write command: %w", err)
	}
	metrics.AddBytesWritten(len(cmd))

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	case <-timer.C:
		metrics.ObserveTimeout()
		metrics.ObserveCommand(protocol.Opcode(cmd[0]).String(), "TIMEOUT")
		c.publishError("Timeout")
		c.logger.Warn("response timeout", "opcode", protocol.Opcode(cmd[0]).String())
		return protocol.Response{}, ErrTimeout
	case msg, ok := <-c.agg.Messages():
		if !ok {
			err := c.agg.Err()
			if err == nil {
				err = ErrNotConnected
			}
			c.failLocked(err)
			return protocol.Response{}, fmt.Errorf("host: link lost: %w", err)
		}
		metrics.AddBytesRead(len(msg))

		resp, err := protocol.DecodeResponse(msg)
		if err != nil {
			c.publishError(err.Error())
			return protocol.Response{}, err
		}
		metrics.ObserveCommand(resp.Opcode.String(), resp.Status.String())
		c.logger.Debug("exchange complete",
			"opcode", resp.Opcode.String(),
			"status", resp.Status.String(),
			"data_bytes", len(resp.Data))
		return resp, nil
	}
}

// failLocked tears the link down after a transport failure. Caller holds mu.
func (c *Client) failLocked(err error) {
	conn, agg, deviceID := c.conn, c.agg, c.deviceID
	c.conn, c.agg, c.deviceID = nil, nil, ""
	if conn == nil {
		return
	}
	agg.Stop()
	conn.Close()
	metrics.SetConnected(false)
	c.publishState(deviceID, "disconnected", err.Error())
	c.publishError(fmt.Sprintf("Connection lost: %v", err))
	c.logger.Warn("link failed", "device_id", deviceID, "error", err)
}

func checkStatus(resp protocol.Response, want protocol.Opcode) error {
	if resp.Opcode != want {
		return fmt.Errorf("host: response opcode %s does not match command %s", resp.Opcode, want)
	}
	if !resp.OK() {
		return fmt.Errorf("host: device rejected %s: %s", want, resp.Status)
	}
	return nil
}

func (c *Client) publishLeds(source string) {
	snapshot := c.Leds()
	leds := make([]events.LEDState, protocol.LEDCount)
	for i, color := range snapshot {
		leds[i] = events.LEDState{ID: uint8(i), R: color.R, G: color.G, B: color.B}
	}
	c.bus.Publish(events.LedsUpdatedEvent{
		Leds:      leds,
		Source:    source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Client) publishState(deviceID, state, reason string) {
	c.bus.Publish(events.ConnectionStateEvent{
		DeviceID:  deviceID,
		State:     state,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Client) publishError(msg string) {
	c.ledMu.Lock()
	c.errIsSet = true
	c.ledMu.Unlock()
	c.bus.Publish(events.LastErrorEvent{
		Message:   msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// clearError publishes an empty error event after a successful exchange,
// but only if an error was showing.
func (c *Client) clearError() {
	c.ledMu.Lock()
	wasSet := c.errIsSet
	c.errIsSet = false
	c.ledMu.Unlock()
	if wasSet {
		c.bus.Publish(events.LastErrorEvent{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
