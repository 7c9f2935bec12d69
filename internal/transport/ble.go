package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Nordic UART Service UUIDs. The device's BLE bridge exposes its SPP byte
// stream through this service.
const (
	UARTServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	UARTRxCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // host writes here
	UARTTxCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // device notifies here
)

// bleWriteChunk is the largest write the UART characteristic accepts
// without MTU negotiation.
const bleWriteChunk = 20

// ErrBLEClosed is returned by BLE reads and writes after the connection
// dropped or was closed.
var ErrBLEClosed = errors.New("transport: ble connection closed")

// Discovered is a device found during a BLE scan.
type Discovered struct {
	Address string
	Name    string
	RSSI    int
}

// Scan discovers devices advertising the UART service until ctx is done.
// Each device is reported once through the callback.
func Scan(ctx context.Context, found func(Discovered)) error {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("transport: enable ble adapter: %w", err)
	}

	uuid, err := bluetooth.ParseUUID(UARTServiceUUID)
	if err != nil {
		return fmt.Errorf("transport: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	seen := make(map[string]bool)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			adapter.StopScan()
		case <-done:
		}
	}()

	err = adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		if seen[addr] {
			mu.Unlock()
			return
		}
		seen[addr] = true
		mu.Unlock()
		found(Discovered{
			Address: addr,
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("transport: scan: %w", err)
	}
	return nil
}

// bleConn is a Conn over the Nordic UART service. Notifications feed a
// channel; Read drains it with a leftover buffer for partial consumption.
type bleConn struct {
	device bluetooth.Device
	rx     bluetooth.DeviceCharacteristic
	target string

	incoming chan []byte
	leftover []byte

	closed    chan struct{}
	closeOnce sync.Once
}

// dialBLE connects to the device at addr and wires up the UART stream.
func dialBLE(ctx context.Context, addr string, target string) (Conn, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("transport: enable ble adapter: %w", err)
	}

	var address bluetooth.Address
	address.Set(addr)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	// The library's Connect blocks with its own timeout; wrap it so the
	// caller's ctx is honored too.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := adapter.Connect(address, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	var device bluetooth.Device
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("transport: connect to %s: %w", addr, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("transport: connect to %s: %w", addr, result.err)
		}
		device = result.device
	}

	svcUUID, _ := bluetooth.ParseUUID(UARTServiceUUID)
	rxUUID, _ := bluetooth.ParseUUID(UARTRxCharUUID)
	txUUID, _ := bluetooth.ParseUUID(UARTTxCharUUID)

	svcs, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("transport: discover services: %w", err)
	}
	if len(svcs) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("transport: device %s does not expose the UART service", addr)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{rxUUID, txUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("transport: discover characteristics: %w", err)
	}

	conn := &bleConn{
		device:   device,
		target:   target,
		incoming: make(chan []byte, 32),
		closed:   make(chan struct{}),
	}

	var haveRx, haveTx bool
	for _, char := range chars {
		switch char.UUID() {
		case rxUUID:
			conn.rx = char
			haveRx = true
		case txUUID:
			notifyErr := char.EnableNotifications(func(buf []byte) {
				data := make([]byte, len(buf))
				copy(data, buf)
				select {
				case conn.incoming <- data:
				case <-conn.closed:
				}
			})
			if notifyErr != nil {
				device.Disconnect()
				return nil, fmt.Errorf("transport: enable notifications: %w", notifyErr)
			}
			haveTx = true
		}
	}
	if !haveRx || !haveTx {
		device.Disconnect()
		return nil, fmt.Errorf("transport: device %s is missing UART characteristics", addr)
	}

	return conn, nil
}

func (c *bleConn) Read(buf []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(buf, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}

	select {
	case <-c.closed:
		return 0, ErrBLEClosed
	case data := <-c.incoming:
		n := copy(buf, data)
		if n < len(data) {
			c.leftover = data[n:]
		}
		return n, nil
	}
}

func (c *bleConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrBLEClosed
	default:
	}

	// Chunk to the UART characteristic's write size; the device reassembles
	// from the byte stream, boundaries do not matter.
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > bleWriteChunk {
			chunk = chunk[:bleWriteChunk]
		}
		n, err := c.rx.WriteWithoutResponse(chunk)
		if err != nil {
			return written, fmt.Errorf("transport: ble write: %w", err)
		}
		if n == 0 {
			n = len(chunk)
		}
		written += n
		p = p[n:]
		if len(p) > 0 {
			// Brief pacing keeps slow bridges from dropping packets
			time.Sleep(5 * time.Millisecond)
		}
	}
	return written, nil
}

func (c *bleConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.device.Disconnect()
	})
	return err
}

func (c *bleConn) Target() string { return c.target }
