// Package transport opens byte streams to LED matrix devices. A device is
// addressed by a target URL; the scheme selects the transport:
//
//	ble://C8:F0:9E:12:34:56        Bluetooth LE, Nordic UART service
//	serial:///dev/rfcomm0?baud=38400
//	tcp://host:9000                firmware simulator over TCP
//	unix:///run/matrixnode.sock    firmware simulator over a Unix socket
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaudRate matches the HC-05 module configuration on the device.
const DefaultBaudRate = 38400

// ErrUnsupportedScheme is returned by Dial for an unknown target scheme.
var ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

// Conn is an open byte stream to a device. There is no framing at this
// layer; message boundaries are recovered upstream from wire silence.
type Conn interface {
	io.ReadWriteCloser
	// Target returns the target URL this connection was dialed with.
	Target() string
}

// Target is a parsed device address.
type Target struct {
	Scheme string
	// Address is the host:port for tcp, the path for unix and serial,
	// and the device address for ble.
	Address string
	Baud    int
}

// ParseTarget parses a target URL.
func ParseTarget(target string) (Target, error) {
	u, err := url.Parse(target)
	if err != nil {
		return Target{}, fmt.Errorf("transport: parse target %q: %w", target, err)
	}

	t := Target{Scheme: u.Scheme, Baud: DefaultBaudRate}
	switch u.Scheme {
	case "tcp":
		t.Address = u.Host
		if t.Address == "" {
			return Target{}, fmt.Errorf("transport: tcp target %q missing host", target)
		}
	case "unix":
		t.Address = u.Path
		if t.Address == "" {
			t.Address = u.Opaque
		}
		if t.Address == "" {
			return Target{}, fmt.Errorf("transport: unix target %q missing path", target)
		}
	case "serial":
		t.Address = u.Path
		if t.Address == "" {
			return Target{}, fmt.Errorf("transport: serial target %q missing device path", target)
		}
		if baud := u.Query().Get("baud"); baud != "" {
			b, convErr := strconv.Atoi(baud)
			if convErr != nil || b <= 0 {
				return Target{}, fmt.Errorf("transport: serial target %q has invalid baud %q", target, baud)
			}
			t.Baud = b
		}
	case "ble":
		t.Address = u.Host
		if t.Address == "" {
			t.Address = u.Opaque
		}
		if t.Address == "" {
			return Target{}, fmt.Errorf("transport: ble target %q missing device address", target)
		}
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return t, nil
}

// Dial opens a connection to the device named by target.
func Dial(ctx context.Context, target string) (Conn, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	switch t.Scheme {
	case "tcp", "unix":
		var d net.Dialer
		nc, dialErr := d.DialContext(ctx, t.Scheme, t.Address)
		if dialErr != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", target, dialErr)
		}
		return &netConn{Conn: nc, target: target}, nil
	case "serial":
		return openSerial(t.Address, t.Baud, target)
	case "ble":
		return dialBLE(ctx, t.Address, target)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, t.Scheme)
	}
}

// netConn wraps a net.Conn with its original target URL.
type netConn struct {
	net.Conn
	target string
}

func (c *netConn) Target() string { return c.target }

// connectTimeout bounds BLE connection establishment when the caller's
// context has no deadline of its own.
const connectTimeout = 30 * time.Second
