//go:build !linux

package transport

import "errors"

func openSerial(device string, baud int, target string) (Conn, error) {
	return nil, errors.New("transport: serial ports are only supported on linux")
}
