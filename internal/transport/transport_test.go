package transport

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target  string
		want    Target
		wantErr bool
	}{
		{
			target: "tcp://localhost:9000",
			want:   Target{Scheme: "tcp", Address: "localhost:9000", Baud: DefaultBaudRate},
		},
		{
			target: "unix:///run/matrixnode.sock",
			want:   Target{Scheme: "unix", Address: "/run/matrixnode.sock", Baud: DefaultBaudRate},
		},
		{
			target: "serial:///dev/rfcomm0",
			want:   Target{Scheme: "serial", Address: "/dev/rfcomm0", Baud: DefaultBaudRate},
		},
		{
			target: "serial:///dev/ttyUSB0?baud=115200",
			want:   Target{Scheme: "serial", Address: "/dev/ttyUSB0", Baud: 115200},
		},
		{
			target: "ble://C8:F0:9E:12:34:56",
			want:   Target{Scheme: "ble", Address: "C8:F0:9E:12:34:56", Baud: DefaultBaudRate},
		},
		{target: "ftp://example.com", wantErr: true},
		{target: "tcp://", wantErr: true},
		{target: "serial://", wantErr: true},
		{target: "serial:///dev/ttyUSB0?baud=fast", wantErr: true},
		{target: "ble://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := ParseTarget(tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q) = %+v, want error", tt.target, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q): %v", tt.target, err)
			}
			if got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.target, got, tt.want)
			}
		})
	}
}

func TestDialUnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://example.com")
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr == nil {
			accepted <- conn
		}
	}()

	target := "tcp://" + ln.Addr().String()
	conn, err := Dial(context.Background(), target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if conn.Target() != target {
		t.Errorf("Target() = %q, want %q", conn.Target(), target)
	}

	peer := <-accepted
	defer peer.Close()

	if _, err := conn.Write([]byte{0x01}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := peer.Read(buf); err != nil || buf[0] != 0x01 {
		t.Fatalf("peer read = % X, %v", buf, err)
	}
}

func TestDialUnix(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "fw.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr == nil {
			conn.Close()
		}
	}()

	conn, err := Dial(context.Background(), "unix://"+sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestDialRefused(t *testing.T) {
	// Grab a free port, then close the listener so the dial is refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "tcp://"+addr); err == nil {
		t.Error("Dial to a closed port should fail")
	}
}
