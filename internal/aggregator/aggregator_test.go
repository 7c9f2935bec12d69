package aggregator

import (
	"bytes"
	"log/slog"
	"net"
	"testing"
	"time"
)

const testGap = 40 * time.Millisecond

func newTestAggregator(t *testing.T) (*Aggregator, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	agg := New(server,
		WithSilenceWindow(testGap),
		WithPollInterval(2*time.Millisecond),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	t.Cleanup(agg.Stop)
	return agg, client
}

func awaitMessage(t *testing.T, agg *Aggregator) []byte {
	t.Helper()
	select {
	case msg := <-agg.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message assembled")
		return nil
	}
}

func TestAggregatorCoalescesBurst(t *testing.T) {
	agg, client := newTestAggregator(t)

	// A response delivered in two transport chunks inside the silence
	// window must come out as one message.
	start := time.Now()
	if _, err := client.Write([]byte{0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(testGap / 4)
	if _, err := client.Write([]byte{0xAA, 0xBB}); err != nil {
		t.Fatal(err)
	}

	msg := awaitMessage(t, agg)
	if !bytes.Equal(msg, []byte{0x01, 0x00, 0xAA, 0xBB}) {
		t.Fatalf("message = % X", msg)
	}
	if elapsed := time.Since(start); elapsed < testGap {
		t.Errorf("message delivered after %v, before the silence window elapsed", elapsed)
	}

	select {
	case extra := <-agg.Messages():
		t.Fatalf("unexpected second message % X", extra)
	case <-time.After(2 * testGap):
	}
}

func TestAggregatorSeparatesBursts(t *testing.T) {
	agg, client := newTestAggregator(t)

	if _, err := client.Write([]byte{0x02, 0x00}); err != nil {
		t.Fatal(err)
	}
	first := awaitMessage(t, agg)

	if _, err := client.Write([]byte{0x03, 0x00}); err != nil {
		t.Fatal(err)
	}
	second := awaitMessage(t, agg)

	if !bytes.Equal(first, []byte{0x02, 0x00}) || !bytes.Equal(second, []byte{0x03, 0x00}) {
		t.Errorf("messages = % X / % X", first, second)
	}
}

func TestAggregatorReset(t *testing.T) {
	agg, client := newTestAggregator(t)

	// A stale complete message plus a partial accumulation
	if _, err := client.Write([]byte{0xFF, 0xFF}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * testGap) // let it become a pending message
	if _, err := client.Write([]byte{0x01}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond) // partial bytes accumulated, window still open

	agg.Reset()

	// Only traffic after the reset comes through
	if _, err := client.Write([]byte{0x02, 0x00}); err != nil {
		t.Fatal(err)
	}
	msg := awaitMessage(t, agg)
	if !bytes.Equal(msg, []byte{0x02, 0x00}) {
		t.Fatalf("message after reset = % X", msg)
	}
}

func TestAggregatorFlushesOnStreamClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	agg := New(server,
		WithSilenceWindow(time.Hour), // window never elapses on its own
		WithPollInterval(2*time.Millisecond),
		WithLogger(slog.New(slog.DiscardHandler)),
	)

	if _, err := client.Write([]byte{0x01, 0x00, 0x05}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	client.Close()

	msg := awaitMessage(t, agg)
	if !bytes.Equal(msg, []byte{0x01, 0x00, 0x05}) {
		t.Fatalf("final flush = % X", msg)
	}

	// Channel closes after the wind-down flush
	select {
	case _, ok := <-agg.Messages():
		if ok {
			t.Error("expected closed channel after stream close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("messages channel never closed")
	}

	if agg.Err() == nil {
		t.Error("Err should report the reader failure")
	}
}

func TestAggregatorStopErrIsNil(t *testing.T) {
	agg, _ := newTestAggregator(t)
	agg.Stop()
	if err := agg.Err(); err != nil {
		t.Errorf("Err after plain Stop = %v, want nil", err)
	}
}
