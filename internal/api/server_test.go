package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ledmatrix/matrixnode/internal/aggregator"
	"github.com/ledmatrix/matrixnode/internal/devices"
	"github.com/ledmatrix/matrixnode/internal/events"
	"github.com/ledmatrix/matrixnode/internal/firmware"
	"github.com/ledmatrix/matrixnode/internal/host"
	"github.com/ledmatrix/matrixnode/internal/transport"
)

const (
	testUser = "admin"
	testPass = "secret"
)

// pipeConn adapts a net.Conn to transport.Conn for tests.
type pipeConn struct {
	net.Conn
	target string
}

func (c *pipeConn) Target() string { return c.target }

type testRig struct {
	server *Server
	client *host.Client
	sink   *firmware.MemorySink
	bus    *events.Bus
}

// newTestRig builds a server whose client talks to a real firmware
// simulator over a pipe.
func newTestRig(t *testing.T) *testRig {
	t.Helper()

	hostSide, deviceSide := net.Pipe()
	t.Cleanup(func() {
		hostSide.Close()
		deviceSide.Close()
	})

	sink := firmware.NewMemorySink()
	dev := firmware.New(firmware.Config{
		Link:      firmware.NewStreamLink(deviceSide),
		Sink:      sink,
		Logger:    slog.New(slog.DiscardHandler),
		LoopDelay: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go dev.Run(ctx)

	bus := events.New()
	registry := devices.NewTOML(filepath.Join(t.TempDir(), "devices.toml"))
	if err := registry.Load(); err != nil {
		t.Fatal(err)
	}

	client := host.NewClient(bus, registry,
		host.WithLogger(slog.New(slog.DiscardHandler)),
		host.WithAggregatorOptions(
			aggregator.WithSilenceWindow(30*time.Millisecond),
			aggregator.WithPollInterval(2*time.Millisecond),
		),
	)
	client.Attach(&pipeConn{Conn: hostSide, target: "test://pipe"}, "test-device")
	t.Cleanup(client.Disconnect)

	server := NewServer(&Options{
		AuthUsername: testUser,
		AuthPassword: testPass,
		Client:       client,
		Registry:     registry,
		EventBus:     bus,
	})

	return &testRig{server: server, client: client, sink: sink, bus: bus}
}

// do runs a request against the server mux with basic auth.
func (r *testRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(testUser, testPass)
	rec := httptest.NewRecorder()
	r.server.GetMux().ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	rig := newTestRig(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	rig.server.GetMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestVersionNeedsNoAuth(t *testing.T) {
	rig := newTestRig(t)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	rig.server.GetMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		GoVersion string `json:"go_version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.GoVersion == "" {
		t.Error("go_version missing from version response")
	}
}

func TestAuthRequired(t *testing.T) {
	rig := newTestRig(t)

	req := httptest.NewRequest(http.MethodGet, "/api/leds", nil)
	rec := httptest.NewRecorder()
	rig.server.GetMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate header missing")
	}
}

func TestAuthRejectsBadPassword(t *testing.T) {
	rig := newTestRig(t)

	req := httptest.NewRequest(http.MethodGet, "/api/leds", nil)
	req.SetBasicAuth(testUser, "wrong")
	rec := httptest.NewRecorder()
	rig.server.GetMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestFillEndpoint(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodPost, "/api/leds/fill", `{"r":255,"g":0,"b":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Connected bool              `json:"connected"`
		Leds      []events.LEDState `json:"leds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Connected {
		t.Error("connected = false, want true")
	}
	if len(body.Leds) != 64 {
		t.Fatalf("len(leds) = %d, want 64", len(body.Leds))
	}
	for _, led := range body.Leds {
		if led.R != 255 || led.G != 0 || led.B != 0 {
			t.Fatalf("led %d = %+v, want red", led.ID, led)
		}
	}

	for i, c := range rig.sink.Snapshot() {
		if c.R != 255 {
			t.Fatalf("device led %d = %+v, want red", i, c)
		}
	}
}

func TestSetLedsEndpoint(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodPost, "/api/leds", `{"leds":[{"id":3,"r":0,"g":128,"b":0}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	snap := rig.sink.Snapshot()
	if snap[3].G != 128 {
		t.Errorf("device led 3 = %+v, want g=128", snap[3])
	}
}

func TestSetLedsLocalSkipsDevice(t *testing.T) {
	rig := newTestRig(t)

	// Park the device in BT mode so the animation stops flushing frames
	if rec := rig.do(t, http.MethodPost, "/api/leds/fill", `{"r":0,"g":0,"b":0}`); rec.Code != http.StatusOK {
		t.Fatalf("fill status = %d", rec.Code)
	}
	time.Sleep(20 * time.Millisecond)
	showsBefore := rig.sink.Shows()

	rec := rig.do(t, http.MethodPost, "/api/leds", `{"leds":[{"id":5,"r":9,"g":9,"b":9}],"local":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if got := rig.client.Leds()[5]; got.R != 9 {
		t.Errorf("mirror led 5 = %+v, want r=9", got)
	}
	time.Sleep(50 * time.Millisecond)
	if rig.sink.Shows() != showsBefore {
		t.Error("local update must not reach the device")
	}
}

func TestSetLedsRejectsOutOfRange(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodPost, "/api/leds", `{"leds":[{"id":64,"r":1,"g":1,"b":1}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetLedsSnapshot(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodGet, "/api/leds", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		DeviceID string            `json:"device_id"`
		Leds     []events.LEDState `json:"leds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.DeviceID != "test-device" {
		t.Errorf("device_id = %q", body.DeviceID)
	}
	if len(body.Leds) != 64 {
		t.Errorf("len(leds) = %d, want 64", len(body.Leds))
	}
}

func TestDeviceRegistryEndpoints(t *testing.T) {
	rig := newTestRig(t)

	// Register
	rec := rig.do(t, http.MethodPost, "/api/devices", `{"id":"desk","target":"tcp://localhost:9000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Bad target is rejected before touching the registry
	rec = rig.do(t, http.MethodPost, "/api/devices", `{"id":"bad","target":"ftp://nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad target status = %d, want 400", rec.Code)
	}

	// List
	rec = rig.do(t, http.MethodGet, "/api/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Count   int `json:"count"`
		Devices []struct {
			ID       string `json:"id"`
			Selected bool   `json:"selected"`
		} `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Devices[0].ID != "desk" {
		t.Fatalf("list = %+v", list)
	}
	if list.Devices[0].Selected {
		t.Error("device should not be selected yet")
	}

	// Remove
	rec = rig.do(t, http.MethodDelete, "/api/devices/desk", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", rec.Code)
	}
	rec = rig.do(t, http.MethodDelete, "/api/devices/desk", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second remove status = %d, want 404", rec.Code)
	}
}

func TestSelectUnknownDevice(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodPost, "/api/devices/ghost/select", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestScanPublishesDiscoveries(t *testing.T) {
	rig := newTestRig(t)

	// Stub the scanner so the test does not need a Bluetooth adapter
	rig.server.scan = func(_ context.Context, found func(transport.Discovered)) error {
		found(transport.Discovered{Address: "C8:F0:9E:12:34:56", Name: "LEDMATRIX", RSSI: -40})
		return nil
	}

	discoveries := make(chan events.DeviceDiscoveryEvent, 2)
	unsub := rig.bus.Subscribe(func(e events.DeviceDiscoveryEvent) { discoveries <- e })
	defer unsub()

	rec := rig.do(t, http.MethodPost, "/api/devices/scan", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	select {
	case ev := <-discoveries:
		if ev.DeviceID != "C8:F0:9E:12:34:56" || ev.Name != "LEDMATRIX" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no discovery event")
	}
}

func TestCORSPreflight(t *testing.T) {
	rig := newTestRig(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/leds", nil)
	rec := httptest.NewRecorder()
	rig.server.GetMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}
