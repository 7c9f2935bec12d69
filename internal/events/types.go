package events

// Event type constants for kelindar/event.
const (
	TypeLedsUpdated uint32 = iota + 1
	TypeLastError
	TypeConnectionState
	TypeDeviceDiscovery
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// LEDState is one LED in a published matrix snapshot.
type LEDState struct {
	ID uint8 `json:"id" example:"0" doc:"LED index"`
	R  uint8 `json:"r" example:"255" doc:"Red channel"`
	G  uint8 `json:"g" example:"0" doc:"Green channel"`
	B  uint8 `json:"b" example:"0" doc:"Blue channel"`
}

// LedsUpdatedEvent carries a full snapshot of the host's LED mirror. It is
// published after every local mutation and after every confirmed device
// read or write.
type LedsUpdatedEvent struct {
	Leds      []LEDState `json:"leds" doc:"All LEDs in ascending id order"`
	Source    string     `json:"source" example:"refresh" doc:"What produced the snapshot: local, write, fill, refresh"`
	Timestamp string     `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Snapshot timestamp"`
}

// Type returns the event type identifier for LedsUpdatedEvent.
func (e LedsUpdatedEvent) Type() uint32 { return TypeLedsUpdated }

// LastErrorEvent is the single user-facing error slot: the latest error
// wins, and a later successful exchange publishes an empty message to
// clear it.
type LastErrorEvent struct {
	Message   string `json:"message" example:"Timeout" doc:"Error text, empty when cleared"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for LastErrorEvent.
func (e LastErrorEvent) Type() uint32 { return TypeLastError }

// Cleared reports whether this event clears the error state.
func (e LastErrorEvent) Cleared() bool { return e.Message == "" }

// ConnectionStateEvent reports link lifecycle changes for one device.
type ConnectionStateEvent struct {
	DeviceID  string `json:"device_id" example:"C8:F0:9E:12:34:56" doc:"Device identifier"`
	State     string `json:"state" example:"connected" doc:"State: connecting, connected, disconnected"`
	Reason    string `json:"reason,omitempty" doc:"Failure detail when disconnected"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConnectionStateEvent.
func (e ConnectionStateEvent) Type() uint32 { return TypeConnectionState }

// DeviceDiscoveryEvent reports a device found during a scan.
type DeviceDiscoveryEvent struct {
	DeviceID  string `json:"device_id" example:"C8:F0:9E:12:34:56" doc:"Device address"`
	Name      string `json:"name,omitempty" example:"LEDMATRIX" doc:"Advertised name"`
	RSSI      int    `json:"rssi,omitempty" example:"-52" doc:"Signal strength in dBm"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceDiscoveryEvent.
func (e DeviceDiscoveryEvent) Type() uint32 { return TypeDeviceDiscovery }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"host" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
