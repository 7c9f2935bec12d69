package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan LedsUpdatedEvent, 1)

	unsub := bus.Subscribe(func(e LedsUpdatedEvent) {
		received <- e
	})
	defer unsub()

	event := LedsUpdatedEvent{
		Leds:      []LEDState{{ID: 0, R: 255}},
		Source:    "write",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Source != event.Source {
		t.Errorf("Expected source %s, got %s", event.Source, got.Source)
	}
	if len(got.Leds) != 1 || got.Leds[0].R != 255 {
		t.Errorf("Expected one red LED, got %+v", got.Leds)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan ConnectionStateEvent, 1)
	received2 := make(chan ConnectionStateEvent, 1)

	unsub1 := bus.Subscribe(func(e ConnectionStateEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e ConnectionStateEvent) {
		received2 <- e
	})
	defer unsub2()

	event := ConnectionStateEvent{
		DeviceID: "C8:F0:9E:12:34:56",
		State:    "connected",
	}
	bus.Publish(event)

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan LastErrorEvent, 1)

	unsub := bus.Subscribe(func(e LastErrorEvent) {
		received <- e
	})

	bus.Publish(LastErrorEvent{Message: "Timeout"})
	<-received

	unsub()

	bus.Publish(LastErrorEvent{Message: "Timeout"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	ledsReceived := make(chan bool, 1)
	errorReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ LedsUpdatedEvent) {
		ledsReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ LastErrorEvent) {
		errorReceived <- true
	})
	defer unsub2()

	// Publish LedsUpdatedEvent
	bus.Publish(LedsUpdatedEvent{Source: "local"})
	<-ledsReceived

	select {
	case <-errorReceived:
		t.Fatal("Error subscriber should NOT have received LedsUpdatedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	// Publish LastErrorEvent
	bus.Publish(LastErrorEvent{Message: "Timeout"})
	<-errorReceived

	select {
	case <-ledsReceived:
		t.Fatal("Leds subscriber should NOT have received LastErrorEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ DeviceDiscoveryEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(DeviceDiscoveryEvent{
					DeviceID:  "C8:F0:9E:12:34:56",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	// Read all expected events
	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"LedsUpdated", LedsUpdatedEvent{Source: "refresh"}},
		{"LastError", LastErrorEvent{Message: "Timeout"}},
		{"ConnectionState", ConnectionStateEvent{State: "connected"}},
		{"DeviceDiscovery", DeviceDiscoveryEvent{DeviceID: "C8:F0:9E:12:34:56"}},
		{"LogEntry", LogEntryEvent{Level: "info", Message: "test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case LedsUpdatedEvent:
				unsub = bus.Subscribe(func(e LedsUpdatedEvent) { received <- e })
			case LastErrorEvent:
				unsub = bus.Subscribe(func(e LastErrorEvent) { received <- e })
			case ConnectionStateEvent:
				unsub = bus.Subscribe(func(e ConnectionStateEvent) { received <- e })
			case DeviceDiscoveryEvent:
				unsub = bus.Subscribe(func(e DeviceDiscoveryEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestLastErrorEvent_Cleared(t *testing.T) {
	if (LastErrorEvent{Message: "Timeout"}).Cleared() {
		t.Error("Non-empty message should not report cleared")
	}
	if !(LastErrorEvent{}).Cleared() {
		t.Error("Empty message should report cleared")
	}
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
	}{
		{
			"LedsUpdatedEvent",
			LedsUpdatedEvent{
				Leds:      []LEDState{{ID: 5, R: 10, G: 20, B: 30}},
				Source:    "write",
				Timestamp: "2025-01-27T10:30:00Z",
			},
		},
		{
			"ConnectionStateEvent",
			ConnectionStateEvent{
				DeviceID:  "C8:F0:9E:12:34:56",
				State:     "disconnected",
				Reason:    "read: connection reset",
				Timestamp: "2025-01-27T10:30:00Z",
			},
		},
		{
			"DeviceDiscoveryEvent",
			DeviceDiscoveryEvent{
				DeviceID:  "C8:F0:9E:12:34:56",
				Name:      "LEDMATRIX",
				RSSI:      -52,
				Timestamp: "2025-01-27T10:30:00Z",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if len(result) == 0 {
				t.Fatal("Unmarshaled to empty object")
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[DeviceDiscoveryEvent](bus, ch)
	defer unsub()

	event := DeviceDiscoveryEvent{
		DeviceID: "C8:F0:9E:12:34:56",
		Name:     "LEDMATRIX",
	}
	bus.Publish(event)

	received := <-ch
	discovery, ok := received.(DeviceDiscoveryEvent)
	if !ok {
		t.Fatalf("Expected DeviceDiscoveryEvent, got %T", received)
	}
	if discovery.DeviceID != event.DeviceID {
		t.Errorf("Expected device_id %s, got %s", event.DeviceID, discovery.DeviceID)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[LedsUpdatedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(LedsUpdatedEvent{Source: "local"})
		done <- true
	}()

	<-done // Should complete without blocking
}
