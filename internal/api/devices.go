package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ledmatrix/matrixnode/internal/api/models"
	"github.com/ledmatrix/matrixnode/internal/devices"
	"github.com/ledmatrix/matrixnode/internal/events"
	"github.com/ledmatrix/matrixnode/internal/transport"
)

// DeviceIDInput carries the device id path parameter.
type DeviceIDInput struct {
	DeviceID string `path:"device_id" example:"hc05-desk" doc:"Stable device identifier"`
}

// ScanInput bounds how long a discovery scan runs.
type ScanInput struct {
	Duration int `query:"duration" default:"10" minimum:"1" maximum:"120" doc:"Scan duration in seconds"`
}

// apiDevice converts a registry entry to its API representation.
func apiDevice(dev devices.Device, selected bool) models.DeviceInfo {
	info := models.DeviceInfo{
		ID:        dev.ID,
		Name:      dev.Name,
		Target:    dev.Target,
		LastError: dev.LastError,
		Selected:  selected,
	}
	if !dev.AddedAt.IsZero() {
		info.AddedAt = dev.AddedAt.Format(time.RFC3339)
	}
	if !dev.LastSeen.IsZero() {
		info.LastSeen = dev.LastSeen.Format(time.RFC3339)
	}
	return info
}

// registerDeviceRoutes registers the device registry and discovery endpoints.
func (s *Server) registerDeviceRoutes() {
	// List registered devices
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List all registered matrix devices",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.DevicesResponse, error) {
		selected, _ := s.registry.Selected()
		all := s.registry.All()
		list := make([]models.DeviceInfo, len(all))
		for i, dev := range all {
			list[i] = apiDevice(dev, dev.ID == selected.ID)
		}
		return &models.DevicesResponse{
			Body: models.DevicesData{Devices: list, Count: len(list)},
		}, nil
	})

	// Register a device
	huma.Register(s.api, huma.Operation{
		OperationID:   "add-device",
		Method:        http.MethodPost,
		Path:          "/api/devices",
		Summary:       "Add Device",
		Description:   "Register a matrix device by id and transport target",
		Tags:          []string{"devices"},
		DefaultStatus: http.StatusCreated,
		Security:      withAuth(),
		Errors:        []int{400, 401, 500},
	}, func(ctx context.Context, input *models.AddDeviceRequest) (*models.DeviceResponse, error) {
		if _, err := transport.ParseTarget(input.Body.Target); err != nil {
			return nil, huma.Error400BadRequest("Invalid target", err)
		}

		dev := devices.Device{
			ID:     input.Body.ID,
			Name:   input.Body.Name,
			Target: input.Body.Target,
		}
		if err := s.registry.Add(dev); err != nil {
			return nil, huma.Error400BadRequest("Invalid device", err)
		}

		added, _ := s.registry.Get(input.Body.ID)
		selected, _ := s.registry.Selected()
		return &models.DeviceResponse{Body: apiDevice(added, added.ID == selected.ID)}, nil
	})

	// Remove a device
	huma.Register(s.api, huma.Operation{
		OperationID:   "remove-device",
		Method:        http.MethodDelete,
		Path:          "/api/devices/{device_id}",
		Summary:       "Remove Device",
		Description:   "Remove a device from the registry",
		Tags:          []string{"devices"},
		DefaultStatus: http.StatusNoContent,
		Security:      withAuth(),
		Errors:        []int{401, 404, 500},
	}, func(ctx context.Context, input *DeviceIDInput) (*struct{}, error) {
		if _, ok := s.registry.Get(input.DeviceID); !ok {
			return nil, huma.Error404NotFound("Device not found")
		}
		if err := s.registry.Remove(input.DeviceID); err != nil {
			return nil, huma.Error500InternalServerError("Failed to remove device", err)
		}
		return nil, nil
	})

	// Select a device and connect to it
	huma.Register(s.api, huma.Operation{
		OperationID: "select-device",
		Method:      http.MethodPost,
		Path:        "/api/devices/{device_id}/select",
		Summary:     "Select Device",
		Description: "Make a device the active one and connect to it",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 502},
	}, func(ctx context.Context, input *DeviceIDInput) (*models.DeviceResponse, error) {
		if _, ok := s.registry.Get(input.DeviceID); !ok {
			return nil, huma.Error404NotFound("Device not found")
		}
		if err := s.client.SelectDevice(ctx, input.DeviceID); err != nil {
			return nil, huma.Error502BadGateway("Failed to connect to device", err)
		}
		dev, _ := s.registry.Get(input.DeviceID)
		return &models.DeviceResponse{Body: apiDevice(dev, true)}, nil
	})

	// Discover nearby devices
	huma.Register(s.api, huma.Operation{
		OperationID:   "scan-devices",
		Method:        http.MethodPost,
		Path:          "/api/devices/scan",
		Summary:       "Scan",
		Description:   "Scan for nearby matrix devices. Discoveries are sent via SSE events.",
		Tags:          []string{"devices"},
		DefaultStatus: http.StatusAccepted,
		Security:      withAuth(),
		Errors:        []int{401},
	}, func(ctx context.Context, input *ScanInput) (*models.StatusResponse, error) {
		duration := time.Duration(input.Duration) * time.Second

		// The scan outlives the request; results arrive on the event stream.
		go func() {
			scanCtx, cancel := context.WithTimeout(context.Background(), duration)
			defer cancel()

			err := s.scan(scanCtx, func(found transport.Discovered) {
				s.eventBus.Publish(events.DeviceDiscoveryEvent{
					DeviceID:  found.Address,
					Name:      found.Name,
					RSSI:      found.RSSI,
					Timestamp: time.Now().Format(time.RFC3339),
				})
			})
			if err != nil {
				s.logger.Warn("Device scan failed", "error", err)
			}
		}()

		return &models.StatusResponse{
			Body: models.StatusData{
				Status:  "accepted",
				Message: "Scan started. Discoveries will be sent via SSE.",
			},
		}, nil
	})
}
