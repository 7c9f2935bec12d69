package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ledmatrix/matrixnode/internal/api/models"
	"github.com/ledmatrix/matrixnode/internal/events"
	"github.com/ledmatrix/matrixnode/internal/host"
	"github.com/ledmatrix/matrixnode/internal/protocol"
)

// deviceError maps client exchange failures to HTTP errors.
func deviceError(err error) error {
	switch {
	case errors.Is(err, host.ErrNotConnected):
		return huma.Error409Conflict("No device connected", err)
	case errors.Is(err, host.ErrTimeout):
		return huma.Error504GatewayTimeout("Device did not respond", err)
	default:
		return huma.Error502BadGateway("Device command failed", err)
	}
}

// matrixData builds the shared state snapshot body.
func (s *Server) matrixData() models.MatrixData {
	mirror := s.client.Leds()
	leds := make([]events.LEDState, protocol.LEDCount)
	for i, c := range mirror {
		leds[i] = events.LEDState{ID: uint8(i), R: c.R, G: c.G, B: c.B}
	}
	return models.MatrixData{
		Connected: s.client.Connected(),
		DeviceID:  s.client.DeviceID(),
		Leds:      leds,
	}
}

// registerLedRoutes registers the LED matrix state and command endpoints.
func (s *Server) registerLedRoutes() {
	// Current matrix state from the host mirror
	huma.Register(s.api, huma.Operation{
		OperationID: "get-leds",
		Method:      http.MethodGet,
		Path:        "/api/leds",
		Summary:     "Matrix State",
		Description: "Get the host-side mirror of all LED colors and the connection state",
		Tags:        []string{"leds"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.MatrixResponse, error) {
		return &models.MatrixResponse{Body: s.matrixData()}, nil
	})

	// Set individual LED colors
	huma.Register(s.api, huma.Operation{
		OperationID: "set-leds",
		Method:      http.MethodPost,
		Path:        "/api/leds",
		Summary:     "Set LEDs",
		Description: "Write LED colors to the device, or update only the host mirror when local is set",
		Tags:        []string{"leds"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 502, 504},
	}, func(ctx context.Context, input *models.SetLedsRequest) (*models.MatrixResponse, error) {
		leds := make([]protocol.LED, len(input.Body.Leds))
		for i, l := range input.Body.Leds {
			if l.ID >= protocol.LEDCount {
				return nil, huma.Error400BadRequest("LED id out of range")
			}
			leds[i] = protocol.LED{ID: l.ID, Color: protocol.Color{R: l.R, G: l.G, B: l.B}}
		}

		if input.Body.Local {
			for _, led := range leds {
				if err := s.client.SetLocalColor(led.ID, led.Color); err != nil {
					return nil, huma.Error400BadRequest("Invalid LED", err)
				}
			}
			return &models.MatrixResponse{Body: s.matrixData()}, nil
		}

		if err := s.client.SendColors(ctx, leds); err != nil {
			return nil, deviceError(err)
		}
		return &models.MatrixResponse{Body: s.matrixData()}, nil
	})

	// Fill the whole matrix with one color
	huma.Register(s.api, huma.Operation{
		OperationID: "fill-leds",
		Method:      http.MethodPost,
		Path:        "/api/leds/fill",
		Summary:     "Fill Matrix",
		Description: "Set every LED on the device to the same color",
		Tags:        []string{"leds"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 502, 504},
	}, func(ctx context.Context, input *models.FillRequest) (*models.MatrixResponse, error) {
		color := protocol.Color{R: input.Body.R, G: input.Body.G, B: input.Body.B}
		if err := s.client.Fill(ctx, color); err != nil {
			return nil, deviceError(err)
		}
		return &models.MatrixResponse{Body: s.matrixData()}, nil
	})

	// Re-read device state into the mirror
	huma.Register(s.api, huma.Operation{
		OperationID: "refresh-leds",
		Method:      http.MethodPost,
		Path:        "/api/leds/refresh",
		Summary:     "Refresh Matrix",
		Description: "Read all LED colors back from the device into the host mirror",
		Tags:        []string{"leds"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 502, 504},
	}, func(ctx context.Context, input *struct{}) (*models.MatrixResponse, error) {
		if err := s.client.Refresh(ctx); err != nil {
			return nil, deviceError(err)
		}
		return &models.MatrixResponse{Body: s.matrixData()}, nil
	})
}
