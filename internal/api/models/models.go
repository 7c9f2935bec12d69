package models

import (
	"github.com/ledmatrix/matrixnode/internal/events"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-01T00:00:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"12345" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24" doc:"Go version used for the build"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Matrix state models
type MatrixData struct {
	Connected bool              `json:"connected" example:"true" doc:"Whether a device link is open"`
	DeviceID  string            `json:"device_id,omitempty" example:"hc05-desk" doc:"Connected device identifier"`
	Leds      []events.LEDState `json:"leds" doc:"Host-side mirror of all LED colors"`
}

type MatrixResponse struct {
	Body MatrixData
}

type SetLedsData struct {
	Leds []events.LEDState `json:"leds" minItems:"1" maxItems:"64" doc:"LED colors to apply"`
	// Local updates only touch the host mirror; they never reach the device.
	Local bool `json:"local,omitempty" example:"false" doc:"Update the host mirror without writing to the device"`
}

type SetLedsRequest struct {
	Body SetLedsData
}

type FillData struct {
	R uint8 `json:"r" example:"255" doc:"Red channel"`
	G uint8 `json:"g" example:"0" doc:"Green channel"`
	B uint8 `json:"b" example:"0" doc:"Blue channel"`
}

type FillRequest struct {
	Body FillData
}

// StatusData is the generic acknowledgment body for commands.
type StatusData struct {
	Status  string `json:"status" example:"ok" doc:"Command outcome"`
	Message string `json:"message,omitempty" doc:"Additional detail"`
}

type StatusResponse struct {
	Body StatusData
}

// Device registry models
type DeviceInfo struct {
	ID        string `json:"id" example:"hc05-desk" doc:"Stable device identifier"`
	Name      string `json:"name" example:"Desk matrix" doc:"Display name"`
	Target    string `json:"target" example:"serial:///dev/rfcomm0" doc:"Transport target URL"`
	AddedAt   string `json:"added_at,omitempty" example:"2025-01-01T00:00:00Z" doc:"When the device was registered"`
	LastSeen  string `json:"last_seen,omitempty" example:"2025-01-02T00:00:00Z" doc:"Last successful connection"`
	LastError string `json:"last_error,omitempty" doc:"Last connection failure, if any"`
	Selected  bool   `json:"selected" example:"true" doc:"Whether this is the active device"`
}

type DevicesData struct {
	Devices []DeviceInfo `json:"devices" doc:"Registered devices"`
	Count   int          `json:"count" example:"1" doc:"Number of registered devices"`
}

type DevicesResponse struct {
	Body DevicesData
}

type DeviceResponse struct {
	Body DeviceInfo
}

type AddDeviceData struct {
	ID     string `json:"id" example:"hc05-desk" doc:"Stable device identifier"`
	Name   string `json:"name,omitempty" example:"Desk matrix" doc:"Display name, defaults to the id"`
	Target string `json:"target" example:"serial:///dev/rfcomm0?baud=38400" doc:"Transport target URL"`
}

type AddDeviceRequest struct {
	Body AddDeviceData
}
