// Package devices keeps the registry of known LED matrix devices and the
// currently selected one, persisted as a TOML file.
package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Device is one known LED matrix.
type Device struct {
	ID        string    `toml:"id" json:"id"`
	Name      string    `toml:"name" json:"name"`
	Target    string    `toml:"target" json:"target"`
	AddedAt   time.Time `toml:"added_at" json:"added_at"`
	LastSeen  time.Time `toml:"last_seen" json:"last_seen"`
	LastError string    `toml:"last_error,omitempty" json:"last_error,omitempty"`
}

// Registry stores known devices and the selected device id.
type Registry interface {
	Load() error
	Save() error
	Add(dev Device) error
	Update(id string, updates Device) error
	Remove(id string) error
	Get(id string) (Device, bool)
	All() []Device
	Select(id string) error
	Selected() (Device, bool)
}

// config represents the complete devices configuration file for TOML marshaling.
type config struct {
	Version  int               `toml:"version" json:"version"`
	Selected string            `toml:"selected,omitempty" json:"selected,omitempty"`
	Devices  map[string]Device `toml:"devices" json:"devices"`
}

// tomlRegistry implements Registry using TOML file storage. Unlike the
// single-owner stream store this registry is hit from API handlers and the
// connection manager concurrently, so it locks.
type tomlRegistry struct {
	configPath string
	mu         sync.Mutex
	config     *config
}

// NewTOML creates a new TOML-based registry.
func NewTOML(configPath string) Registry {
	if configPath == "" {
		configPath = "devices.toml"
	}

	return &tomlRegistry{
		configPath: configPath,
		config: &config{
			Version: 1,
			Devices: make(map[string]Device),
		},
	}
}

// Load loads the devices configuration from file.
func (r *tomlRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if file exists
	if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
		// File doesn't exist, use empty config
		return nil
	}

	data, err := os.ReadFile(r.configPath)
	if err != nil {
		return fmt.Errorf("failed to read devices config: %w", err)
	}

	if unmarshalErr := toml.Unmarshal(data, r.config); unmarshalErr != nil {
		return fmt.Errorf("failed to parse devices config: %w", unmarshalErr)
	}

	// Initialize devices map if nil
	if r.config.Devices == nil {
		r.config.Devices = make(map[string]Device)
	}

	// Set version if not set
	if r.config.Version == 0 {
		r.config.Version = 1
	}

	// A selection pointing at a removed device is dropped on load
	if r.config.Selected != "" {
		if _, ok := r.config.Devices[r.config.Selected]; !ok {
			r.config.Selected = ""
		}
	}

	return nil
}

// Save saves the devices configuration to file.
func (r *tomlRegistry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save()
}

func (r *tomlRegistry) save() error {
	// Ensure directory exists
	dir := filepath.Dir(r.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(r.config)
	if err != nil {
		return fmt.Errorf("failed to marshal devices config: %w", err)
	}

	if writeErr := os.WriteFile(r.configPath, data, 0o644); writeErr != nil {
		return fmt.Errorf("failed to write devices config: %w", writeErr)
	}

	return nil
}

// Add adds a new device to the registry.
func (r *tomlRegistry) Add(dev Device) error {
	if dev.ID == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if dev.Target == "" {
		return fmt.Errorf("device target cannot be empty")
	}
	if dev.Name == "" {
		dev.Name = dev.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.config.Devices[dev.ID]; ok {
		dev.AddedAt = existing.AddedAt
	} else if dev.AddedAt.IsZero() {
		dev.AddedAt = now
	}
	dev.LastSeen = now

	r.config.Devices[dev.ID] = dev
	return r.save()
}

// Update updates an existing device.
func (r *tomlRegistry) Update(id string, updates Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.config.Devices[id]
	if !exists {
		return fmt.Errorf("device %s not found", id)
	}

	// Preserve identity and creation time
	updates.ID = existing.ID
	updates.AddedAt = existing.AddedAt
	if updates.Name == "" {
		updates.Name = existing.Name
	}
	if updates.Target == "" {
		updates.Target = existing.Target
	}
	if updates.LastSeen.IsZero() {
		updates.LastSeen = existing.LastSeen
	}

	r.config.Devices[id] = updates
	return r.save()
}

// Remove removes a device, clearing the selection if it pointed there.
func (r *tomlRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.config.Devices[id]; !exists {
		return fmt.Errorf("device %s not found", id)
	}

	delete(r.config.Devices, id)
	if r.config.Selected == id {
		r.config.Selected = ""
	}
	return r.save()
}

// Get retrieves a device by ID.
func (r *tomlRegistry) Get(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, exists := r.config.Devices[id]
	return dev, exists
}

// All returns all devices sorted by ID.
func (r *tomlRegistry) All() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	devs := make([]Device, 0, len(r.config.Devices))
	for _, dev := range r.config.Devices {
		devs = append(devs, dev)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs
}

// Select marks a device as the active one and persists the choice.
func (r *tomlRegistry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.config.Devices[id]; !exists {
		return fmt.Errorf("device %s not found", id)
	}
	r.config.Selected = id
	return r.save()
}

// Selected returns the active device, if one is selected.
func (r *tomlRegistry) Selected() (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.Selected == "" {
		return Device{}, false
	}
	dev, exists := r.config.Devices[r.config.Selected]
	return dev, exists
}
