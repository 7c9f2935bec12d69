package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/ledmatrix/matrixnode/cmd"
	"github.com/ledmatrix/matrixnode/internal/aggregator"
	"github.com/ledmatrix/matrixnode/internal/api"
	"github.com/ledmatrix/matrixnode/internal/config"
	"github.com/ledmatrix/matrixnode/internal/devices"
	"github.com/ledmatrix/matrixnode/internal/events"
	"github.com/ledmatrix/matrixnode/internal/host"
	"github.com/ledmatrix/matrixnode/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Device settings
	DevicesConfigFile string `help:"Device registry file" default:"devices.toml" toml:"devices.config_file" env:"DEVICES_CONFIG_FILE"`
	AutoConnect       bool   `help:"Connect to the selected device on startup" default:"true" toml:"devices.auto_connect" env:"DEVICES_AUTO_CONNECT"`

	// Host link settings
	ResponseTimeoutMs int `help:"Device response timeout in milliseconds" default:"500" toml:"host.response_timeout_ms" env:"HOST_RESPONSE_TIMEOUT_MS"`
	SilenceWindowMs   int `help:"Message silence window in milliseconds" default:"50" toml:"host.silence_window_ms" env:"HOST_SILENCE_WINDOW_MS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingHost       string `help:"Host client logging level" default:"info" toml:"logging.host" env:"LOGGING_HOST"`
	LoggingTransport  string `help:"Transport logging level" default:"info" toml:"logging.transport" env:"LOGGING_TRANSPORT"`
	LoggingFirmware   string `help:"Firmware simulator logging level" default:"info" toml:"logging.firmware" env:"LOGGING_FIRMWARE"`
	LoggingAggregator string `help:"Message aggregator logging level" default:"info" toml:"logging.aggregator" env:"LOGGING_AGGREGATOR"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"host":       opts.LoggingHost,
				"transport":  opts.LoggingTransport,
				"firmware":   opts.LoggingFirmware,
				"aggregator": opts.LoggingAggregator,
				"api":        opts.LoggingAPI,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Publish each new log line so SSE clients can stream it live
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Load the device registry
		registry := devices.NewTOML(opts.DevicesConfigFile)
		if loadErr := registry.Load(); loadErr != nil {
			logger.Warn("Failed to load device registry", "error", loadErr)
		}

		// Create the device client
		client := host.NewClient(eventBus, registry,
			host.WithLogger(logging.GetLogger("host")),
			host.WithResponseTimeout(time.Duration(opts.ResponseTimeoutMs)*time.Millisecond),
			host.WithAggregatorOptions(
				aggregator.WithSilenceWindow(time.Duration(opts.SilenceWindowMs)*time.Millisecond),
				aggregator.WithLogger(logging.GetLogger("aggregator")),
			),
		)

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Client:            client,
			Registry:          registry,
			EventBus:          eventBus,
			PrometheusHandler: promhttp.Handler(),
		})

		// Pick up hand edits to the registry file
		registryLoader := func(string) ([]devices.Device, error) {
			if err := registry.Load(); err != nil {
				return nil, err
			}
			return registry.All(), nil
		}
		watcher := config.NewConfigWatcher(opts.DevicesConfigFile, registryLoader, logger)
		watcher.OnReload(func(all []devices.Device) {
			logger.Info("Device registry reloaded", "devices", len(all))
		})

		hooks.OnStart(func() {
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Registry watcher disabled", "error", watchErr)
			}

			// Reconnect to the previously selected device
			if opts.AutoConnect {
				if dev, ok := registry.Selected(); ok {
					go func() {
						ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						defer cancel()
						if connErr := client.Connect(ctx, dev); connErr != nil {
							logger.Warn("Startup connect failed", "device_id", dev.ID, "error", connErr)
						}
					}()
				}
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			_ = watcher.Stop()
			client.Disconnect()
		})
	})

	// Add firmware simulator command
	cli.Root().AddCommand(cmd.CreateFirmwareCmd())

	// Add one-shot device commands
	cli.Root().AddCommand(cmd.CreateSendCmd())
	cli.Root().AddCommand(cmd.CreateReadCmd())

	// Add self-update command
	cli.Root().AddCommand(cmd.CreateUpdateCmd())

	// Run the CLI
	cli.Run()
}
