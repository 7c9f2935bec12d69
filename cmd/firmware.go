package cmd

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ledmatrix/matrixnode/internal/firmware"
	"github.com/ledmatrix/matrixnode/internal/logging"
	"github.com/ledmatrix/matrixnode/internal/transport"
	"github.com/spf13/cobra"
)

// simulatedButton drives the firmware button from process signals.
// SIGUSR1 is a short press, SIGUSR2 a long press.
type simulatedButton struct {
	pressedUntil atomic.Int64
	wake         chan struct{}
}

func newSimulatedButton() *simulatedButton {
	return &simulatedButton{wake: make(chan struct{}, 1)}
}

// press asserts the input for d, and signals a wake edge.
func (b *simulatedButton) press(d time.Duration) {
	b.pressedUntil.Store(time.Now().Add(d).UnixNano())
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// level reports whether the simulated input is currently asserted.
func (b *simulatedButton) level() bool {
	return time.Now().UnixNano() < b.pressedUntil.Load()
}

// CreateFirmwareCmd creates the firmware simulator command.
func CreateFirmwareCmd() *cobra.Command {
	var listen string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "firmware",
		Short: "Run the matrix firmware simulator",
		Long: `Listens on a tcp or unix socket and speaks the matrix byte protocol, ` +
			`running the same dispatcher, animation, and button logic as the device. ` +
			`Send SIGUSR1 for a short button press and SIGUSR2 for a long press.`,
		Run: func(_ *cobra.Command, _ []string) {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("firmware")

			target, err := transport.ParseTarget(listen)
			if err != nil {
				logger.Error("Invalid listen target", "target", listen, "error", err)
				os.Exit(1)
			}
			if target.Scheme != "tcp" && target.Scheme != "unix" {
				logger.Error("Simulator can only listen on tcp or unix targets", "scheme", target.Scheme)
				os.Exit(1)
			}
			if target.Scheme == "unix" {
				// A stale socket from a previous run blocks the listener
				_ = os.Remove(target.Address)
			}

			ln, err := net.Listen(target.Scheme, target.Address)
			if err != nil {
				logger.Error("Failed to listen", "target", listen, "error", err)
				os.Exit(1)
			}
			defer ln.Close()
			logger.Info("Firmware simulator listening", "target", listen, "pid", os.Getpid())

			button := newSimulatedButton()
			sigCh := make(chan os.Signal, 4)
			signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
			go func() {
				for sig := range sigCh {
					switch sig {
					case syscall.SIGUSR1:
						logger.Info("Simulating short button press")
						button.press(250 * time.Millisecond)
					case syscall.SIGUSR2:
						logger.Info("Simulating long button press")
						button.press(700 * time.Millisecond)
					}
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				ln.Close()
			}()

			// One peer at a time, like the real serial link
			for {
				conn, acceptErr := ln.Accept()
				if acceptErr != nil {
					if ctx.Err() != nil {
						logger.Info("Firmware simulator shutting down")
						return
					}
					logger.Error("Accept failed", "error", acceptErr)
					os.Exit(1)
				}

				logger.Info("Peer connected", "remote", conn.RemoteAddr().String())
				dev := firmware.New(firmware.Config{
					Link:   firmware.NewStreamLink(conn),
					Sink:   firmware.NewLogSink(logger),
					Button: firmware.NewButton(button.level, 0),
					Wake:   button.wake,
					Logger: logger,
				})
				if runErr := dev.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
					logger.Info("Peer disconnected", "reason", runErr.Error())
				}
				conn.Close()
				if ctx.Err() != nil {
					return
				}
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "tcp://127.0.0.1:9000", "Listen target (tcp://host:port or unix:///path)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}
