package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ledmatrix/matrixnode/internal/devices"
	"github.com/ledmatrix/matrixnode/internal/events"
	"github.com/ledmatrix/matrixnode/internal/host"
	"github.com/ledmatrix/matrixnode/internal/logging"
	"github.com/spf13/cobra"
)

// CreateReadCmd creates the standalone matrix read command.
func CreateReadCmd() *cobra.Command {
	var target string
	var timeoutMs int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read and print all LED colors from a device",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})

			client := host.NewClient(events.New(), nil,
				host.WithLogger(logging.GetLogger("host")),
				host.WithResponseTimeout(time.Duration(timeoutMs)*time.Millisecond),
			)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := client.Connect(ctx, devices.Device{ID: target, Target: target}); err != nil {
				fmt.Fprintf(os.Stderr, "connect: %v\n", err)
				os.Exit(1)
			}
			defer client.Disconnect()

			if err := client.Refresh(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
				os.Exit(1)
			}
			for i, c := range client.Leds() {
				fmt.Printf("%2d  #%02X%02X%02X\n", i, c.R, c.G, c.B)
			}
		},
	}

	cmd.Flags().StringVar(&target, "target", "tcp://127.0.0.1:9000", "Device transport target")
	cmd.Flags().IntVar(&timeoutMs, "timeout", 500, "Response timeout in milliseconds")

	return cmd
}
