package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ledmatrix/matrixnode/internal/devices"
	"github.com/ledmatrix/matrixnode/internal/events"
	"github.com/ledmatrix/matrixnode/internal/host"
	"github.com/ledmatrix/matrixnode/internal/logging"
	"github.com/ledmatrix/matrixnode/internal/protocol"
	"github.com/spf13/cobra"
)

// CreateSendCmd creates the one-shot device command group.
func CreateSendCmd() *cobra.Command {
	var target string
	var timeoutMs int
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a one-shot command to a matrix device",
		Long: `Connects to a device, issues a single command, and exits. ` +
			`The target is a transport URL like tcp://host:port, unix:///path, ` +
			`serial:///dev/rfcomm0?baud=38400, or ble://AA:BB:CC:DD:EE:FF.`,
	}
	cmd.PersistentFlags().StringVar(&target, "target", "tcp://127.0.0.1:9000", "Device transport target")
	cmd.PersistentFlags().IntVar(&timeoutMs, "timeout", 500, "Response timeout in milliseconds")
	cmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	// connect dials the target and returns a ready client.
	connect := func() *host.Client {
		loggingConfig := logging.Config{Level: "warn", Format: "text"}
		if logJSON {
			loggingConfig.Format = "json"
		}
		logging.Initialize(loggingConfig)
		logger := logging.GetLogger("host")

		client := host.NewClient(events.New(), nil,
			host.WithLogger(logger),
			host.WithResponseTimeout(time.Duration(timeoutMs)*time.Millisecond),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Connect(ctx, devices.Device{ID: target, Target: target}); err != nil {
			fmt.Fprintf(os.Stderr, "connect: %v\n", err)
			os.Exit(1)
		}
		return client
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "fill <r> <g> <b>",
		Short: "Set every LED to one color",
		Args:  cobra.ExactArgs(3),
		Run: func(_ *cobra.Command, args []string) {
			color, err := parseColor(args[0], args[1], args[2])
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			client := connect()
			defer client.Disconnect()
			if err := client.Fill(context.Background(), color); err != nil {
				fmt.Fprintf(os.Stderr, "fill: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("OK")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <id> <r> <g> <b> [<id> <r> <g> <b> ...]",
		Short: "Set individual LED colors",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%4 != 0 {
				return fmt.Errorf("arguments must come in id/r/g/b groups")
			}
			return nil
		},
		Run: func(_ *cobra.Command, args []string) {
			leds := make([]protocol.LED, 0, len(args)/4)
			for i := 0; i < len(args); i += 4 {
				id, err := parseByte(args[i], "id")
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				color, err := parseColor(args[i+1], args[i+2], args[i+3])
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				leds = append(leds, protocol.LED{ID: id, Color: color})
			}

			client := connect()
			defer client.Disconnect()
			if err := client.SendColors(context.Background(), leds); err != nil {
				fmt.Fprintf(os.Stderr, "set: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("OK")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "read",
		Short: "Read and print all LED colors from the device",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			client := connect()
			defer client.Disconnect()
			if err := client.Refresh(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
				os.Exit(1)
			}
			for i, c := range client.Leds() {
				fmt.Printf("%2d  #%02X%02X%02X\n", i, c.R, c.G, c.B)
			}
		},
	})

	return cmd
}

func parseByte(s, what string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be 0-255", what, s)
	}
	return uint8(v), nil
}

func parseColor(r, g, b string) (protocol.Color, error) {
	var c protocol.Color
	var err error
	if c.R, err = parseByte(r, "red"); err != nil {
		return c, err
	}
	if c.G, err = parseByte(g, "green"); err != nil {
		return c, err
	}
	if c.B, err = parseByte(b, "blue"); err != nil {
		return c, err
	}
	return c, nil
}
