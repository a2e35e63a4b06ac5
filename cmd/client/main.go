// Command client runs a standalone Pulse client against a host: it
// connects, drives a synthetic input pattern so the wire protocol and
// prediction loop are exercised end to end, and logs what it observes. It
// exists for headless smoke-testing and does not sample any real input
// device.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steppen0mad/Pulse/network"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "client",
		Short:         "Connect to a Pulse host and drive synthetic input",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := cmd.Flags().GetString("host")
			if err != nil {
				return err
			}
			port, err := cmd.Flags().GetUint16("port")
			if err != nil {
				return err
			}
			duration, err := cmd.Flags().GetDuration("duration")
			if err != nil {
				return err
			}
			return run(host, port, duration)
		},
	}

	rootCmd.Flags().String("host", "127.0.0.1", "host address to connect to")
	rootCmd.Flags().Uint16("port", network.DefaultPort, "host UDP port")
	rootCmd.Flags().Duration("duration", 0, "how long to run before disconnecting, 0 to run until interrupted")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(hostAddr string, port uint16, duration time.Duration) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	metrics := network.NewMetrics("client")

	client := network.NewClient(
		network.WithClientLogger(logger),
		network.WithClientMetrics(metrics),
	)
	client.OnConnected = func(playerID uint32) {
		logger.Printf("connected as player %d", playerID)
	}
	client.OnDisconnected = func() {
		logger.Printf("disconnected")
	}

	if ok, err := client.Connect(hostAddr, port); !ok {
		return err
	}
	defer client.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	frame := walkPattern()

	ticker := time.NewTicker(network.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now

			client.Update(dt)
			if client.IsConnected() {
				client.SendInput(frame(dt))
			}
		}
	}
}

// walkPattern returns a closure producing a PlayerInput that walks the
// client forward for two seconds, then strafes right for two seconds, on
// repeat — enough motion to exercise prediction, reconciliation, and
// interpolation without a real input device.
func walkPattern() func(dt time.Duration) network.PlayerInput {
	var elapsed time.Duration
	return func(dt time.Duration) network.PlayerInput {
		elapsed += dt
		keys := network.KeyForward
		if (elapsed/(2*time.Second))%2 == 1 {
			keys = network.KeyRight
		}
		return network.PlayerInput{
			Keys:      keys,
			Yaw:       -90,
			DeltaTime: float32(dt.Seconds()),
		}
	}
}
