// Command host runs a standalone Pulse host: it binds a UDP socket,
// drives the tick simulation, and logs connection lifecycle events. It
// exists to exercise network.Host over a real socket without any
// rendering or input-device code.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/steppen0mad/Pulse/network"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "host",
		Short:         "Run a Pulse authoritative game host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := cmd.Flags().GetUint16("port")
			if err != nil {
				return err
			}
			metricsAddr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				return err
			}
			return run(port, metricsAddr)
		},
	}

	rootCmd.Flags().Uint16("port", network.DefaultPort, "UDP port to listen on")
	rootCmd.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on, empty to disable")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(port uint16, metricsAddr string) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	metrics := network.NewMetrics("host")

	host := network.NewHost(
		network.WithHostLogger(logger),
		network.WithHostMetrics(metrics),
	)
	host.OnPlayerConnected = func(playerID uint32) {
		logger.Printf("player %d joined (%d/%d)", playerID, host.PlayerCount(), network.MaxPlayers)
	}
	host.OnPlayerDisconnected = func(playerID uint32) {
		logger.Printf("player %d left (%d/%d)", playerID, host.PlayerCount(), network.MaxPlayers)
	}

	if ok, err := host.Start(port); !ok {
		return err
	}
	defer host.Stop()

	if metricsAddr != "" {
		serveMetrics(metricsAddr, metrics, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(network.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			host.Update(now.Sub(last))
			last = now
		}
	}
}

func serveMetrics(addr string, metrics *network.Metrics, logger *log.Logger) {
	mux := http.NewServeMux()
	if reg, ok := metrics.Registry().(*prometheus.Registry); ok {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Printf("serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server stopped: %v", err)
		}
	}()
}
