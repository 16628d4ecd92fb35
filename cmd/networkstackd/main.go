// Command networkstackd runs the socket-handle multiplexer component as
// a standalone daemon: cobra for the CLI surface, viper for layered
// configuration, a networkstack component wiring the socket table,
// protocol-engine adapter, NIC transport, event pump and RPC surface
// together, and a Prometheus exporter for the counters in
// internal/metrics.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hensoldt-cyber/networkstackd/internal/config"
	"github.com/hensoldt-cyber/networkstackd/internal/logging"
)

func main() {
	vpr := viper.New()
	vpr.SetEnvPrefix("NETWORKSTACKD")
	vpr.AutomaticEnv()

	ns := config.NewNetworkStack()

	var metricsAddr string

	root := &cobra.Command{
		Use:   "networkstackd",
		Short: "Socket-handle multiplexer network stack component",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(logrus.InfoLevel)

			ns.Init("networkstack", cmd.Context(), nil, func() *viper.Viper { return vpr }, func() logging.Logger { return log })

			if err := ns.Start(); err != nil {
				return fmt.Errorf("start network stack: %w", err)
			}
			defer ns.Stop()

			if mc := ns.Metrics(); mc != nil {
				mc.MustRegister(prometheus.DefaultRegisterer)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info("serving metrics", logging.F("addr", metricsAddr))
			return http.ListenAndServe(metricsAddr, mux)
		},
	}

	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9110", "address to serve /metrics on")
	if err := ns.RegisterFlag(root); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
