package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var CommandWatch = &cobra.Command{
	Use:   "watch hostnames... [flags]",
	Short: "Resolve hostnames repeatedly on an interval",
	Long: `Resolve the given hostnames, then resolve them again every --interval until
interrupted (or --rounds rounds have run).

Rounds share one resolver, so they share the cache and each server's request budget:
after the first round hostnames are answered from the cache until their records go
stale. Results are streamed to STDOUT as JSON newline delimited objects.

With --metrics-addr, Prometheus metrics (cache hits and misses, races won per server,
failures by kind) are served at http://<addr>/metrics.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := cmd.Flags().GetDuration("interval")
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		if interval <= 0 {
			return fmt.Errorf("invalid interval: %s", interval)
		}

		rounds, err := cmd.Flags().GetInt("rounds")
		if err != nil {
			return fmt.Errorf("invalid rounds: %w", err)
		}

		concurrency, err := cmd.Flags().GetInt64("concurrency")
		if err != nil {
			return fmt.Errorf("invalid concurrency: %w", err)
		}

		metricsAddr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		s, err := newSession(cmd, reg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()

		if metricsAddr != "" {
			stop, err := serveMetrics(ctx, s.logger, metricsAddr, reg)
			if err != nil {
				return err
			}
			defer stop()
		}

		out := newResultWriter(cmd.OutOrStdout())

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for round := 1; ; round++ {
			s.logger.WithField("round", round).Debug("resolving")

			if err := resolveAll(ctx, s.resolver, out, args, concurrency); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("encountered error while resolving: %w", err)
			}

			if rounds > 0 && round >= rounds {
				return nil
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(ctx context.Context, logger logrus.FieldLogger, addr string, reg *prometheus.Registry) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	logger.Infof("serving prometheus metrics at http://%s/metrics", listener.Addr())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}

func init() {
	CommandWatch.Flags().Duration("interval", time.Minute, "time between rounds")
	CommandWatch.Flags().Int("rounds", 0, "stop after this many rounds, 0 to run until interrupted")
	CommandWatch.Flags().Int64("concurrency", 4, "number of hostnames resolved at the same time")
	CommandWatch.Flags().String("metrics-addr", "", "address to serve prometheus metrics on, such as :9090")

	CommandRoot.AddCommand(CommandWatch)
}
