package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ravi-parthasarathy/stagecoord/pkg/config"
	"github.com/ravi-parthasarathy/stagecoord/pkg/coordinator"
	"github.com/ravi-parthasarathy/stagecoord/pkg/registry"
)

// ─── serve ────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	var (
		configPath    string
		listen        string
		metricsListen string
		stateFile     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("metrics-listen") {
				cfg.MetricsListen = metricsListen
			}
			if flags.Changed("state-file") {
				cfg.StateFile = stateFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := initLogger(logSettings(cmd, cfg.Log)); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runCoordinator(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file (optional)")
	cmd.Flags().StringVar(&listen, "listen", config.DefaultListen, "gRPC listen address")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address for Prometheus /metrics (disabled when empty)")
	cmd.Flags().StringVar(&stateFile, "state-file", "", "persist the task registry to this JSON file")
	return cmd
}

// logSettings merges the config file's log settings with the root flags. A
// flag given on the command line wins for its own field only.
func logSettings(cmd *cobra.Command, file config.Log) (level, format string) {
	level, format = file.Level, file.Format
	pf := cmd.Root().PersistentFlags()
	if pf.Changed("log-level") {
		level, _ = pf.GetString("log-level")
	}
	if pf.Changed("log-format") {
		format, _ = pf.GetString("log-format")
	}
	return level, format
}

// runCoordinator serves cfg until ctx is cancelled or a component fails.
func runCoordinator(ctx context.Context, cfg *config.Config) error {
	topo, err := cfg.LoadTopology()
	if err != nil {
		return err
	}

	var snapshots *coordinator.SnapshotWriter
	var regOpts []registry.Option
	if cfg.StateFile != "" {
		snapshots = coordinator.NewSnapshotWriter(cfg.StateFile)
		regOpts = append(regOpts, registry.WithOnChange(snapshots.MarkDirty))
	}
	reg := registry.New(regOpts...)
	if cfg.StateFile != "" {
		if err := reg.LoadSnapshot(cfg.StateFile); err != nil {
			return err
		}
		slog.Info("registry restored", "path", cfg.StateFile, "tasks", len(reg.Tasks()))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := coordinator.NewMetrics(promReg, reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []coordinator.Option{
		coordinator.WithMetrics(metrics),
		coordinator.WithInjector(&coordinator.RuntimeInjector{StageArgs: cfg.StageArgs, Topology: topo}),
	}
	if topo != nil {
		opts = append(opts, coordinator.WithTopology(topo))
		slog.Info("pipeline topology loaded", "topology", topo.String())
	}
	handler, err := coordinator.NewHandler(reg, opts...)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	srv := coordinator.NewServer(handler)

	// The snapshot writer outlives the gRPC server so its final save sees
	// every call that completed.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("coordinator listening", "addr", lis.Addr().String())
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.GracefulStop()
		stopWriter()
		return nil
	})
	if snapshots != nil {
		g.Go(func() error {
			return snapshots.Run(writerCtx, reg)
		})
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
		hs := &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("metrics listening", "addr", cfg.MetricsListen)
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	if !cfg.Housekeeping.Disabled {
		g.Go(func() error {
			return coordinator.RunReaper(gctx, reg,
				time.Duration(cfg.Housekeeping.Interval),
				time.Duration(cfg.Housekeeping.Retention),
				metrics.ObserveReaped)
		})
	}

	err = g.Wait()
	slog.Info("coordinator stopped")
	return err
}
