// Command gateway serves a cbfront façade over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/cbfront/internal/config"
	"github.com/dreamware/cbfront/internal/facade"
	"github.com/dreamware/cbfront/internal/logging"
	"github.com/dreamware/cbfront/internal/metrics"
	"github.com/dreamware/cbfront/internal/registry"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "gateway",
		Short: "HTTP gateway for a multi-bucket document database façade",
		Long: `gateway opens every bucket listed in its configuration on one cluster
and serves document CRUD, multi-key reads, queries and bucket administration
over HTTP.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path (default ./cbfront.{yaml,json,toml})")

	root.AddCommand(newServeCmd(&configFile), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gateway %s\n", version)
		},
	}
}

func newServeCmd(configFile *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the configured buckets and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Gateway.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides gateway.listen")
	return cmd
}

// app is a running gateway minus its HTTP listener.
type app struct {
	facade      *facade.Facade
	monitor     *registry.HealthMonitor
	monitorDone chan struct{}
	handler     http.Handler
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	m := metrics.Nop()
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewPrometheus(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	f, err := facade.Open(ctx, &cfg.Cluster, newConnector(cfg.Cluster),
		facade.WithLogger(log),
		facade.WithMetrics(m))
	if f == nil {
		return nil, fmt.Errorf("open buckets: %w", err)
	}
	if err != nil {
		log.Warn("some buckets failed to open", zap.Error(err))
	}
	log.Info("buckets registered", zap.Strings("buckets", f.Buckets()))

	a := &app{facade: f}
	if cfg.Health.Interval > 0 {
		a.monitor = registry.NewHealthMonitor(f.Registry(), registry.HealthConfig{
			Interval:    cfg.Health.Interval,
			Timeout:     cfg.Health.Timeout,
			MaxFailures: cfg.Health.MaxFailures,
		})
		a.monitor.SetOnUnhealthy(func(bucket string) {
			log.Warn("bucket unhealthy", zap.String("bucket", bucket))
		})
		a.monitorDone = make(chan struct{})
		go func() {
			defer close(a.monitorDone)
			a.monitor.Start(context.Background())
		}()
	}

	srv := &server{
		facade:         f,
		monitor:        a.monitor,
		log:            log,
		metrics:        metricsHandler,
		metricsPath:    cfg.Metrics.Path,
		requestTimeout: cfg.Gateway.RequestTimeout,
	}
	if srv.requestTimeout <= 0 {
		srv.requestTimeout = 30 * time.Second
	}
	a.handler = srv.routes()
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	if a.monitor != nil {
		a.monitor.Stop()
		<-a.monitorDone
	}
	return a.facade.Close(ctx)
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.Gateway.Listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = a.close(context.Background())
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := a.close(shutdownCtx); err != nil {
		log.Warn("closing buckets", zap.Error(err))
	}
	log.Info("gateway stopped")
	return nil
}
