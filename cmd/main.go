package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/aqforecast/internal/api"
	"github.com/tejusbharadwaj/aqforecast/internal/config"
	"github.com/tejusbharadwaj/aqforecast/internal/dashboard"
	"github.com/tejusbharadwaj/aqforecast/internal/database"
	"github.com/tejusbharadwaj/aqforecast/internal/forecast"
	server "github.com/tejusbharadwaj/aqforecast/internal/grpc"
	"github.com/tejusbharadwaj/aqforecast/internal/scheduler"
	"github.com/tejusbharadwaj/aqforecast/internal/web"
)

// Command aqforecast collects PurpleAir sensor readings, keeps an append-only
// history of them and serves an hourly ARIMA forecast.
//
// The service runs:
//   - a collector that fetches the sensor every refresh interval
//   - a gRPC ForecastService with the standard health service
//   - an HTML dashboard with JSON and Prometheus endpoints
//
// Usage:
//
//	aqforecast [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-debug-api
//	      print the raw sensor API response and exit
func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	fetcher, err := api.NewSensorFetcher(api.Options{
		BaseURL:        cfg.Sensor.BaseURL,
		APIKey:         cfg.Sensor.APIKey,
		SensorID:       cfg.Sensor.ID,
		Timeout:        cfg.Fetch.Timeout,
		MaxRetries:     cfg.Fetch.MaxRetries,
		InitialBackoff: cfg.Fetch.InitialBackoff,
		MaxBackoff:     cfg.Fetch.MaxBackoff,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create fetcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.DebugAPI {
		if err := fetcher.DebugRequest(ctx, os.Stdout); err != nil {
			logger.Fatalf("Debug request failed: %v", err)
		}
		return
	}

	registry := newRegistry()

	history, stats, err := database.Open(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to open stores: %v", err)
	}
	defer closeStores(logger, history, stats)

	engine, err := forecast.NewEngine(cfg.Forecast.CacheSize, logger)
	if err != nil {
		logger.Fatalf("Failed to create forecast engine: %v", err)
	}

	order := cfg.Forecast.ARIMAOrder()
	builder := dashboard.NewBuilder(fetcher, history, stats, engine, dashboard.Options{
		Column:  cfg.Forecast.Column,
		Order:   order,
		Horizon: cfg.Forecast.Horizon,
	}, logger)

	srv, health, err := server.SetupServer(server.Dependencies{
		Fetcher:    fetcher,
		History:    history,
		Stats:      stats,
		Forecaster: engine,
		Dashboard:  builder,
		Defaults: server.Defaults{
			Column:  cfg.Forecast.Column,
			Order:   order,
			Horizon: cfg.Forecast.Horizon,
		},
	}, server.ServerConfig{
		RateLimit:      cfg.Server.RateLimit,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, registry, logger)
	if err != nil {
		logger.Fatalf("Failed to setup server: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		logger.Fatalf("Failed to listen: %v", err)
	}

	collector := api.NewCollector(fetcher, history, stats, logger)
	sched := scheduler.NewScheduler(ctx, collector, cfg.Schedule.RefreshInterval, collectTimeout(cfg.Fetch), logger)

	errChan := make(chan error, 2)

	go func() {
		logger.WithField("addr", cfg.Server.GRPCAddr()).Info("Starting gRPC server")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- err
		}
	}()

	go func() {
		if err := web.New(cfg.Server.HTTPAddr(), builder, registry, logger).Run(ctx); err != nil {
			errChan <- err
		}
	}()

	if err := sched.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	// First collection runs immediately instead of one interval after startup.
	go sched.RunOnce()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errChan:
		logger.WithError(err).Error("Service error, shutting down")
	}

	shutdown(logger, srv, health, sched)
}

type flagConfig struct {
	ConfigPath string
	DebugAPI   bool
}

func parseFlags() *flagConfig {
	cfg := &flagConfig{}

	flag.StringVar(&cfg.ConfigPath, "config", "config.yaml", "Path to config file")
	flag.BoolVar(&cfg.DebugAPI, "debug-api", false, "Print the raw sensor API response and exit")

	flag.Parse()

	return cfg
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

// newRegistry registers the process collectors and the pipeline metrics. The
// gRPC interceptor metrics are registered by SetupServer.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		api.FetchRequests,
		database.ReadingsPersisted,
		forecast.FitDuration,
		forecast.ModelCacheLookups,
		web.Requests,
	)
	return reg
}

// collectTimeout bounds one collection: every fetch attempt plus slack for
// the backoff sleeps and the store writes.
func collectTimeout(cfg config.FetchConfig) time.Duration {
	attempts := time.Duration(cfg.MaxRetries + 1)
	timeout := cfg.Timeout*attempts + cfg.MaxBackoff*attempts
	if timeout < 2*time.Minute {
		return 2 * time.Minute
	}
	return timeout
}

func shutdown(logger *logrus.Logger, srv *grpc.Server, health *server.HealthChecker, sched *scheduler.Scheduler) {
	logger.Info("Gracefully stopping services...")
	health.Shutdown()
	srv.GracefulStop()
	sched.Stop()
	logger.Info("Services stopped")
}

func closeStores(logger *logrus.Logger, stores ...database.Store) {
	for _, s := range stores {
		if err := s.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}
}
