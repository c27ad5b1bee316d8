package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/magefree/eventprobe-go/internal/capture"
	"github.com/magefree/eventprobe-go/internal/config"
	"github.com/magefree/eventprobe-go/internal/eventbus"
	"github.com/magefree/eventprobe-go/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "config/eventprobe.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting event probe",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("event probe failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("event probe finished")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	promRegistry := prometheus.NewRegistry()
	opts := cfg.RegistryOptions()
	if cfg.Metrics.Enabled {
		opts = append(opts, capture.WithMetrics(metrics.New(promRegistry, cfg.Metrics.Namespace)))
	}
	registry := capture.NewRegistry(logger, opts...)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("failed to close registry", zap.Error(err))
		}
	}()

	bus := eventbus.New(logger)
	clicked, err := bus.Define("Clicked", (func(int, string))(nil))
	if err != nil {
		return err
	}
	closed, err := bus.Define("Closed", (func())(nil))
	if err != nil {
		return err
	}

	clickedID := "clicked"
	if _, err := registry.Register(ctx, clickedID, clicked, bus); err != nil {
		return fmt.Errorf("register %s: %w", clickedID, err)
	}
	closedID := capture.NewEventID()
	if _, err := registry.Register(ctx, closedID, closed, bus); err != nil {
		return fmt.Errorf("register %s: %w", closedID, err)
	}

	workers, fires := cfg.Demo.Workers, cfg.Demo.FiresPerWorker
	g, _ := errgroup.WithContext(ctx)
	for worker := 0; worker < workers; worker++ {
		worker := worker
		g.Go(func() error {
			label := fmt.Sprintf("worker-%d", worker)
			for i := 0; i < fires; i++ {
				if err := bus.Publish("Clicked", worker*fires+i, label); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fire Clicked: %w", err)
	}
	if err := bus.Publish("Closed"); err != nil {
		return fmt.Errorf("fire Closed: %w", err)
	}

	want := workers * fires
	if got := registry.InvocationCount(clickedID); got != want {
		return fmt.Errorf("captured %d Clicked invocations, want %d", got, want)
	}
	records, _ := registry.Invocations(closedID)
	logger.Info("invocations captured",
		zap.String("event_id", clickedID),
		zap.Int("count", want),
		zap.String("event_id_closed", closedID),
		zap.Int("count_closed", len(records)),
	)

	if !registry.Unregister(clickedID) {
		return fmt.Errorf("unregister %s failed", clickedID)
	}
	if err := bus.Publish("Clicked", -1, "after-unregister"); err != nil {
		return err
	}
	if n := bus.SubscriberCount("Clicked"); n != 0 {
		return fmt.Errorf("clicked: %d subscribers still attached after unregister", n)
	}
	if cfg.Capture.RetainLogs {
		if got := registry.InvocationCount(clickedID); got != want {
			return fmt.Errorf("retained log changed after unregister: %d, want %d", got, want)
		}
	}

	if cfg.Metrics.Enabled {
		families, err := promRegistry.Gather()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				value := m.GetCounter().GetValue() + m.GetGauge().GetValue()
				logger.Info("metric", zap.String("name", mf.GetName()), zap.Float64("value", value))
			}
		}
	}
	return nil
}

// initLogger builds the zap logger for the configured level and format.
// Unknown values are errors rather than silent defaults.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("logging format %q: want json or console", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
