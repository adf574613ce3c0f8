// Package main implements the entry point for the rtl433d daemon.
// rtl433d supervises an rtl_433 decoder process, normalizes its JSON
// output into device readings, and maintains a registry of radio
// devices whose change events feed optional MQTT and NATS sinks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/abcdqfr/rtl433-ha/component"
	"github.com/abcdqfr/rtl433-ha/config"
	"github.com/abcdqfr/rtl433-ha/coordinator"
	"github.com/abcdqfr/rtl433-ha/health"
	"github.com/abcdqfr/rtl433-ha/metric"
	"github.com/abcdqfr/rtl433-ha/output/mqttpub"
	"github.com/abcdqfr/rtl433-ha/output/natspub"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rtl433d"
)

// healthRefreshInterval is how often component health is re-sampled
// into the monitor backing the /health endpoint.
const healthRefreshInterval = 15 * time.Second

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cliCfg, cfg.Log)
	slog.SetDefault(logger)

	slog.Info("Starting rtl433d (radio telemetry ingestion)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"decoder", cfg.Command().String())

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Setup core infrastructure
	monitor := health.NewMonitor()
	metricsRegistry, metricsServer := setupMetrics(cfg, monitor)

	coord := coordinator.New(coordinator.Deps{
		Settings: cfg.Settings(),
		Metrics:  coreMetrics(metricsRegistry),
		Logger:   logger.With("component", "coordinator"),
	})

	sinks, err := buildSinks(cfg, coord, metricsRegistry, logger)
	if err != nil {
		return err
	}

	components := append([]pipelineComponent{{"coordinator", coord}}, sinks...)
	for _, c := range components {
		if err := c.comp.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", c.name, err)
		}
	}

	// Run pipeline with signal handling
	return runWithSignalHandling(cliCfg, cfg, coord, components, metricsServer, monitor)
}

// pipelineComponent pairs a lifecycle component with its stable name
// for logs and the health monitor.
type pipelineComponent struct {
	name string
	comp component.LifecycleComponent
}

// initializeCLI parses and validates flags
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// initializeConfiguration loads and validates configuration. An empty
// config path runs on built-in defaults.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	if cliCfg.ConfigPath == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupMetrics creates the metrics registry and scrape server when the
// endpoint is enabled. Both are nil when metrics are off.
func setupMetrics(cfg *config.Config, monitor *health.Monitor) (*metric.MetricsRegistry, *metric.Server) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	registry := metric.NewMetricsRegistry()
	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, func() ([]byte, bool) {
		agg := monitor.AggregateHealth(appName)
		body, err := json.Marshal(agg)
		if err != nil {
			return []byte(`{"status":"unknown"}`), false
		}
		return body, agg.Healthy
	})
	return registry, server
}

func coreMetrics(registry *metric.MetricsRegistry) *metric.Metrics {
	if registry == nil {
		return nil
	}
	return registry.CoreMetrics()
}

// buildSinks creates the enabled outbound publishers.
func buildSinks(
	cfg *config.Config,
	coord *coordinator.Coordinator,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) ([]pipelineComponent, error) {
	var sinks []pipelineComponent

	if cfg.Sinks.MQTT.Enabled {
		mqtt := cfg.Sinks.MQTT
		sinks = append(sinks, pipelineComponent{"mqtt-sink", mqttpub.New(mqttpub.Deps{
			Options: mqttpub.Options{
				Broker:      mqtt.Broker,
				ClientID:    mqtt.ClientID,
				Username:    mqtt.Username,
				Password:    mqtt.Password,
				TopicPrefix: mqtt.TopicPrefix,
				QoS:         mqtt.QoS,
				Retain:      mqtt.Retain,
			},
			Source:          coord,
			MetricsRegistry: metricsRegistry,
			Logger:          logger.With("component", "mqtt-sink"),
		})})
	}

	if cfg.Sinks.NATS.Enabled {
		nats := cfg.Sinks.NATS
		sinks = append(sinks, pipelineComponent{"nats-sink", natspub.New(natspub.Deps{
			Options: natspub.Options{
				URL:           nats.URL,
				SubjectPrefix: nats.SubjectPrefix,
				Name:          nats.Name,
			},
			Source:          coord,
			MetricsRegistry: metricsRegistry,
			Logger:          logger.With("component", "nats-sink"),
		})})
	}

	return sinks, nil
}

// watchConfig starts a file watcher that applies decoder and registry
// settings on the fly. Log, metrics, and sink changes need a restart.
func watchConfig(path string, coord *coordinator.Coordinator, logger *slog.Logger) (*config.Watcher, error) {
	if path == "" {
		return nil, nil
	}

	watcher, err := config.Watch(path, func(cfg *config.Config) error {
		slog.Info("Configuration file changed, applying decoder settings")
		return coord.Reconfigure(cfg.Settings())
	}, logger.With("component", "config-watcher"))
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	return watcher, nil
}

// refreshHealth samples every component into the monitor.
func refreshHealth(monitor *health.Monitor, components []pipelineComponent) {
	for _, c := range components {
		monitor.Update(c.name, health.FromComponentHealth(c.name, c.comp.Health()))
	}
}

// runWithSignalHandling starts the pipeline and blocks until a signal
// arrives or ingestion fails terminally.
func runWithSignalHandling(
	cliCfg *CLIConfig,
	cfg *config.Config,
	coord *coordinator.Coordinator,
	components []pipelineComponent,
	metricsServer *metric.Server,
	monitor *health.Monitor,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if metricsServer != nil {
		go func() {
			slog.Info("Metrics endpoint listening", "address", metricsServer.Address())
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	for _, c := range components {
		if err := c.comp.Start(signalCtx); err != nil {
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		slog.Info("Started component", "name", c.name)
	}

	watcher, err := watchConfig(cliCfg.ConfigPath, coord, slog.Default())
	if err != nil {
		return err
	}

	refreshHealth(monitor, components)
	slog.Info("rtl433d started successfully",
		"frequency", cfg.Frequency,
		"device", cfg.DeviceID,
		"sinks", len(components)-1)

	runErr := waitForShutdown(signalCtx, coord, monitor, components)

	shutdown(cliCfg.ShutdownTimeout, watcher, components, metricsServer)
	return runErr
}

// waitForShutdown blocks until a signal arrives or the coordinator
// reports a terminal ingestion failure, refreshing health on the way.
func waitForShutdown(
	signalCtx context.Context,
	coord *coordinator.Coordinator,
	monitor *health.Monitor,
	components []pipelineComponent,
) error {
	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-signalCtx.Done():
			slog.Info("Received shutdown signal")
			return nil
		case <-ticker.C:
			refreshHealth(monitor, components)
			if err := coord.Err(); err != nil {
				slog.Error("Ingestion failed terminally, shutting down", "error", err)
				return err
			}
		}
	}
}

// shutdown stops everything in reverse dependency order: sinks first so
// they flush, then the coordinator, then the metrics server.
func shutdown(
	timeout time.Duration,
	watcher *config.Watcher,
	components []pipelineComponent,
	metricsServer *metric.Server,
) {
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			slog.Warn("Config watcher close failed", "error", err)
		}
	}

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.comp.Stop(timeout); err != nil {
			slog.Warn("Component stop failed", "name", c.name, "error", err)
		} else {
			slog.Info("Stopped component", "name", c.name)
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("Metrics server stop failed", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}
