// IoT MCP Bridge
//
// This is the main entry point for the bridge. It subscribes to device
// telemetry over MQTT, keeps the live device registry, persists history to
// SQLite (optionally mirrored to InfluxDB) and serves the tool-call surface
// over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/iot-mcp-bridge/internal/api"
	"github.com/nerrad567/iot-mcp-bridge/internal/bridge"
	"github.com/nerrad567/iot-mcp-bridge/internal/device"
	"github.com/nerrad567/iot-mcp-bridge/internal/dispatch"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/config"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/database"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mcp-bridge/internal/telemetry"
	"github.com/nerrad567/iot-mcp-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting IoT MCP bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(promRegistry)

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	// InfluxDB mirror (optional)
	var points telemetry.PointWriter
	var influxHealth healthChecker
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		points = influxClient
		influxHealth = influxClient
		log.Info("InfluxDB mirror enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	sqliteStore := telemetry.NewSQLiteStore(db)
	sqliteStore.SetLogger(log)
	store := telemetry.NewMirror(sqliteStore, points)

	writer, err := startPersistence(store, cfg.Persistence, cfg.DrainTimeout(), log, collector)
	if err != nil {
		return err
	}
	// Registered before the MQTT and router defers so it runs after them and
	// drains everything they queued.
	defer func() {
		log.Info("draining persistence queue", "pending", writer.Pending())
		writer.Stop()
	}()

	registry := device.NewRegistry(cfg.Devices.MaxErrors)
	registry.SetLogger(log)

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Event router
	router, err := bridge.NewBridge(bridge.Options{
		Registry:             registry,
		Subscriber:           mqttClient,
		Sink:                 writer,
		Store:                store,
		Metrics:              collector,
		Logger:               log,
		MetricsFlushInterval: cfg.MetricsFlushInterval(),
		CleanupInterval:      cfg.CleanupInterval(),
		Retention:            cfg.Retention(),
	})
	if err != nil {
		return fmt.Errorf("creating event router: %w", err)
	}
	if startErr := router.Start(ctx); startErr != nil {
		return fmt.Errorf("starting event router: %w", startErr)
	}
	defer func() {
		log.Info("stopping event router")
		router.Stop()
		router.FlushMetrics(context.Background())
	}()

	// Liveness monitor
	monitor := device.NewMonitor(registry, device.MonitorConfig{
		Interval: cfg.LivenessInterval(),
		Timeout:  cfg.DeviceTimeout(),
	})
	monitor.SetLogger(log)
	monitor.SetOnDemoted(router.OnDevicesDemoted)
	if startErr := monitor.Start(ctx); startErr != nil {
		return fmt.Errorf("starting liveness monitor: %w", startErr)
	}
	defer monitor.Stop()
	log.Info("liveness monitor started",
		"interval", cfg.LivenessInterval(),
		"timeout", cfg.DeviceTimeout(),
	)

	// Tool dispatcher
	dispatcher, err := dispatch.New(dispatch.Options{
		Registry:       registry,
		Store:          store,
		Publisher:      mqttClient,
		Queue:          writer,
		Metrics:        collector,
		Logger:         log,
		PublishTimeout: cfg.PublishTimeout(),
		CommandQoS:     byte(cfg.Commands.QoS),
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxHealth != nil {
		checks["influxdb"] = influxHealth
	}

	// HTTP surface
	if cfg.API.Enabled {
		server, srvErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Dispatcher: dispatcher,
			Gatherer:   promRegistry,
			Health:     checks,
			Version:    version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxHealth); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred calls run in reverse order: API, monitor, router, MQTT,
	// persistence drain, InfluxDB, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startPersistence starts the persistence writer. It runs on a background
// context so that a shutdown signal does not close the queue while MQTT is
// still delivering; only Stop drains it.
func startPersistence(store telemetry.Store, cfg config.PersistenceConfig, drain time.Duration, log *logging.Logger, collector *metrics.Collector) (*telemetry.Writer, error) {
	writer, err := telemetry.NewWriter(store, telemetry.WriterConfig{
		QueueSize:    cfg.QueueSize,
		BatchSize:    cfg.BatchSize,
		DrainTimeout: drain,
	})
	if err != nil {
		return nil, fmt.Errorf("creating persistence writer: %w", err)
	}
	writer.SetLogger(log)
	writer.SetMetrics(collector)
	if err := writer.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("starting persistence writer: %w", err)
	}
	return writer, nil
}

// getConfigPath returns the configuration file path.
// Uses IOTBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthChecker is implemented by every infrastructure client.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies all infrastructure connections, returning the first failure.
// influx may be nil when the mirror is disabled.
func healthCheck(ctx context.Context, db, mqttClient, influx healthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
