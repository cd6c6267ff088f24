// Therapy Core - device presence and command dispatch
//
// This is the main entry point for the Therapy Core service. It keeps the
// presence of physical therapy devices consistent across their websocket
// sessions, the shared Redis cache and the SQLite record, and it delivers
// prescriptions to devices over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/therapy-core/internal/api"
	"github.com/nerrad567/therapy-core/internal/audit"
	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/dispatch"
	"github.com/nerrad567/therapy-core/internal/inbound"
	"github.com/nerrad567/therapy-core/internal/infrastructure/cache"
	"github.com/nerrad567/therapy-core/internal/infrastructure/config"
	"github.com/nerrad567/therapy-core/internal/infrastructure/database"
	"github.com/nerrad567/therapy-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/therapy-core/internal/infrastructure/logging"
	"github.com/nerrad567/therapy-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/therapy-core/internal/patient"
	"github.com/nerrad567/therapy-core/internal/presence"
	"github.com/nerrad567/therapy-core/internal/session"
	"github.com/nerrad567/therapy-core/migrations"
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

// auditTimeout bounds a single audit append.
const auditTimeout = 3 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup wiring reads top to bottom
	log := logging.Default()
	log.Info("starting Therapy Core",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Durable store
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	deviceRepo := device.NewSQLiteRepository(db.DB)
	created, err := device.Seed(ctx, deviceRepo, seedDevices(cfg.Devices))
	if err != nil {
		return fmt.Errorf("seeding devices: %w", err)
	}
	log.Info("device seed applied", "configured", len(cfg.Devices), "created", created)

	directory := device.NewDirectory(deviceRepo, cfg.Dispatch.DeviceType)
	directory.SetLogger(log.Component("directory"))
	if refreshErr := directory.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device directory: %w", refreshErr)
	}

	// Shared cache
	store, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		log.Info("closing redis")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()
	log.Info("redis connected", "addr", cfg.Redis.Addr)

	// Broker
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
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Presence telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Presence
	sessions := session.NewRegistry()
	sessions.SetLogger(log.Component("sessions"))
	defer sessions.CloseAll()

	hub := api.NewHub(log.Component("viewers"))
	notifiers := presence.Fanout{hub}
	if influxClient != nil {
		notifiers = append(notifiers, presence.NewTelemetry(influxClient))
	}

	reconciler := presence.NewReconciler(presence.Deps{
		Devices:  deviceRepo,
		Cache:    store,
		Sessions: sessions,
		Notifier: notifiers,
		Observer: directory,
	}, presence.Config{
		HeartbeatTimeout: cfg.Presence.HeartbeatTimeoutDuration(),
		PersistInterval:  cfg.Presence.PersistIntervalDuration(),
		OperationTimeout: cfg.Presence.OperationTimeoutDuration(),
	})
	reconciler.SetLogger(log.Component("presence"))

	heartbeatSweep := presence.NewHeartbeatSweep(store, reconciler,
		cfg.Presence.HeartbeatTimeoutDuration(), cfg.Presence.HeartbeatSweepIntervalDuration())
	heartbeatSweep.SetLogger(log.Component("heartbeat_sweep"))

	livenessSweep := presence.NewLivenessSweep(store, deviceRepo, sessions, reconciler,
		cfg.Presence.LivenessSweepIntervalDuration())
	livenessSweep.SetLogger(log.Component("liveness_sweep"))

	// Dispatch and audit
	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditor := audit.NewRecorder(auditRepo, auditTimeout)
	auditor.SetLogger(log.Component("audit"))

	tracker := dispatch.NewAckTracker(0)
	dispatcher := dispatch.NewDispatcher(mqttClient, directory, auditor, tracker, dispatch.Config{
		ProtocolVersion: cfg.Dispatch.ProtocolVersion,
		QoS:             byte(cfg.Dispatch.QoS), //nolint:gosec // Validated to 0..2 by config
	})
	dispatcher.SetLogger(log.Component("dispatch"))

	patients := patient.NewSQLiteRepository(db.DB)
	prescriber := dispatch.NewPrescriber(patients, dispatcher)
	prescriber.SetLogger(log.Component("prescriber"))

	dedup := inbound.NewDeduplicator(store)
	dedup.SetLogger(log.Component("dedup"))

	router := inbound.NewRouter(inbound.Deps{
		Dedup:      dedup,
		Auditor:    auditor,
		Devices:    directory,
		Prescriber: prescriber,
		Thresholds: patients,
		Acks:       tracker,
		Treatment:  reconciler,
	}, cfg.Inbound.DedupTTLDuration(), 0)
	router.SetLogger(log.Component("inbound"))

	for _, pattern := range cfg.Inbound.Subscriptions {
		if subErr := mqttClient.Subscribe(pattern, byte(cfg.MQTT.QoS), router.HandleMessage); subErr != nil { //nolint:gosec // Validated to 0..2 by config
			return fmt.Errorf("subscribing to %q: %w", pattern, subErr)
		}
		log.Info("subscribed to device topics", "pattern", pattern)
	}

	// HTTP API and session channel
	health := map[string]api.HealthChecker{
		"database": db,
		"redis":    store,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		Devices:    deviceRepo,
		Sessions:   sessions,
		Presence:   reconciler,
		Prescriber: prescriber,
		Commands:   tracker,
		Audit:      auditRepo,
		Hub:        hub,
		Health:     health,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Sweeps run until shutdown. The liveness sweep's first cycle heals
	// records left online by an unclean stop.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return heartbeatSweep.Run(gctx) })
	g.Go(func() error { return livenessSweep.Run(gctx) })

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sweep stopped: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Session registry
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Redis
	// 6. Database

	log.Info("Therapy Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses THERAPY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("THERAPY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedDevices converts the configured pre-registered devices to records.
func seedDevices(seeds []config.DeviceSeed) []device.Device {
	out := make([]device.Device, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, device.Device{
			ID:         s.ID,
			DeviceNo:   s.DeviceNo,
			Name:       s.Name,
			DeviceType: s.DeviceType,
		})
	}
	return out
}

// healthCheck verifies every dependency in checks.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, hc := range checks {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
