// VitalMesh Core - Health Device Connection Hub
//
// This is the main entry point for the VitalMesh Core application.
// VitalMesh discovers, connects, and streams telemetry from
// heterogeneous health devices (smart inhalers, wearables, air-quality
// sensors) over three transports:
//   - Short-range wireless (via an external helper daemon)
//   - Local network sockets
//   - Serial links
//
// Telemetry and connection state flow out through an MQTT bridge and an
// optional InfluxDB sink, and are served live over HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitalmesh/vitalmesh-core/internal/api"
	mqttbridge "github.com/vitalmesh/vitalmesh-core/internal/bridges/mqtt"
	"github.com/vitalmesh/vitalmesh-core/internal/device"
	"github.com/vitalmesh/vitalmesh-core/internal/eventbus"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/config"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/database"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/influxdb"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/logging"
	"github.com/vitalmesh/vitalmesh-core/internal/infrastructure/mqtt"
	"github.com/vitalmesh/vitalmesh-core/internal/manager"
	"github.com/vitalmesh/vitalmesh-core/internal/sink"
	"github.com/vitalmesh/vitalmesh-core/internal/telemetry"
	"github.com/vitalmesh/vitalmesh-core/internal/transport"
	"github.com/vitalmesh/vitalmesh-core/internal/transport/ble"
	"github.com/vitalmesh/vitalmesh-core/internal/transport/serial"
	"github.com/vitalmesh/vitalmesh-core/internal/transport/socket"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// eventBusQueueSize is the per-subscriber queue depth for the internal
// event bus. Slow consumers drop events rather than stall producers.
const eventBusQueueSize = 256

// managerShutdownTimeout bounds how long Close waits for device
// sessions and reconnect loops to wind down.
const managerShutdownTimeout = 10 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting VitalMesh Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Initialise device registry
	deviceRepo, err := device.NewSQLiteRepository(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("initialising device repository: %w", err)
	}
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.Count())

	// Internal event bus: manager publishes, the MQTT bridge, InfluxDB
	// sink, and WebSocket hub subscribe.
	bus := eventbus.New(eventBusQueueSize, log)
	defer bus.Close()

	// Rolling in-memory telemetry buffers served by the API.
	buffers := telemetry.NewBufferSet(cfg.Telemetry.MaxSamples, cfg.Telemetry.MaxAgeDuration())

	// Build a transport adapter for each enabled transport.
	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		return fmt.Errorf("building transport adapters: %w", err)
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no transports enabled")
	}

	// Connection manager owns device sessions and reconnection.
	mgr := manager.New(manager.Options{
		Registry:   deviceRegistry,
		Adapters:   adapters,
		Decoder:    telemetry.NewDecoder(),
		Buffers:    buffers,
		Bus:        bus,
		Transports: cfg.Transports,
		Logger:     log,
	})
	defer func() {
		log.Info("closing connection manager")
		closeCtx, closeCancel := context.WithTimeout(context.Background(), managerShutdownTimeout)
		defer closeCancel()
		if closeErr := mgr.Close(closeCtx); closeErr != nil {
			log.Error("error closing connection manager", "error", closeErr)
		}
	}()

	dispatcher := manager.NewDispatcher(mgr, log)

	// Connect to MQTT broker and start the event bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		bridge, bridgeErr := mqttbridge.New(mqttbridge.Options{
			Bus:    bus,
			Broker: mqttClient,
			Sender: dispatcher,
			QoS:    byte(cfg.MQTT.QoS),
			Logger: log,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB and start the telemetry sink (optional)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		telemetrySink, sinkErr := sink.New(bus, influxClient, log)
		if sinkErr != nil {
			return fmt.Errorf("creating telemetry sink: %w", sinkErr)
		}
		if startErr := telemetrySink.Start(); startErr != nil {
			return fmt.Errorf("starting telemetry sink: %w", startErr)
		}
		defer func() {
			log.Info("stopping telemetry sink")
			telemetrySink.Stop()
		}()
		log.Info("telemetry sink started")
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Registry: deviceRegistry,
		Manager:  mgr,
		Sender:   dispatcher,
		Buffers:  buffers,
		Bus:      bus,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"websocket_path", cfg.API.WebSocket.Path,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Telemetry sink / InfluxDB (if enabled)
	// 3. MQTT bridge / MQTT (if enabled)
	// 4. Connection manager
	// 5. Event bus
	// 6. Database

	log.Info("VitalMesh Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses VITALMESH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VITALMESH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildAdapters creates a transport adapter for every enabled transport.
//
// Parameters:
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - []transport.Adapter: One adapter per enabled transport
//   - error: If a transport's backing resource cannot be set up
func buildAdapters(cfg *config.Config, log *logging.Logger) ([]transport.Adapter, error) {
	var adapters []transport.Adapter

	if cfg.Transports.Wireless.Enabled {
		backend, err := ble.NewHelperBackend(cfg.Transports.Wireless.Helper, log)
		if err != nil {
			return nil, fmt.Errorf("wireless helper: %w", err)
		}
		adapters = append(adapters, ble.NewAdapter(backend, log))
		log.Info("wireless transport enabled", "helper", cfg.Transports.Wireless.Helper)
	}

	if cfg.Transports.Socket.Enabled {
		adapters = append(adapters, socket.NewAdapter(cfg.Transports.Socket, log))
		log.Info("socket transport enabled", "known_devices", len(cfg.Transports.Socket.KnownDevices))
	}

	if cfg.Transports.Serial.Enabled {
		adapters = append(adapters, serial.NewAdapter(cfg.Transports.Serial, serial.NewSystemOpener(), log))
		log.Info("serial transport enabled", "baud_rate", cfg.Transports.Serial.BaudRate)
	}

	return adapters, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
