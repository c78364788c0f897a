package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for VitalMesh Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Database   DatabaseConfig   `yaml:"database"`
	Transports TransportsConfig `yaml:"transports"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NodeConfig identifies this VitalMesh node.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings for the device catalog.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// TransportsConfig groups per-transport connection settings.
type TransportsConfig struct {
	Wireless WirelessConfig `yaml:"wireless"`
	Socket   SocketConfig   `yaml:"socket"`
	Serial   SerialConfig   `yaml:"serial"`
}

// TransportTuning holds the lifecycle timing knobs shared by every transport.
//
// A snapshot of these values is taken when a connection attempt starts and
// remains in effect for the lifetime of that attempt; edits apply to the
// next connect.
type TransportTuning struct {
	// ConnectTimeout is the maximum time for a single connect attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// DiscoveryTimeout bounds a discovery sweep (seconds).
	DiscoveryTimeout int `yaml:"discovery_timeout"`

	// ReconnectDelay is the fixed delay between automatic reconnection
	// attempts after an unsolicited disconnect (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`

	// MaxReconnectAttempts caps automatic reconnection attempts before the
	// device is marked failed. 0 disables automatic reconnection.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// WirelessConfig contains short-range wireless transport settings.
type WirelessConfig struct {
	Enabled bool            `yaml:"enabled"`
	Tuning  TransportTuning `yaml:"tuning"`

	// Helper is the connection URL of the wireless helper daemon that
	// owns the radio hardware. Supported schemes: unix://, tcp://.
	Helper string `yaml:"helper"`
}

// SocketConfig contains local network socket transport settings.
type SocketConfig struct {
	Enabled bool            `yaml:"enabled"`
	Tuning  TransportTuning `yaml:"tuning"`

	// KnownDevices is the externally supplied address book probed during
	// discovery. Socket devices cannot be found by scanning.
	KnownDevices []KnownDevice `yaml:"known_devices"`
}

// KnownDevice describes a pre-configured socket device endpoint.
type KnownDevice struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

// SerialConfig contains serial link transport settings.
type SerialConfig struct {
	Enabled bool            `yaml:"enabled"`
	Tuning  TransportTuning `yaml:"tuning"`

	// BaudRate for opened ports. Default: 115200.
	BaudRate int `yaml:"baud_rate"`

	// Delimiter splits the raw byte stream into frames. Default: "\n".
	Delimiter string `yaml:"delimiter"`
}

// TelemetryConfig contains retention policy for the in-memory sample buffer.
type TelemetryConfig struct {
	// MaxSamples is the per-device retention cap. Default: 100.
	MaxSamples int `yaml:"max_samples"`

	// MaxAge is the oldest sample retained, in seconds. Default: 300.
	MaxAge int `yaml:"max_age"`
}

// MQTTConfig contains settings for the outbound MQTT event bridge.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains settings for the optional telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket streaming settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VITALMESH_SECTION_KEY
// For example: VITALMESH_DATABASE_PATH, VITALMESH_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "vitalmesh-001",
			Name: "VitalMesh Core",
		},
		Database: DatabaseConfig{
			Path:        "./data/vitalmesh.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Transports: TransportsConfig{
			Wireless: WirelessConfig{
				Enabled: true,
				Tuning:  defaultTuning(),
				Helper:  "unix:///run/vitalmesh/blehelper.sock",
			},
			Socket: SocketConfig{
				Enabled: true,
				Tuning:  defaultTuning(),
			},
			Serial: SerialConfig{
				Enabled:   true,
				Tuning:    defaultTuning(),
				BaudRate:  115200,
				Delimiter: "\n",
			},
		},
		Telemetry: TelemetryConfig{
			MaxSamples: 100,
			MaxAge:     300,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vitalmesh-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VITALMESH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VITALMESH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("VITALMESH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VITALMESH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VITALMESH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("VITALMESH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("VITALMESH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("VITALMESH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Telemetry.MaxSamples < 1 {
		errs = append(errs, "telemetry.max_samples must be at least 1")
	}
	if c.Telemetry.MaxAge < 1 {
		errs = append(errs, "telemetry.max_age must be at least 1 second")
	}

	for _, kd := range c.Transports.Socket.KnownDevices {
		if kd.ID == "" {
			errs = append(errs, "transports.socket.known_devices entries require an id")
			break
		}
		if kd.Host == "" || kd.Port == 0 {
			errs = append(errs, fmt.Sprintf("transports.socket.known_devices[%s] requires host and port", kd.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectTimeoutDuration returns the connect timeout as a Duration.
func (t TransportTuning) ConnectTimeoutDuration() time.Duration {
	return time.Duration(t.ConnectTimeout) * time.Second
}

// DiscoveryTimeoutDuration returns the discovery timeout as a Duration.
func (t TransportTuning) DiscoveryTimeoutDuration() time.Duration {
	return time.Duration(t.DiscoveryTimeout) * time.Second
}

// ReconnectDelayDuration returns the reconnect delay as a Duration.
func (t TransportTuning) ReconnectDelayDuration() time.Duration {
	return time.Duration(t.ReconnectDelay) * time.Second
}

// MaxAgeDuration returns the telemetry retention age as a Duration.
func (c TelemetryConfig) MaxAgeDuration() time.Duration {
	return time.Duration(c.MaxAge) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

func defaultTuning() TransportTuning {
	return TransportTuning{
		ConnectTimeout:       10,
		DiscoveryTimeout:     15,
		ReconnectDelay:       5,
		MaxReconnectAttempts: 5,
	}
}
