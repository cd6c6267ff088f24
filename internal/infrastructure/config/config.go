package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Therapy Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Presence  PresenceConfig  `yaml:"presence"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Inbound   InboundConfig   `yaml:"inbound"`
	Security  SecurityConfig  `yaml:"security"`
	Devices   []DeviceSeed    `yaml:"devices"`
}

// DatabaseConfig locates the SQLite file holding devices, patients and the audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig contains shared state store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// DialTimeout and OpTimeout are in seconds.
	DialTimeout int `yaml:"dial_timeout"`
	OpTimeout   int `yaml:"op_timeout"`
}

// MQTTConfig is the device broker connection. QoS applies to outbound
// commands and inbound subscriptions alike.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig is the clinical HTTP API and socket listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig values are in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig governs browser access from the clinic dashboard.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings shared by the device session channel
// and the viewer broadcast channel.
type WebSocketConfig struct {
	DevicePath     string `yaml:"device_path"`
	ViewerPath     string `yaml:"viewer_path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables the optional presence telemetry sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format and destination for logging.New.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PresenceConfig contains presence reconciliation timings.
// All values are in seconds.
type PresenceConfig struct {
	// HeartbeatTimeout is how long a device may go without a heartbeat
	// before the heartbeat sweep forces it offline. It is also the TTL of
	// the cached heartbeat key.
	HeartbeatTimeout int `yaml:"heartbeat_timeout"`

	HeartbeatSweepInterval int `yaml:"heartbeat_sweep_interval"`
	LivenessSweepInterval  int `yaml:"liveness_sweep_interval"`

	// PersistInterval is the minimum gap between durable heartbeat writes
	// for a device that remains online. Heartbeats carrying metrics are
	// always persisted.
	PersistInterval int `yaml:"persist_interval"`

	// OperationTimeout bounds each cache and durable call made while
	// reconciling presence.
	OperationTimeout int `yaml:"operation_timeout"`
}

// DispatchConfig contains outbound command settings.
type DispatchConfig struct {
	// DeviceType is the first topic segment used when a device record
	// carries no type of its own.
	DeviceType      string `yaml:"device_type"`
	ProtocolVersion string `yaml:"protocol_version"`
	QoS             int    `yaml:"qos"`
}

// InboundConfig contains broker subscription settings.
type InboundConfig struct {
	Subscriptions []string `yaml:"subscriptions"`
	// DedupTTL is the duplicate-suppression window in seconds.
	DedupTTL int `yaml:"dedup_ttl"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT verification settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// DeviceSeed describes a pre-registered device inserted at startup when absent.
type DeviceSeed struct {
	ID         int64  `yaml:"id"`
	DeviceNo   int    `yaml:"device_no"`
	Name       string `yaml:"name"`
	DeviceType string `yaml:"device_type"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: THERAPY_SECTION_KEY
// For example: THERAPY_DATABASE_PATH, THERAPY_REDIS_ADDR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/therapycore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 5,
			OpTimeout:   3,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "therapycore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			DevicePath:     "/ws/device",
			ViewerPath:     "/ws/viewer",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Presence: PresenceConfig{
			HeartbeatTimeout:       120,
			HeartbeatSweepInterval: 60,
			LivenessSweepInterval:  30,
			PersistInterval:        60,
			OperationTimeout:       3,
		},
		Dispatch: DispatchConfig{
			DeviceType:      "fes",
			ProtocolVersion: "1.0",
			QoS:             2,
		},
		Inbound: InboundConfig{
			Subscriptions: []string{"+/+/+"},
			DedupTTL:      600,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: THERAPY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("THERAPY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Redis
	if v := os.Getenv("THERAPY_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("THERAPY_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("THERAPY_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	// MQTT
	if v := os.Getenv("THERAPY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("THERAPY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("THERAPY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("THERAPY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("THERAPY_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// InfluxDB
	if v := os.Getenv("THERAPY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("THERAPY_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("THERAPY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Dispatch.QoS < 0 || c.Dispatch.QoS > 2 {
		errs = append(errs, "dispatch.qos must be 0, 1, or 2")
	}
	if c.Dispatch.ProtocolVersion == "" {
		errs = append(errs, "dispatch.protocol_version is required")
	}
	if c.Dispatch.DeviceType == "" || strings.ContainsAny(c.Dispatch.DeviceType, "/+#") {
		errs = append(errs, "dispatch.device_type must be a single topic segment")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Presence.HeartbeatTimeout <= 0 {
		errs = append(errs, "presence.heartbeat_timeout must be positive")
	}
	if c.Presence.HeartbeatSweepInterval <= 0 {
		errs = append(errs, "presence.heartbeat_sweep_interval must be positive")
	}
	if c.Presence.LivenessSweepInterval <= 0 {
		errs = append(errs, "presence.liveness_sweep_interval must be positive")
	}
	if c.Presence.OperationTimeout <= 0 {
		errs = append(errs, "presence.operation_timeout must be positive")
	}

	if c.Inbound.DedupTTL <= 0 {
		errs = append(errs, "inbound.dedup_ttl must be positive")
	}

	seenIDs := make(map[int64]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID <= 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].id must be positive", i))
		}
		if seenIDs[d.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %d is duplicated", i, d.ID))
		}
		seenIDs[d.ID] = true
	}

	// The JWT secret guards every clinical API route.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set THERAPY_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout, WriteTimeout and IdleTimeout feed http.Server.
func (a APIConfig) ReadTimeout() time.Duration  { return seconds(a.Timeouts.Read) }
func (a APIConfig) WriteTimeout() time.Duration { return seconds(a.Timeouts.Write) }
func (a APIConfig) IdleTimeout() time.Duration  { return seconds(a.Timeouts.Idle) }

// HeartbeatTimeoutDuration returns the presence heartbeat timeout.
func (p PresenceConfig) HeartbeatTimeoutDuration() time.Duration {
	return seconds(p.HeartbeatTimeout)
}

// HeartbeatSweepIntervalDuration returns the heartbeat sweep period.
func (p PresenceConfig) HeartbeatSweepIntervalDuration() time.Duration {
	return seconds(p.HeartbeatSweepInterval)
}

// LivenessSweepIntervalDuration returns the connection-liveness sweep period.
func (p PresenceConfig) LivenessSweepIntervalDuration() time.Duration {
	return seconds(p.LivenessSweepInterval)
}

// PersistIntervalDuration returns the durable heartbeat write cadence.
func (p PresenceConfig) PersistIntervalDuration() time.Duration {
	return seconds(p.PersistInterval)
}

// OperationTimeoutDuration returns the per-call bound for cache and durable writes.
func (p PresenceConfig) OperationTimeoutDuration() time.Duration {
	return seconds(p.OperationTimeout)
}

// DedupTTLDuration returns the duplicate-suppression window.
func (i InboundConfig) DedupTTLDuration() time.Duration {
	return seconds(i.DedupTTL)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
