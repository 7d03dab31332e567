package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for espnow2mqtt.
// Values come from defaults, an optional YAML file, an optional .env file
// and finally the process environment.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Serial   SerialConfig   `yaml:"serial"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// String redacts the password so credentials never reach the logs.
func (a MQTTAuthConfig) String() string {
	if a.Password == "" {
		return fmt.Sprintf("{Username:%s}", a.Username)
	}
	return fmt.Sprintf("{Username:%s Password:***}", a.Username)
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// SerialConfig describes the link to the ESP-NOW gateway radio.
type SerialConfig struct {
	// Port is the device path, e.g. /dev/ttyUSB0 or COM3.
	Port string `yaml:"port"`

	// BaudRate must match the gateway firmware. Default: 9600.
	BaudRate int `yaml:"baud_rate"`

	// ResetOnConnect pulses RTS after opening the port to reboot the radio.
	ResetOnConnect bool `yaml:"reset_on_connect"`

	// ReconnectDelay is the initial delay between open attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// WriteQueue is the number of frames buffered for the writer goroutine.
	WriteQueue int `yaml:"write_queue"`
}

// BridgeConfig tunes the ESP-NOW to Home Assistant bridge.
type BridgeConfig struct {
	// HAPrefix is the Home Assistant discovery prefix.
	HAPrefix string `yaml:"ha_prefix"`

	// BridgePrefix is the root of every entity state/command topic.
	BridgePrefix string `yaml:"bridge_prefix"`

	// DiscoveryCooldown is the quiet period after a discovery publish
	// before queued state is released.
	DiscoveryCooldown time.Duration `yaml:"discovery_cooldown"`

	// RSSIDebounce collapses bursts of RSSI samples per device.
	RSSIDebounce time.Duration `yaml:"rssi_debounce"`

	// DiscoveryRequestTTL is how long a discovery request to the mesh
	// suppresses repeats for the same entity.
	DiscoveryRequestTTL time.Duration `yaml:"discovery_request_ttl"`

	// MaxPendingJobs caps jobs queued per unresolved entity. 0 = unbounded.
	MaxPendingJobs int `yaml:"max_pending_jobs"`

	// GatewayInterval is how often the gateway connectivity state is republished.
	GatewayInterval time.Duration `yaml:"gateway_interval"`

	// WizmoteTopic receives WiZmote button names to broadcast. Empty disables it.
	WizmoteTopic string `yaml:"wizmote_topic"`

	// SupportURL is advertised in the discovery origin block.
	SupportURL string `yaml:"support_url"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains settings for the SQLite sightings journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// TxStatusRetention is how long delivery reports are kept. Zero keeps
	// them forever.
	TxStatusRetention time.Duration `yaml:"tx_status_retention"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if path is non-empty
//  3. Variables from envFile, if it exists (never overrides the real environment)
//  4. Environment variables
//
// Environment variables keep the names used by existing deployments
// (MQTT_HOST, SERIAL_PORT, ...) plus ESPNOW2MQTT_* for everything else.
//
// Parameters:
//   - path: Path to the YAML configuration file ("" to skip)
//   - envFile: Path to a dotenv file ("" to skip)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If a file cannot be read or parsed, or validation fails
func Load(path, envFile string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = "espnow2mqtt-" + uuid.NewString()[:8]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Serial: SerialConfig{
			BaudRate:       9600,
			ReconnectDelay: 2 * time.Second,
			WriteQueue:     64,
		},
		Bridge: BridgeConfig{
			HAPrefix:            "homeassistant",
			BridgePrefix:        "espnow2mqtt",
			DiscoveryCooldown:   time.Second,
			RSSIDebounce:        time.Second,
			DiscoveryRequestTTL: 3 * time.Second,
			MaxPendingJobs:      64,
			GatewayInterval:     time.Minute,
			WizmoteTopic:        "espnow/wizmote/send",
			SupportURL:          "https://github.com/tanishqmanuja/espnow2mqtt",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/espnow2mqtt.db",
			WALMode:           true,
			BusyTimeout:       5,
			TxStatusRetention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	// MQTT
	setString("MQTT_HOST", &cfg.MQTT.Broker.Host)
	setInt("MQTT_PORT", &cfg.MQTT.Broker.Port)
	setString("MQTT_USER", &cfg.MQTT.Auth.Username)
	setString("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	setString("MQTT_CLIENT_ID", &cfg.MQTT.Broker.ClientID)
	setString("MQTT_HA_PREFIX", &cfg.Bridge.HAPrefix)
	setString("MQTT_ESPNOW2MQTT_PREFIX", &cfg.Bridge.BridgePrefix)

	// Serial
	setString("SERIAL_PORT", &cfg.Serial.Port)
	setInt("SERIAL_BAUD_RATE", &cfg.Serial.BaudRate)
	setBool("SERIAL_RESET_ON_CONNECT", &cfg.Serial.ResetOnConnect)

	// Everything else
	setString("ESPNOW2MQTT_LOG_LEVEL", &cfg.Logging.Level)
	setString("ESPNOW2MQTT_LOG_FORMAT", &cfg.Logging.Format)
	setBool("ESPNOW2MQTT_INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	setString("ESPNOW2MQTT_INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("ESPNOW2MQTT_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	setBool("ESPNOW2MQTT_DATABASE_ENABLED", &cfg.Database.Enabled)
	setString("ESPNOW2MQTT_DATABASE_PATH", &cfg.Database.Path)
	setDuration("ESPNOW2MQTT_TX_STATUS_RETENTION", &cfg.Database.TxStatusRetention)
	setInt("ESPNOW2MQTT_MAX_PENDING_JOBS", &cfg.Bridge.MaxPendingJobs)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required (set MQTT_HOST)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Serial validation
	if c.Serial.Port == "" {
		errs = append(errs, "serial.port is required (set SERIAL_PORT)")
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}

	// Bridge validation
	if strings.Trim(c.Bridge.HAPrefix, "/") == "" {
		errs = append(errs, "bridge.ha_prefix is required")
	}
	if strings.Trim(c.Bridge.BridgePrefix, "/") == "" {
		errs = append(errs, "bridge.bridge_prefix is required")
	}
	if c.Bridge.MaxPendingJobs < 0 {
		errs = append(errs, "bridge.max_pending_jobs must be 0 (unbounded) or positive")
	}
	if c.Bridge.DiscoveryCooldown < 0 || c.Bridge.RSSIDebounce < 0 || c.Bridge.DiscoveryRequestTTL < 0 {
		errs = append(errs, "bridge durations must not be negative")
	}

	// Optional sinks
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.TxStatusRetention < 0 {
		errs = append(errs, "database.tx_status_retention must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
