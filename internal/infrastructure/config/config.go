package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for cmdbroker.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Queue     QueueConfig     `yaml:"queue"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// QueueConfig contains command queue settings.
type QueueConfig struct {
	// PersistencePath is the JSON file holding pending commands across
	// restarts. Empty keeps the queue in memory only.
	PersistencePath string `yaml:"persistence_path"`

	Retention RetentionConfig `yaml:"retention"`

	// SweepInterval is how often (seconds) the background sweeper applies
	// the retention policy. 0 disables it; requests still sweep.
	SweepInterval int `yaml:"sweep_interval"`
}

// RetentionConfig contains retention windows in seconds.
type RetentionConfig struct {
	Completed         int `yaml:"completed"`
	Failed            int `yaml:"failed"`
	ProcessingTimeout int `yaml:"processing_timeout"`
}

// DatabaseConfig contains SQLite settings for the command history.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`

	// Ingress lets producers enqueue commands by publishing to
	// {topic_prefix}/ingress.
	Ingress bool `yaml:"ingress"`

	// StatsInterval is how often (seconds) retained queue stats are
	// published. 0 disables it.
	StatsInterval int `yaml:"stats_interval"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

	// ReportInterval is how often (seconds) queue depth is written.
	ReportInterval int `yaml:"report_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT  JWTConfig  `yaml:"jwt"`
	Auth AuthConfig `yaml:"auth"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// TokenTTL is the lifetime of minted tokens in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// AuthConfig controls bearer authentication on the HTTP API.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CMDBROKER_SECTION_KEY
// For example: CMDBROKER_QUEUE_PERSISTENCE_PATH, CMDBROKER_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			PersistencePath: "./data/commands.json",
			Retention: RetentionConfig{
				Completed:         3600,
				Failed:            86400,
				ProcessingTimeout: 300,
			},
			SweepInterval: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Path:        "./data/cmdbroker.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cmdbroker",
			},
			QoS:         1,
			TopicPrefix: "cmdbroker",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Ingress:       true,
			StatsInterval: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
	}
}

// envOverride binds one CMDBROKER_* variable to a config field.
// Unset variables leave the field alone; set-but-empty variables are
// ignored unless allowEmpty is true.
type envOverride struct {
	name       string
	allowEmpty bool
	apply      func(cfg *Config, v string) error
}

func envString(name string, field func(*Config) *string) envOverride {
	return envOverride{name: name, apply: func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}}
}

func envInt(name string, field func(*Config) *int) envOverride {
	return envOverride{name: name, apply: func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}}
}

func envBool(name string, field func(*Config) *bool) envOverride {
	return envOverride{name: name, apply: func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}}
}

// envOverrides lists every supported variable, CMDBROKER_<SECTION>_<KEY>.
var envOverrides = []envOverride{
	// An empty persistence path is meaningful: it disables persistence.
	{
		name:       "CMDBROKER_QUEUE_PERSISTENCE_PATH",
		allowEmpty: true,
		apply: func(cfg *Config, v string) error {
			cfg.Queue.PersistencePath = v
			return nil
		},
	},
	envString("CMDBROKER_API_HOST", func(c *Config) *string { return &c.API.Host }),
	envInt("CMDBROKER_API_PORT", func(c *Config) *int { return &c.API.Port }),
	envBool("CMDBROKER_DATABASE_ENABLED", func(c *Config) *bool { return &c.Database.Enabled }),
	envString("CMDBROKER_DATABASE_PATH", func(c *Config) *string { return &c.Database.Path }),
	envBool("CMDBROKER_MQTT_ENABLED", func(c *Config) *bool { return &c.MQTT.Enabled }),
	envString("CMDBROKER_MQTT_HOST", func(c *Config) *string { return &c.MQTT.Broker.Host }),
	envString("CMDBROKER_MQTT_USERNAME", func(c *Config) *string { return &c.MQTT.Auth.Username }),
	envString("CMDBROKER_MQTT_PASSWORD", func(c *Config) *string { return &c.MQTT.Auth.Password }),
	envBool("CMDBROKER_INFLUXDB_ENABLED", func(c *Config) *bool { return &c.InfluxDB.Enabled }),
	envString("CMDBROKER_INFLUXDB_URL", func(c *Config) *string { return &c.InfluxDB.URL }),
	envString("CMDBROKER_INFLUXDB_TOKEN", func(c *Config) *string { return &c.InfluxDB.Token }),
	envString("CMDBROKER_LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }),
	envString("CMDBROKER_JWT_SECRET", func(c *Config) *string { return &c.Security.JWT.Secret }),
	envBool("CMDBROKER_AUTH_ENABLED", func(c *Config) *bool { return &c.Security.Auth.Enabled }),
}

// applyEnvOverrides applies envOverrides on top of cfg.
func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || (v == "" && !o.allowEmpty) {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("parsing %s: %w", o.name, err)
		}
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Queue validation
	if c.Queue.Retention.Completed < 0 || c.Queue.Retention.Failed < 0 {
		errs = append(errs, "queue.retention windows must not be negative")
	}
	if c.Queue.Retention.ProcessingTimeout <= 0 {
		errs = append(errs, "queue.retention.processing_timeout must be positive")
	}
	if c.Queue.SweepInterval < 0 {
		errs = append(errs, "queue.sweep_interval must not be negative")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}
	if c.MQTT.StatsInterval < 0 {
		errs = append(errs, "mqtt.stats_interval must not be negative")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// A weak secret lets anyone forge tokens and drive the consumer.
	const minJWTSecretLength = 32
	if c.Security.Auth.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when auth is enabled (set CMDBROKER_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Durations converts the API timeouts to time.Duration values in the
// order read, write, idle.
func (t APITimeoutConfig) Durations() (read, write, idle time.Duration) {
	return time.Duration(t.Read) * time.Second,
		time.Duration(t.Write) * time.Second,
		time.Duration(t.Idle) * time.Second
}

// GetSweepInterval returns the background sweep interval as a Duration.
// Zero means the sweeper is disabled.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Queue.SweepInterval) * time.Second
}

// GetMQTTStatsInterval returns the queue stats publish interval.
func (c *Config) GetMQTTStatsInterval() time.Duration {
	return time.Duration(c.MQTT.StatsInterval) * time.Second
}

// GetInfluxReportInterval returns the queue depth write interval.
func (c *Config) GetInfluxReportInterval() time.Duration {
	return time.Duration(c.InfluxDB.ReportInterval) * time.Second
}

// GetTokenTTL returns the lifetime of minted JWTs.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.TokenTTL) * time.Minute
}

// Durations converts retention windows to time.Duration values in the order
// completed, failed, processing timeout.
func (r RetentionConfig) Durations() (completed, failed, processingTimeout time.Duration) {
	return time.Duration(r.Completed) * time.Second,
		time.Duration(r.Failed) * time.Second,
		time.Duration(r.ProcessingTimeout) * time.Second
}
