package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic Hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Automations  []AutomationConfig `yaml:"automations"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// BridgeEvents forwards local bus events to graylogic/event/{type}
	// and fires events received from other hubs.
	BridgeEvents bool `yaml:"bridge_events"`
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
	MaxAttempts  int `yaml:"max_attempts"`
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// JobsConfig bounds the background job runner that executes automation actions.
type JobsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// IntegrationsConfig lists the configured integration instances.
// Each list element becomes one config entry at startup.
type IntegrationsConfig struct {
	Kodi   []KodiConfig   `yaml:"kodi"`
	Devolo []DevoloConfig `yaml:"devolo_home_network"`
}

// KodiConfig describes one Kodi media player.
type KodiConfig struct {
	// ID is the config entry id. It is also used as the device id.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DevoloConfig describes one devolo powerline adapter.
type DevoloConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Serial     string `yaml:"serial"`
	MACAddress string `yaml:"mac_address"`
	// UpdateInterval is the overview polling interval in seconds.
	// Default: 300
	UpdateInterval int `yaml:"update_interval"`
}

// AutomationConfig is an automation rule declared in YAML.
type AutomationConfig struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Enabled  *bool           `yaml:"enabled"`
	Triggers []TriggerConfig `yaml:"triggers"`
	Actions  []ActionConfig  `yaml:"actions"`
}

// IsEnabled reports whether the automation should be attached at startup.
// Automations without an explicit flag are enabled.
func (a AutomationConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// TriggerConfig is a device trigger inside an automation rule.
type TriggerConfig struct {
	Platform string `yaml:"platform"`
	DeviceID string `yaml:"device_id"`
	Domain   string `yaml:"domain"`
	EntityID string `yaml:"entity_id"`
	Type     string `yaml:"type"`
}

// ActionConfig is one step of an automation rule. Exactly one of Service
// or DeviceID must be set.
type ActionConfig struct {
	Service    string         `yaml:"service"`
	Data       map[string]any `yaml:"data"`
	DeviceID   string         `yaml:"device_id"`
	Protocol   string         `yaml:"protocol"`
	Command    string         `yaml:"command"`
	Parameters map[string]any `yaml:"parameters"`
	DelayMS    int            `yaml:"delay_ms"`
}

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:?[0-9A-Fa-f]{2}){5}$`)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
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
	cfg.applyIntegrationDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-hub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-hub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
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
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Jobs: JobsConfig{
			MaxConcurrent: 16,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Always override the JWT secret in production.
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// applyIntegrationDefaults fills per-instance defaults that cannot be
// expressed in defaultConfig because the lists are empty until parsed.
func (c *Config) applyIntegrationDefaults() {
	for i := range c.Integrations.Devolo {
		if c.Integrations.Devolo[i].UpdateInterval == 0 {
			c.Integrations.Devolo[i].UpdateInterval = 300
		}
	}
	for i := range c.Integrations.Kodi {
		if c.Integrations.Kodi[i].Port == 0 {
			c.Integrations.Kodi[i].Port = 8080
		}
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Jobs.MaxConcurrent < 1 {
		errs = append(errs, "jobs.max_concurrent must be at least 1")
	}

	// A forged token could operate physical devices.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	errs = append(errs, c.validateIntegrations()...)
	errs = append(errs, c.validateAutomations()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateIntegrations() []string {
	var errs []string
	seen := make(map[string]bool)

	checkID := func(section string, i int, id string) {
		switch {
		case id == "":
			errs = append(errs, fmt.Sprintf("integrations.%s[%d].id is required", section, i))
		case seen[id]:
			errs = append(errs, fmt.Sprintf("integrations.%s[%d].id %q is not unique", section, i, id))
		default:
			seen[id] = true
		}
	}

	for i, k := range c.Integrations.Kodi {
		checkID("kodi", i, k.ID)
		if k.Name == "" {
			errs = append(errs, fmt.Sprintf("integrations.kodi[%d].name is required", i))
		}
	}

	for i, d := range c.Integrations.Devolo {
		checkID("devolo_home_network", i, d.ID)
		if d.Serial == "" {
			errs = append(errs, fmt.Sprintf("integrations.devolo_home_network[%d].serial is required", i))
		}
		if !macPattern.MatchString(d.MACAddress) {
			errs = append(errs, fmt.Sprintf("integrations.devolo_home_network[%d].mac_address %q is not a MAC address", i, d.MACAddress))
		}
		if d.UpdateInterval < 1 {
			errs = append(errs, fmt.Sprintf("integrations.devolo_home_network[%d].update_interval must be positive", i))
		}
	}

	return errs
}

// validateAutomations only checks structure. Trigger semantics are
// validated against the integration schemas when the engine starts.
func (c *Config) validateAutomations() []string {
	var errs []string
	ids := make(map[string]bool)

	for i, a := range c.Automations {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("automations[%d].id is required", i))
		} else if ids[a.ID] {
			errs = append(errs, fmt.Sprintf("automations[%d].id %q is not unique", i, a.ID))
		}
		ids[a.ID] = true

		if len(a.Triggers) == 0 {
			errs = append(errs, fmt.Sprintf("automations[%d] needs at least one trigger", i))
		}
		for j, act := range a.Actions {
			hasService := act.Service != ""
			hasDevice := act.DeviceID != ""
			if hasService == hasDevice {
				errs = append(errs, fmt.Sprintf("automations[%d].actions[%d] must set exactly one of service or device_id", i, j))
			}
			if hasService && !strings.Contains(act.Service, ".") {
				errs = append(errs, fmt.Sprintf("automations[%d].actions[%d].service %q must be domain.service", i, j, act.Service))
			}
			if hasDevice && (act.Protocol == "" || act.Command == "") {
				errs = append(errs, fmt.Sprintf("automations[%d].actions[%d] device commands need protocol and command", i, j))
			}
			if act.DelayMS < 0 {
				errs = append(errs, fmt.Sprintf("automations[%d].actions[%d].delay_ms must not be negative", i, j))
			}
		}
	}

	return errs
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
