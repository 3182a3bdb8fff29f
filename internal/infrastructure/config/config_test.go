package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// validConfig returns a minimal configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		Site:     SiteConfig{ID: "site-001"},
		Database: DatabaseConfig{Path: "/data/graylogic-hub.db"},
		MQTT:     MQTTConfig{QoS: 1},
		API:      APIConfig{Port: 8080},
		Security: SecurityConfig{JWT: JWTConfig{Secret: validJWTSecret}},
		Jobs:     JobsConfig{MaxConcurrent: 4},
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
  qos: 1
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
integrations:
  kodi:
    - id: "kodi-lounge"
      name: "Lounge"
      host: "192.168.1.20"
  devolo_home_network:
    - id: "devolo-office"
      name: "Office adapter"
      serial: "1234567890"
      mac_address: "AA:BB:CC:DD:EE:FF"
automations:
  - id: "lights-on-with-tv"
    name: "Lights on with TV"
    triggers:
      - platform: device
        device_id: "kodi-lounge"
        domain: kodi
        entity_id: media_player.lounge
        type: turn_on
    actions:
      - service: light.turn_on
        data:
          entity_id: light.lounge
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if len(cfg.Integrations.Kodi) != 1 || cfg.Integrations.Kodi[0].Port != 8080 {
		t.Errorf("Integrations.Kodi = %+v, want one entry with default port 8080", cfg.Integrations.Kodi)
	}
	if len(cfg.Integrations.Devolo) != 1 || cfg.Integrations.Devolo[0].UpdateInterval != 300 {
		t.Errorf("Integrations.Devolo = %+v, want one entry with default interval 300", cfg.Integrations.Devolo)
	}
	if len(cfg.Automations) != 1 {
		t.Fatalf("len(Automations) = %d, want 1", len(cfg.Automations))
	}
	a := cfg.Automations[0]
	if !a.IsEnabled() {
		t.Error("IsEnabled() = false, want true when enabled is omitted")
	}
	if a.Triggers[0].Type != "turn_on" || a.Triggers[0].EntityID != "media_player.lounge" {
		t.Errorf("Triggers[0] = %+v", a.Triggers[0])
	}
	if a.Actions[0].Data["entity_id"] != "light.lounge" {
		t.Errorf("Actions[0].Data = %v", a.Actions[0].Data)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	f := false

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: "jwt.secret is required"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "at least 32"},
		{name: "no job concurrency", mutate: func(c *Config) { c.Jobs.MaxConcurrent = 0 }, wantErr: "jobs.max_concurrent"},
		{
			name: "duplicate integration id",
			mutate: func(c *Config) {
				c.Integrations.Kodi = []KodiConfig{{ID: "x", Name: "A"}}
				c.Integrations.Devolo = []DevoloConfig{{ID: "x", Serial: "1", MACAddress: "AA:BB:CC:DD:EE:FF", UpdateInterval: 300}}
			},
			wantErr: "not unique",
		},
		{
			name: "kodi without name",
			mutate: func(c *Config) {
				c.Integrations.Kodi = []KodiConfig{{ID: "kodi-1"}}
			},
			wantErr: "kodi[0].name",
		},
		{
			name: "devolo bad mac",
			mutate: func(c *Config) {
				c.Integrations.Devolo = []DevoloConfig{{ID: "d", Serial: "1", MACAddress: "nope", UpdateInterval: 300}}
			},
			wantErr: "not a MAC address",
		},
		{
			name: "devolo mac without separators",
			mutate: func(c *Config) {
				c.Integrations.Devolo = []DevoloConfig{{ID: "d", Serial: "1", MACAddress: "AABBCCDDEEFF", UpdateInterval: 300}}
			},
		},
		{
			name: "automation without triggers",
			mutate: func(c *Config) {
				c.Automations = []AutomationConfig{{ID: "a", Enabled: &f}}
			},
			wantErr: "at least one trigger",
		},
		{
			name: "action with service and device",
			mutate: func(c *Config) {
				c.Automations = []AutomationConfig{{
					ID:       "a",
					Triggers: []TriggerConfig{{Platform: "device"}},
					Actions:  []ActionConfig{{Service: "light.turn_on", DeviceID: "d"}},
				}}
			},
			wantErr: "exactly one of service or device_id",
		},
		{
			name: "device command without protocol",
			mutate: func(c *Config) {
				c.Automations = []AutomationConfig{{
					ID:       "a",
					Triggers: []TriggerConfig{{Platform: "device"}},
					Actions:  []ActionConfig{{DeviceID: "light-1", Command: "on"}},
				}}
			},
			wantErr: "need protocol and command",
		},
		{
			name: "service without domain",
			mutate: func(c *Config) {
				c.Automations = []AutomationConfig{{
					ID:       "a",
					Triggers: []TriggerConfig{{Platform: "device"}},
					Actions:  []ActionConfig{{Service: "turn_on"}},
				}}
			},
			wantErr: "must be domain.service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Site.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	for _, want := range []string{"site.id", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_API_PORT", "9090")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 9090},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_API_PORT", "eighty")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Jobs.MaxConcurrent < 1 {
		t.Errorf("defaultConfig Jobs.MaxConcurrent = %d, want >= 1", cfg.Jobs.MaxConcurrent)
	}
}
