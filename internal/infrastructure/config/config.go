package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of configs/config.yaml.
type Config struct {
	Instances []InstanceConfig `yaml:"instances"`
	Hub       HubConfig        `yaml:"hub"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	API       APIConfig        `yaml:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	Logging   LoggingConfig    `yaml:"logging"`
	Security  SecurityConfig   `yaml:"security"`
}

// InstanceConfig describes one vendor system and the partition it bridges.
type InstanceConfig struct {
	// ID scopes dispatch channels, MQTT topics and metrics.
	ID string `yaml:"id"`

	// BaseURL is the vendor web API, e.g. https://protector.example.com
	BaseURL string `yaml:"base_url"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// SessionCookie is a pre-obtained ss-id value. Optional when
	// credentials are set.
	SessionCookie string `yaml:"session_cookie"`

	PartitionID int `yaml:"partition_id"`

	// VerifySSL enables certificate verification. Default: true
	VerifySSL bool `yaml:"verify_ssl"`
}

// String returns a redacted description safe for logging.
func (i InstanceConfig) String() string {
	return fmt.Sprintf("instance %s (%s, partition %d, user %q, password %s, cookie %s)",
		i.ID, i.BaseURL, i.PartitionID, i.Username, redact(i.Password), redact(i.SessionCookie))
}

func redact(s string) string {
	if s == "" {
		return "unset"
	}
	return "[redacted]"
}

// HubConfig contains hub connection and classification timing.
type HubConfig struct {
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	ReconnectJitter   time.Duration `yaml:"reconnect_jitter"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	RebuildInterval   time.Duration `yaml:"rebuild_interval"`
	RecencyWindow     time.Duration `yaml:"recency_window"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	HealthInterval    time.Duration `yaml:"health_interval"`
}

// MQTTConfig controls republishing onto a broker. With Enabled false the
// forwarders, echo bridges and health reporter are not started.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTAuthConfig is optional; an empty username connects anonymously.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect interval, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the observer HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds the observer's HTTP timeouts in whole seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// CORSConfig lists browser origins allowed to call the API. Empty allows any.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains event relay settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig selects level (debug|info|warn|error), format (json|text)
// and output (stdout|stderr).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings. An empty secret leaves the
// observer API open.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load builds the configuration from defaults, then the YAML file at path,
// then PROTECTOR_* environment variables, and validates the result. Nothing
// is returned unless every instance is usable.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyInstanceDefaults(cfg, data)

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig holds the values a minimal file (instances only) runs with.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			ReconnectBase:     5 * time.Second,
			ReconnectMax:      30 * time.Second,
			ReconnectJitter:   1500 * time.Millisecond,
			ReadTimeout:       60 * time.Second,
			KeepaliveInterval: 15 * time.Second,
			ShutdownTimeout:   3 * time.Second,
			RebuildInterval:   30 * time.Second,
			RecencyWindow:     time.Second,
			RequestTimeout:    15 * time.Second,
			HealthInterval:    30 * time.Second,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "protector-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyInstanceDefaults sets verify_ssl to true for instances that do not
// mention it. yaml.v3 cannot tell an omitted bool from false, so the raw
// document is inspected.
func applyInstanceDefaults(cfg *Config, data []byte) {
	var raw struct {
		Instances []map[string]any `yaml:"instances"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}
	for i := range cfg.Instances {
		if i >= len(raw.Instances) {
			break
		}
		if _, ok := raw.Instances[i]["verify_ssl"]; !ok {
			cfg.Instances[i].VerifySSL = true
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Global settings use PROTECTOR_SECTION_KEY; per-instance secrets use
// PROTECTOR_INSTANCE_<ID>_PASSWORD and PROTECTOR_INSTANCE_<ID>_SESSION_COOKIE
// with the id uppercased and dashes replaced by underscores.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("PROTECTOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PROTECTOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PROTECTOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PROTECTOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Security
	if v := os.Getenv("PROTECTOR_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Instances
	for i := range cfg.Instances {
		key := InstanceEnvKey(cfg.Instances[i].ID)
		if v := os.Getenv("PROTECTOR_INSTANCE_" + key + "_PASSWORD"); v != "" {
			cfg.Instances[i].Password = v
		}
		if v := os.Getenv("PROTECTOR_INSTANCE_" + key + "_SESSION_COOKIE"); v != "" {
			cfg.Instances[i].SessionCookie = v
		}
	}
}

// instanceIDPattern keeps ids usable as a single MQTT topic level.
var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// InstanceEnvKey returns the environment variable fragment for an instance id.
func InstanceEnvKey(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(id))
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Instances
	if len(c.Instances) == 0 {
		errs = append(errs, "at least one instance is required")
	}
	seen := make(map[string]bool)
	for i, inst := range c.Instances {
		prefix := fmt.Sprintf("instances[%d]", i)
		if inst.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if seen[inst.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, inst.ID))
		} else if !instanceIDPattern.MatchString(inst.ID) {
			errs = append(errs, fmt.Sprintf("%s.id %q may only contain letters, digits, '_' and '-'", prefix, inst.ID))
		}
		seen[inst.ID] = true

		if u, err := url.Parse(inst.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, prefix+".base_url must be an http or https URL")
		}
		if inst.PartitionID <= 0 {
			errs = append(errs, prefix+".partition_id must be positive")
		}
		if inst.SessionCookie == "" && (inst.Username == "" || inst.Password == "") {
			errs = append(errs, prefix+" needs session_cookie or username and password")
		}
	}

	// Hub timing
	durations := []struct {
		name string
		v    time.Duration
	}{
		{"hub.reconnect_base", c.Hub.ReconnectBase},
		{"hub.reconnect_max", c.Hub.ReconnectMax},
		{"hub.read_timeout", c.Hub.ReadTimeout},
		{"hub.keepalive_interval", c.Hub.KeepaliveInterval},
		{"hub.shutdown_timeout", c.Hub.ShutdownTimeout},
		{"hub.rebuild_interval", c.Hub.RebuildInterval},
		{"hub.recency_window", c.Hub.RecencyWindow},
		{"hub.request_timeout", c.Hub.RequestTimeout},
		{"hub.health_interval", c.Hub.HealthInterval},
	}
	for _, d := range durations {
		if d.v <= 0 {
			errs = append(errs, d.name+" must be positive")
		}
	}
	if c.Hub.ReconnectJitter < 0 {
		errs = append(errs, "hub.reconnect_jitter must not be negative")
	}
	if c.Hub.ReconnectMax < c.Hub.ReconnectBase {
		errs = append(errs, "hub.reconnect_max must not be below hub.reconnect_base")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security: the secret is optional, but a weak one is rejected.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
