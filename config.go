package knxtunnel

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxtunnel/internal/infrastructure/logging"
	"github.com/nerrad567/knxtunnel/internal/infrastructure/mqtt"
)

// DefaultGatewayPort is the standard KNXnet/IP UDP control port.
const DefaultGatewayPort = defaultGatewayPort

// Config is the root configuration for the tunnelling bridge. Loaded from
// YAML with environment variable overrides.
type Config struct {
	Bridge     BridgeSettings   `yaml:"bridge"`
	Gateway    GatewaySettings  `yaml:"gateway"`
	MQTT       mqtt.Config      `yaml:"mqtt"`
	Datapoints []DatapointEntry `yaml:"datapoints"`
	Logging    logging.Config   `yaml:"logging"`
}

// BridgeSettings contains bridge identity and operational settings.
type BridgeSettings struct {
	// ID uniquely identifies this bridge instance. Used in the MQTT client
	// ID and health reporting.
	ID string `yaml:"id"`
}

// GatewaySettings contains KNXnet/IP gateway connection settings.
type GatewaySettings struct {
	// Host is the gateway's IP address or hostname.
	Host string `yaml:"host"`

	// Port is the gateway's UDP control port. Default: 3671.
	Port int `yaml:"port"`

	AckTimeoutMS     int `yaml:"ack_timeout_ms"`
	AckRetries       int `yaml:"ack_retries"`
	ConfirmTimeoutS  int `yaml:"confirm_timeout_s"`
	ConnectTimeoutS  int `yaml:"connect_timeout_s"`
	ConnectAttempts  int `yaml:"connect_attempts"`

	HeartbeatIntervalS    int `yaml:"heartbeat_interval_s"`
	HeartbeatAckTimeoutS  int `yaml:"heartbeat_ack_timeout_s"`
	HeartbeatMaxFailures  int `yaml:"heartbeat_max_failures"`

	ReconnectBackoffMinS int `yaml:"reconnect_backoff_min_s"`
	ReconnectBackoffMaxS int `yaml:"reconnect_backoff_max_s"`

	MaxQueueAgeS int `yaml:"max_queue_age_s"`
}

// DatapointEntry binds a group address to a DPT and a friendly function
// name, as used in commissioning files.
type DatapointEntry struct {
	// Name is a local identifier for this datapoint, e.g. "living_room_switch".
	Name string `yaml:"name"`

	// GA is the KNX group address, any of the three textual forms
	// ("1/2/3", "1/2", "1234").
	GA string `yaml:"ga"`

	// DPT is the datapoint type identifier (e.g. "1.001", "5.001").
	// If empty and Function names a known canonical function, its default
	// DPT is used.
	DPT string `yaml:"dpt"`

	// Function is an optional canonical function name (see functions.go)
	// used to default DPT and for documentation purposes.
	Function string `yaml:"function"`
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KNXTUNNEL_SECTION_KEY, for
// example KNXTUNNEL_GATEWAY_HOST, KNXTUNNEL_MQTT_BROKER.
func LoadConfig(path string) (*Config, error) {
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

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeSettings{ID: "knxtunnel-bridge-01"},
		Gateway: GatewaySettings{
			Port:                 DefaultGatewayPort,
			AckTimeoutMS:         1000,
			AckRetries:           1,
			ConfirmTimeoutS:      3,
			ConnectTimeoutS:      10,
			ConnectAttempts:      3,
			HeartbeatIntervalS:   60,
			HeartbeatAckTimeoutS: 10,
			HeartbeatMaxFailures: 3,
			ReconnectBackoffMinS: 1,
			ReconnectBackoffMaxS: 60,
			MaxQueueAgeS:         30,
		},
		MQTT: mqtt.Config{
			Broker:    "tcp://localhost:1883",
			QoS:       1,
			KeepAlive: 60,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Datapoints: []DatapointEntry{},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern
// KNXTUNNEL_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KNXTUNNEL_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("KNXTUNNEL_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("KNXTUNNEL_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("KNXTUNNEL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("KNXTUNNEL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateDatapoints()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	return errs
}

func (c *Config) validateGateway() []string {
	var errs []string
	if c.Gateway.Host == "" {
		errs = append(errs, "gateway.host is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	return errs
}

func (c *Config) validateDatapoints() []string {
	var errs []string
	names := make(map[string]bool, len(c.Datapoints))

	for i, dp := range c.Datapoints {
		if dp.Name == "" {
			errs = append(errs, fmt.Sprintf("datapoints[%d].name is required", i))
			continue
		}
		if names[dp.Name] {
			errs = append(errs, fmt.Sprintf("datapoints[%d].name %q is duplicate", i, dp.Name))
		}
		names[dp.Name] = true

		if dp.GA == "" {
			errs = append(errs, fmt.Sprintf("datapoints[%d].ga is required", i))
		} else if _, err := ParseGroupAddress(dp.GA); err != nil {
			errs = append(errs, fmt.Sprintf("datapoints[%d].ga %q is invalid: %v", i, dp.GA, err))
		}

		dpt := dp.DPT
		if dpt == "" && dp.Function != "" {
			dpt = string(DefaultDPTForFunction(dp.Function))
		}
		if dpt == "" {
			errs = append(errs, fmt.Sprintf("datapoints[%d].dpt is required (or a recognised function)", i))
		} else if _, err := Lookup(DPT(dpt)); err != nil {
			errs = append(errs, fmt.Sprintf("datapoints[%d].dpt %q is invalid: %v", i, dpt, err))
		}
	}

	return errs
}

func (c *Config) validateLogging() []string {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid (use debug, info, warn, or error)", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid (use json or text)", c.Logging.Format))
	}

	return errs
}

// ToConnectionConfig converts the gateway settings to a ConnectionConfig
// for NewConnection.
func (c *Config) ToConnectionConfig() ConnectionConfig {
	cc := DefaultConnectionConfig(c.Gateway.Host)
	cc.GatewayPort = c.Gateway.Port

	if c.Gateway.AckTimeoutMS > 0 {
		cc.AckTimeout = time.Duration(c.Gateway.AckTimeoutMS) * time.Millisecond
	}
	if c.Gateway.AckRetries > 0 {
		cc.AckRetries = c.Gateway.AckRetries
	}
	if c.Gateway.ConfirmTimeoutS > 0 {
		cc.ConfirmTimeout = time.Duration(c.Gateway.ConfirmTimeoutS) * time.Second
	}
	if c.Gateway.ConnectTimeoutS > 0 {
		cc.ConnectTimeout = time.Duration(c.Gateway.ConnectTimeoutS) * time.Second
	}
	if c.Gateway.ConnectAttempts > 0 {
		cc.ConnectAttempts = c.Gateway.ConnectAttempts
	}
	if c.Gateway.HeartbeatIntervalS > 0 {
		cc.HeartbeatInterval = time.Duration(c.Gateway.HeartbeatIntervalS) * time.Second
	}
	if c.Gateway.HeartbeatAckTimeoutS > 0 {
		cc.HeartbeatAckTimeout = time.Duration(c.Gateway.HeartbeatAckTimeoutS) * time.Second
	}
	if c.Gateway.HeartbeatMaxFailures > 0 {
		cc.HeartbeatMaxFailures = c.Gateway.HeartbeatMaxFailures
	}
	if c.Gateway.ReconnectBackoffMinS > 0 {
		cc.ReconnectBackoffMin = time.Duration(c.Gateway.ReconnectBackoffMinS) * time.Second
	}
	if c.Gateway.ReconnectBackoffMaxS > 0 {
		cc.ReconnectBackoffMax = time.Duration(c.Gateway.ReconnectBackoffMaxS) * time.Second
	}
	if c.Gateway.MaxQueueAgeS > 0 {
		cc.MaxQueueAge = time.Duration(c.Gateway.MaxQueueAgeS) * time.Second
	}

	return cc
}

// GetMQTTClientID returns the MQTT client ID, defaulting to the bridge ID
// with a "-mqtt" suffix if not set explicitly.
func (c *Config) GetMQTTClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return c.Bridge.ID + "-mqtt"
}

// String returns a string representation with the MQTT password masked.
// Use this for logging to prevent credential exposure.
func (c *Config) String() string {
	password := ""
	if c.MQTT.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("Config{Bridge:%+v, Gateway:%+v, MQTTBroker:%q, MQTTPassword:%s, Datapoints:%d}",
		c.Bridge, c.Gateway, c.MQTT.Broker, password, len(c.Datapoints))
}

// MarshalJSON implements json.Marshaler to redact the MQTT password in
// JSON output.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	safe := *c
	if safe.MQTT.Password != "" {
		safe.MQTT.Password = "[REDACTED]"
	}
	return json.Marshal((*alias)(&safe))
}
