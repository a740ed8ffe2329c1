package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the configuration file.
const (
	EnvWiFiSSID     = "WAGA_WIFI_SSID"
	EnvWiFiPassword = "WAGA_WIFI_PASS"
	EnvMQTTUsername = "WAGA_MQTT_USERNAME"
	EnvMQTTPassword = "WAGA_MQTT_PASSWORD"
)

// Acquisition failure policies.
const (
	AbortRun    = "abort_run"
	SkipCycle   = "skip_cycle"
	RetryNTimes = "retry_n_times"
)

// Config represents the node configuration. It is read once at start and
// treated as immutable afterwards.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	WiFi        WiFiConfig        `yaml:"wifi"`
	Broker      BrokerConfig      `yaml:"broker"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Log         LogConfig         `yaml:"log"`
	Mock        MockConfig        `yaml:"mock"`
}

// DeviceConfig identifies the node. The ID prefixes every topic.
type DeviceConfig struct {
	ID string `yaml:"id"`
}

// WiFiConfig contains the wireless client configuration.
type WiFiConfig struct {
	Interface string `yaml:"interface"`
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`
	// AssociateTimeout bounds association. Zero waits forever.
	AssociateTimeout time.Duration `yaml:"associate_timeout"`
	Retry            RetryConfig   `yaml:"retry"`
}

// RetryConfig controls the bounded reconnect at startup.
// MaxRetries of 0 makes a single attempt.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// BrokerConfig contains the MQTT broker connection parameters.
type BrokerConfig struct {
	URL       string        `yaml:"url"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	KeepAlive time.Duration `yaml:"keep_alive"`
	// Embedded starts an in-process broker on URL (mock mode only).
	Embedded bool `yaml:"embedded"`
}

// SensorConfig contains the sensor bridge serial line configuration.
type SensorConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// SamplingConfig contains the cycle cadence.
type SamplingConfig struct {
	Samples     int           `yaml:"samples"`      // Samples per channel per cycle (N)
	SampleDelay time.Duration `yaml:"sample_delay"` // Delay after each sample round
	CycleDelay  time.Duration `yaml:"cycle_delay"`  // Delay between cycles
}

// ChannelsConfig holds the four fixed channels.
type ChannelsConfig struct {
	VCC   ChannelConfig `yaml:"vcc"`
	VBAT  ChannelConfig `yaml:"vbat"`
	Value ChannelConfig `yaml:"value"` // Amplifier channel A, gain 128
	ChB   ChannelConfig `yaml:"chb"`   // Amplifier channel B, gain 32
}

// ChannelConfig contains per-channel publishing parameters.
type ChannelConfig struct {
	Topic       string            `yaml:"topic"`
	Retain      *bool             `yaml:"retain"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// Retained reports the retain flag, defaulting to true.
func (c ChannelConfig) Retained() bool {
	return c.Retain == nil || *c.Retain
}

// CalibrationConfig is a linear transform applied to the aggregated reading.
// A zero Gain means pass-through.
type CalibrationConfig struct {
	Offset float32 `yaml:"offset"`
	Gain   float32 `yaml:"gain"`
}

// AcquisitionConfig selects what happens when a sensor read fails.
type AcquisitionConfig struct {
	OnFailure  string        `yaml:"on_failure"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// MockConfig contains simulated device parameters.
type MockConfig struct {
	VCC        uint16  `yaml:"vcc"`         // Raw VCC count (before divider scaling)
	VBAT       uint16  `yaml:"vbat"`        // Raw VBAT count (before divider scaling)
	Load       int32   `yaml:"load"`        // Amplifier channel A count
	ChB        int32   `yaml:"chb"`         // Amplifier channel B count
	NoiseLevel float64 `yaml:"noise_level"` // Peak noise in counts
	FailAfter  int     `yaml:"fail_after"`  // Fail every read after this many reads (0 = never)
	LinkFail   string  `yaml:"link_fail"`   // Link stage that fails (empty = none)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID: "waga1",
		},
		WiFi: WiFiConfig{
			Interface: "wlan0",
			Retry: RetryConfig{
				MaxRetries:      0,
				InitialInterval: 2 * time.Second,
				MaxInterval:     60 * time.Second,
			},
		},
		Broker: BrokerConfig{
			URL:       "tcp://192.168.1.12:1883",
			KeepAlive: 30 * time.Second,
		},
		Sensor: SensorConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    115200,
			ReadTimeout: time.Second,
		},
		Sampling: SamplingConfig{
			Samples:     1,
			SampleDelay: 500 * time.Millisecond,
			CycleDelay:  10 * time.Second,
		},
		Channels: ChannelsConfig{
			VCC:   ChannelConfig{Topic: "vcc"},
			VBAT:  ChannelConfig{Topic: "vbat"},
			Value: ChannelConfig{Topic: "value"},
			ChB:   ChannelConfig{Topic: "chb"},
		},
		Acquisition: AcquisitionConfig{
			OnFailure:  AbortRun,
			Retries:    3,
			RetryDelay: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Mock: MockConfig{
			VCC:        1650,
			VBAT:       2050,
			Load:       -403300,
			ChB:        12000,
			NoiseLevel: 20,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. Secrets set in the environment
// take precedence over the file.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ensureDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Sampling.Samples < 1 {
		return fmt.Errorf("sampling.samples must be at least 1, got %d", c.Sampling.Samples)
	}
	if c.Sampling.SampleDelay < 0 || c.Sampling.CycleDelay < 0 {
		return errors.New("sampling delays must not be negative")
	}

	switch c.Acquisition.OnFailure {
	case AbortRun, SkipCycle:
	case RetryNTimes:
		if c.Acquisition.Retries < 1 {
			return fmt.Errorf("acquisition.retries must be at least 1 for %s", RetryNTimes)
		}
	default:
		return fmt.Errorf("unknown acquisition.on_failure %q", c.Acquisition.OnFailure)
	}

	if c.WiFi.Retry.MaxRetries < 0 {
		return errors.New("wifi.retry.max_retries must not be negative")
	}

	topics := make(map[string]struct{}, 4)
	for _, ch := range []ChannelConfig{c.Channels.VCC, c.Channels.VBAT, c.Channels.Value, c.Channels.ChB} {
		if _, dup := topics[ch.Topic]; dup {
			return fmt.Errorf("duplicate channel topic %q", ch.Topic)
		}
		topics[ch.Topic] = struct{}{}
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Device.ID == "" {
		c.Device.ID = def.Device.ID
	}

	if c.WiFi.Interface == "" {
		c.WiFi.Interface = def.WiFi.Interface
	}
	if c.WiFi.Retry.InitialInterval == 0 {
		c.WiFi.Retry.InitialInterval = def.WiFi.Retry.InitialInterval
	}
	if c.WiFi.Retry.MaxInterval == 0 {
		c.WiFi.Retry.MaxInterval = def.WiFi.Retry.MaxInterval
	}

	if c.Broker.URL == "" {
		c.Broker.URL = def.Broker.URL
	}
	if c.Broker.KeepAlive == 0 {
		c.Broker.KeepAlive = def.Broker.KeepAlive
	}

	if c.Sensor.Port == "" {
		c.Sensor.Port = def.Sensor.Port
	}
	if c.Sensor.BaudRate == 0 {
		c.Sensor.BaudRate = def.Sensor.BaudRate
	}
	if c.Sensor.ReadTimeout == 0 {
		c.Sensor.ReadTimeout = def.Sensor.ReadTimeout
	}

	if c.Sampling.Samples == 0 {
		c.Sampling.Samples = def.Sampling.Samples
	}

	defaultTopic(&c.Channels.VCC, def.Channels.VCC)
	defaultTopic(&c.Channels.VBAT, def.Channels.VBAT)
	defaultTopic(&c.Channels.Value, def.Channels.Value)
	defaultTopic(&c.Channels.ChB, def.Channels.ChB)

	if c.Acquisition.OnFailure == "" {
		c.Acquisition.OnFailure = def.Acquisition.OnFailure
	}
	if c.Acquisition.RetryDelay == 0 {
		c.Acquisition.RetryDelay = def.Acquisition.RetryDelay
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

func defaultTopic(ch *ChannelConfig, def ChannelConfig) {
	if ch.Topic == "" {
		ch.Topic = def.Topic
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvWiFiSSID); ok {
		c.WiFi.SSID = v
	}
	if v, ok := os.LookupEnv(EnvWiFiPassword); ok {
		c.WiFi.Password = v
	}
	if v, ok := os.LookupEnv(EnvMQTTUsername); ok {
		c.Broker.Username = v
	}
	if v, ok := os.LookupEnv(EnvMQTTPassword); ok {
		c.Broker.Password = v
	}
}
