package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Sink     SinkConfig     `yaml:"sink"`
	Capture  CaptureConfig  `yaml:"capture"`
	Replay   ReplayConfig   `yaml:"replay"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	UDP      UDPConfig      `yaml:"udp"`
	Web      WebConfig      `yaml:"web"`
	Runner   RunnerConfig   `yaml:"runner"`
}

type DeviceConfig struct {
	Path        string        `yaml:"path"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type ReceiverConfig struct {
	// Configure defaults to true. A pointer keeps an explicit false apart
	// from an absent key.
	Configure *bool         `yaml:"configure"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ShouldConfigure reports whether the receiver setup sequence runs.
func (r ReceiverConfig) ShouldConfigure() bool {
	return r.Configure == nil || *r.Configure
}

type MonitorConfig struct {
	Verbose      bool `yaml:"verbose"`
	RecentEvents int  `yaml:"recent_events"`
	RFWindow     int  `yaml:"rf_window"`
}

type SinkConfig struct {
	// Dir is the output directory. Empty disables persistence.
	Dir           string        `yaml:"dir"`
	QueueSize     int           `yaml:"queue_size"`
	FlushEvery    int           `yaml:"flush_every"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	Streams       []string      `yaml:"streams"`
}

type CaptureConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
}

type MQTTConfig struct {
	Enable         bool          `yaml:"enable"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            int           `yaml:"qos"`
	Encoding       string        `yaml:"encoding"`
	StatusInterval time.Duration `yaml:"status_interval"`
	QueueSize      int           `yaml:"queue_size"`
}

type UDPConfig struct {
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type WebConfig struct {
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
}

type RunnerConfig struct {
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	// MaxRetries is the number of consecutive failed attempts before the
	// runner gives up. Zero retries forever.
	MaxRetries int `yaml:"max_retries"`
}

var knownStreams = []string{"RXM_RAWX", "MON_RF", "RXM_SFRBX", "NAV_PVT"}

// Load reads a YAML file and applies defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML without validating. An empty document is the zero
// Config.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and checks the result. It is called
// after command line flags have been merged in.
func DefaultAndValidate(cfg *Config) error {
	cfg.Device.Path = strings.TrimSpace(cfg.Device.Path)
	cfg.Replay.Path = strings.TrimSpace(cfg.Replay.Path)

	if cfg.Device.Path == "" && cfg.Replay.Path == "" {
		return fmt.Errorf("device.path is required (or a replay file)")
	}
	if cfg.Device.Baud == 0 {
		cfg.Device.Baud = 115200
	}
	if !validBaud(cfg.Device.Baud) {
		return fmt.Errorf("device.baud %d is not supported", cfg.Device.Baud)
	}
	if cfg.Device.ReadTimeout <= 0 {
		cfg.Device.ReadTimeout = time.Second
	}

	if cfg.Receiver.Timeout <= 0 {
		cfg.Receiver.Timeout = 5 * time.Second
	}

	if cfg.Monitor.RecentEvents <= 0 {
		cfg.Monitor.RecentEvents = 256
	}
	if cfg.Monitor.RFWindow <= 0 {
		cfg.Monitor.RFWindow = 300
	}

	if cfg.Sink.QueueSize <= 0 {
		cfg.Sink.QueueSize = 1024
	}
	if cfg.Sink.FlushEvery <= 0 {
		cfg.Sink.FlushEvery = 100
	}
	if cfg.Sink.FlushInterval <= 0 {
		cfg.Sink.FlushInterval = 5 * time.Second
	}
	if cfg.Sink.ShutdownGrace <= 0 {
		cfg.Sink.ShutdownGrace = 5 * time.Second
	}
	if len(cfg.Sink.Streams) == 0 {
		cfg.Sink.Streams = append([]string(nil), knownStreams...)
	}
	for _, s := range cfg.Sink.Streams {
		if !contains(knownStreams, s) {
			return fmt.Errorf("sink.streams: unknown stream %q", s)
		}
	}

	if cfg.Capture.Enable && strings.TrimSpace(cfg.Capture.Path) == "" {
		return fmt.Errorf("capture.path is required when capture.enable is true")
	}
	if cfg.Capture.Enable && cfg.Replay.Path != "" {
		return fmt.Errorf("capture and replay cannot both be enabled")
	}
	if cfg.Replay.Speed < 0 {
		return fmt.Errorf("replay.speed must be >= 0")
	}

	if cfg.MQTT.Enable {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "gnssmon"
		}
		if strings.ContainsAny(cfg.MQTT.Topic, "#+") {
			return fmt.Errorf("mqtt.topic must not contain wildcards")
		}
		switch cfg.MQTT.Encoding {
		case "":
			cfg.MQTT.Encoding = "json"
		case "json", "cbor":
		default:
			return fmt.Errorf("mqtt.encoding must be json or cbor")
		}
		if cfg.MQTT.StatusInterval <= 0 {
			cfg.MQTT.StatusInterval = 10 * time.Second
		}
		if cfg.MQTT.QueueSize <= 0 {
			cfg.MQTT.QueueSize = 256
		}
	}

	if cfg.UDP.Dest != "" && cfg.UDP.Interval <= 0 {
		cfg.UDP.Interval = time.Second
	}

	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}

	if cfg.Runner.BackoffInitial <= 0 {
		cfg.Runner.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.Runner.BackoffMax <= 0 {
		cfg.Runner.BackoffMax = 10 * time.Second
	}
	if cfg.Runner.BackoffMax < cfg.Runner.BackoffInitial {
		return fmt.Errorf("runner.backoff_max must be >= runner.backoff_initial")
	}
	if cfg.Runner.MaxRetries < 0 {
		return fmt.Errorf("runner.max_retries must be >= 0")
	}

	return nil
}

func validBaud(baud int) bool {
	switch baud {
	case 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800:
		return true
	}
	return false
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
