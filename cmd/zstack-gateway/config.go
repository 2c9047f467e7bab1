package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zstack-gateway/internal/coordinator"
	"zstack-gateway/internal/znp"
)

const (
	defaultPanID    = 0x1A62
	defaultExtPanID = "DDDDDDDDDDDDDDDD"
)

type Config struct {
	Serial struct {
		Port        string        `yaml:"port"`
		Baud        int           `yaml:"baud"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
		DTR         bool          `yaml:"dtr"`
		RTS         bool          `yaml:"rts"`
		// Reassemble keeps partial frames across reads.
		Reassemble bool `yaml:"reassemble"`
	} `yaml:"serial"`
	Network struct {
		Channel     uint8  `yaml:"channel"`
		PanID       uint16 `yaml:"pan_id"`
		ExtPanID    string `yaml:"extended_pan_id"`
		ForceFormat bool   `yaml:"force_format"`
	} `yaml:"network"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Gateway struct {
		Tick           time.Duration `yaml:"tick"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		JoinTimeout    time.Duration `yaml:"join_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		PermitJoinTime uint8         `yaml:"permit_join_time"`
		Retry          int           `yaml:"retry"`
		QueueCapacity  int           `yaml:"queue_capacity"`
	} `yaml:"gateway"`
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Network.Channel < 11 || c.Network.Channel > 26 {
		return fmt.Errorf("network.channel must be 11-26, got %d", c.Network.Channel)
	}
	if c.Network.PanID == 0 || c.Network.PanID == 0xFFFF {
		return fmt.Errorf("network.pan_id must not be 0x0000 or 0xFFFF")
	}
	if _, err := parseExtPanID(c.Network.ExtPanID); err != nil {
		return err
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Gateway.QueueCapacity < 0 || c.Gateway.Retry < 0 {
		return fmt.Errorf("gateway.queue_capacity and gateway.retry must not be negative")
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = znp.DefaultBaudRate
	}
	if cfg.Serial.ReadTimeout == 0 {
		cfg.Serial.ReadTimeout = 10 * time.Millisecond
	}
	if cfg.Network.Channel == 0 {
		cfg.Network.Channel = znp.DefaultChannel
	}
	if cfg.Network.PanID == 0 {
		cfg.Network.PanID = defaultPanID
	}
	if cfg.Network.ExtPanID == "" {
		cfg.Network.ExtPanID = defaultExtPanID
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zstack-gateway.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// gatewayConfig maps the file sections onto coordinator.Config. Zero
// values are left for the coordinator's own defaults.
func (c *Config) gatewayConfig() (coordinator.Config, error) {
	ext, err := parseExtPanID(c.Network.ExtPanID)
	if err != nil {
		return coordinator.Config{}, err
	}
	return coordinator.Config{
		Network: coordinator.NetworkConfig{
			Channel:     c.Network.Channel,
			PanID:       c.Network.PanID,
			ExtPanID:    ext,
			ForceFormat: c.Network.ForceFormat,
		},
		Tick:           c.Gateway.Tick,
		PingInterval:   c.Gateway.PingInterval,
		JoinTimeout:    c.Gateway.JoinTimeout,
		RequestTimeout: c.Gateway.RequestTimeout,
		PermitJoinTime: c.Gateway.PermitJoinTime,
		Retry:          c.Gateway.Retry,
		QueueCapacity:  c.Gateway.QueueCapacity,
	}, nil
}

// parseExtPanID accepts 16 hex digits with optional 0x prefix or colons.
func parseExtPanID(s string) (uint64, error) {
	h := strings.ReplaceAll(strings.TrimPrefix(strings.ToLower(s), "0x"), ":", "")
	if len(h) != 16 {
		return 0, fmt.Errorf("network.extended_pan_id must be 16 hex digits, got %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("network.extended_pan_id: %w", err)
	}
	return v, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
