// Package config loads the zapdesk server configuration from a TOML file.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "zapdesk"
	DefaultPGSSLMode        = "disable"
	DefaultPartition        = "mensagens_geral"
	DefaultMediaRoot        = "data/media"
	DefaultMediaBaseURL     = "http://127.0.0.1:8080/media"
	DefaultIdleThreshold    = 24 * time.Hour
	DefaultSweepSchedule    = "@hourly"
	DefaultOffloadWindow    = 3
	DefaultItemDelayMs      = 500
	DefaultBatchDelayMs     = 2000
	DefaultBatchSize        = 50
	DefaultUploadTimeoutSec = 8
	DefaultBotPersona       = "Assistente"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Routing  RoutingConfig  `toml:"routing"`
	Media    MediaConfig    `toml:"media"`
	Status   StatusConfig   `toml:"status"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Gateway  GatewayConfig  `toml:"gateway"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// RoutingConfig holds the catch-all partition for unrecognized channel keys.
type RoutingConfig struct {
	DefaultPartition string `toml:"default_partition" validate:"required"`
}

// MediaConfig controls blob storage and batch offloading pace. The delays
// are backpressure against the storage backend's rate limits.
type MediaConfig struct {
	Root             string `toml:"root" validate:"required"`
	BaseURL          string `toml:"base_url" validate:"required,url"`
	OffloadWindow    int    `toml:"offload_window" validate:"gt=0"`
	ItemDelayMs      int    `toml:"item_delay_ms" validate:"gte=0"`
	BatchDelayMs     int    `toml:"batch_delay_ms" validate:"gte=0"`
	BatchSize        int    `toml:"batch_size" validate:"gt=0"`
	UploadTimeoutSec int    `toml:"upload_timeout_sec" validate:"gt=0"`
}

// StatusConfig holds the status-engine policy values.
type StatusConfig struct {
	IdleThreshold string `toml:"idle_threshold"`
	SweepSchedule string `toml:"sweep_schedule"`
}

// IdleThresholdDuration parses the configured idle threshold, falling back
// to the 24h default on empty or invalid values.
func (c StatusConfig) IdleThresholdDuration() time.Duration {
	if c.IdleThreshold == "" {
		return DefaultIdleThreshold
	}
	d, err := time.ParseDuration(c.IdleThreshold)
	if err != nil || d <= 0 {
		return DefaultIdleThreshold
	}
	return d
}

// WebhookConfig identifies the AI persona whose echoed messages are tagged
// as bot-sent rather than agent-sent.
type WebhookConfig struct {
	BotPersona string `toml:"bot_persona"`
}

// GatewayConfig points at the outbound messaging provider.
type GatewayConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Routing: RoutingConfig{
			DefaultPartition: DefaultPartition,
		},
		Media: MediaConfig{
			Root:             DefaultMediaRoot,
			BaseURL:          DefaultMediaBaseURL,
			OffloadWindow:    DefaultOffloadWindow,
			ItemDelayMs:      DefaultItemDelayMs,
			BatchDelayMs:     DefaultBatchDelayMs,
			BatchSize:        DefaultBatchSize,
			UploadTimeoutSec: DefaultUploadTimeoutSec,
		},
		Status: StatusConfig{
			SweepSchedule: DefaultSweepSchedule,
		},
		Webhook: WebhookConfig{
			BotPersona: DefaultBotPersona,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
