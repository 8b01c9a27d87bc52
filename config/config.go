package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string `env:"PORT" envDefault:"8090"`
	Environment string `env:"ENVIRONMENT" envDefault:"development" validate:"oneof=development staging production"`

	// Discord configuration
	DiscordToken   string `env:"DISCORD_TOKEN"`
	DiscordAppID   string `env:"DISCORD_APP_ID"`
	DiscordGuildID string `env:"DISCORD_GUILD_ID"`

	// Redis configuration
	RedisURL       string `env:"REDIS_URL"`
	RedisPublicURL string `env:"REDIS_PUBLIC_URL"`

	// PubNub configuration
	PubNubPublishKey   string `env:"PUBNUB_PUBLISH_KEY"`
	PubNubSubscribeKey string `env:"PUBNUB_SUBSCRIBE_KEY"`
	PubNubSecretKey    string `env:"PUBNUB_SECRET_KEY"`

	// Call configuration
	GuildCallLimit   int           `env:"GUILD_CALL_LIMIT" envDefault:"50" validate:"gte=1"`
	GuildCallWindow  time.Duration `env:"GUILD_CALL_WINDOW" envDefault:"1h" validate:"gte=1s"`
	MatchCrossOrigin bool          `env:"MATCH_CROSS_ORIGIN" envDefault:"true"`

	// Relay configuration
	RelayCooldown     time.Duration `env:"RELAY_COOLDOWN" envDefault:"1s" validate:"gte=0"`
	AssetFetchTimeout time.Duration `env:"ASSET_FETCH_TIMEOUT" envDefault:"10s" validate:"gte=1s"`
	DeleteWebhooks    bool          `env:"DELETE_WEBHOOKS_ON_HANGUP" envDefault:"false"`
	CommandSync       time.Duration `env:"COMMAND_SYNC_INTERVAL" envDefault:"30m" validate:"gte=1m"`

	// Profile configuration
	ProfileStore string `env:"PROFILE_STORE" envDefault:"auto" validate:"oneof=auto file redis pocketbase"`
	ProfilePath  string `env:"PROFILE_PATH" envDefault:"user_settings.json"`

	// Monitoring
	EnableMetrics bool   `env:"ENABLE_METRICS" envDefault:"true"`
	MetricsPort   string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// RedisAddress returns the first usable Redis URL, or "" when Redis is disabled.
func (c *Config) RedisAddress() string {
	for _, raw := range []string{c.RedisURL, c.RedisPublicURL} {
		if raw == "" {
			continue
		}
		for _, scheme := range []string{"redis://", "rediss://", "unix://"} {
			if strings.HasPrefix(raw, scheme) {
				return raw
			}
		}
	}
	return ""
}

func (c *Config) PubNubEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
