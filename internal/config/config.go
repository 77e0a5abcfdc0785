// Package config loads host configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config covers both hosts; Discord fields are only required by cmd/discord.
type Config struct {
	Prefix        string `env:"CHATCMD_PREFIX" envDefault:"/"`
	MaxMessageLen int    `env:"CHATCMD_MAX_MESSAGE_LEN" envDefault:"500"`
	LogLevel      string `env:"CHATCMD_LOG_LEVEL" envDefault:"info"`

	// Rate limiting. The global bucket is drained channel-wide, the user
	// bucket per sender.
	GlobalCapacity int           `env:"CHATCMD_GLOBAL_CAPACITY" envDefault:"100"`
	GlobalRefill   int           `env:"CHATCMD_GLOBAL_REFILL" envDefault:"20"`
	UserCapacity   int           `env:"CHATCMD_USER_CAPACITY" envDefault:"10"`
	UserRefill     int           `env:"CHATCMD_USER_REFILL" envDefault:"1"`
	BucketInterval time.Duration `env:"CHATCMD_BUCKET_INTERVAL" envDefault:"1s"`
	BucketMaxIdle  time.Duration `env:"CHATCMD_BUCKET_MAX_IDLE" envDefault:"15m"`

	// Bookkeeping.
	AuditCapacity int           `env:"CHATCMD_AUDIT_CAPACITY" envDefault:"1000"`
	CleanupEvery  time.Duration `env:"CHATCMD_CLEANUP_INTERVAL" envDefault:"1m"`

	// Host-side persistence of admin changes (aliases, cooldowns).
	StoragePath string `env:"CHATCMD_STORAGE_PATH" envDefault:"chatcmd.json"`

	DiscordToken string `env:"DISCORD_TOKEN"`
}

// New loads the configuration. A missing .env file is not an error; system
// environment variables always win.
func New() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}
