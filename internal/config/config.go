package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                    int     `env:"PORT" envDefault:"8080"`
	DatabaseURL             string  `env:"DATABASE_URL,required,notEmpty"`
	RedisURL                string  `env:"REDIS_URL,required,notEmpty"`
	LogLevel                string  `env:"LOG_LEVEL" envDefault:"info"`
	PairingCodeTTLSeconds   int     `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"900"`
	StalenessWindowSeconds  int     `env:"STALENESS_WINDOW_SECONDS" envDefault:"90"`
	HeartbeatRetentionHours int     `env:"HEARTBEAT_RETENTION_HOURS" envDefault:"168"`
	CleanupSchedule         string  `env:"CLEANUP_SCHEDULE" envDefault:"@every 5m"`
	ReconcileSchedule       string  `env:"RECONCILE_SCHEDULE" envDefault:"@every 10m"`
	OrphanGraceSeconds      int     `env:"ORPHAN_GRACE_SECONDS" envDefault:"300"`
	ClaimRatePerSec         float64 `env:"CLAIM_RATE_PER_SEC" envDefault:"1"`
	ClaimRateBurst          int     `env:"CLAIM_RATE_BURST" envDefault:"5"`
	DeviceTokenCacheSeconds int     `env:"DEVICE_TOKEN_CACHE_SECONDS" envDefault:"30"`
	EventSource             string  `env:"EVENT_SOURCE" envDefault:"screen-pairing-server"`
}

func (c *Config) PairingCodeTTL() time.Duration {
	return time.Duration(c.PairingCodeTTLSeconds) * time.Second
}

func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessWindowSeconds) * time.Second
}

func (c *Config) HeartbeatRetention() time.Duration {
	return time.Duration(c.HeartbeatRetentionHours) * time.Hour
}

func (c *Config) OrphanGrace() time.Duration {
	return time.Duration(c.OrphanGraceSeconds) * time.Second
}

func (c *Config) DeviceTokenCacheTTL() time.Duration {
	return time.Duration(c.DeviceTokenCacheSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.PairingCodeTTLSeconds <= 0 {
		return fmt.Errorf("PAIRING_CODE_TTL_SECONDS must be positive")
	}
	if c.StalenessWindowSeconds <= 0 {
		return fmt.Errorf("STALENESS_WINDOW_SECONDS must be positive")
	}
	if c.HeartbeatRetentionHours <= 0 {
		return fmt.Errorf("HEARTBEAT_RETENTION_HOURS must be positive")
	}
	if c.ClaimRatePerSec <= 0 || c.ClaimRateBurst <= 0 {
		return fmt.Errorf("CLAIM_RATE_PER_SEC and CLAIM_RATE_BURST must be positive")
	}
	for name, spec := range map[string]string{
		"CLEANUP_SCHEDULE":   c.CleanupSchedule,
		"RECONCILE_SCHEDULE": c.ReconcileSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s is not a valid schedule: %w", name, err)
		}
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.StalenessWindowSeconds < 60 {
			log.Warn().Int("seconds", c.StalenessWindowSeconds).Msg("staleness window is shorter than two heartbeat intervals")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
