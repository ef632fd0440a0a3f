package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	HTTP        HTTPConfig
	Store       StoreConfig
	DB          DBConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	Settlement  SettlementConfig
	Log         LogConfig
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the escrow store backend: "memory" or "postgres".
type StoreConfig struct {
	Backend string
}

// DBConfig holds Postgres settings.
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr string
}

// IdempotencyConfig tunes the Idempotency-Key middleware.
type IdempotencyConfig struct {
	TTL         time.Duration
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// SettlementConfig names the Redis channel release instructions go to.
type SettlementConfig struct {
	Channel string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix ESCROW_,
// e.g. ESCROW_STORE_BACKEND=postgres.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("db.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.lock_timeout", 10*time.Second)
	v.SetDefault("settlement.channel", "escrow:released")
	v.SetDefault("log.level", "info")

	if cfgPath := os.Getenv("ESCROW_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	v.SetEnvPrefix("ESCROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.DB.URL == "" {
			return fmt.Errorf("store.backend=postgres requires db.url")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}
