// Package engineconfig defines the ambient configuration for the
// plugin-host engine — the knobs the external router needs to wire up a
// Remote Store Gateway, an Outbound HTTP Gateway, and a default resource
// policy — and loads it from YAML plus environment overrides via viper.
package engineconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the engine's ambient configuration. Fuel/epoch limits are
// carried here for the router to apply at its own discretion; the core
// itself imposes no fuel policy (§5: "fuel/epoch policy is the router's
// concern").
type Config struct {
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPoolSize     int           `mapstructure:"redis_pool_size"`
	RedisDialTimeout  time.Duration `mapstructure:"redis_dial_timeout"`
	RedisCallTimeout  time.Duration `mapstructure:"redis_call_timeout"`
	OutboundTimeout   time.Duration `mapstructure:"outbound_timeout"`
	MemoryLimitPages  uint32        `mapstructure:"memory_limit_pages"`
	FuelLimit         uint64        `mapstructure:"fuel_limit"`
	EpochIntervalMS   uint64        `mapstructure:"epoch_interval_ms"`
}

// defaults mirror store.DefaultGatewayConfig / Plugin's own defaults so
// a config file can override only what it cares about.
func defaults() Config {
	return Config{
		RedisAddr:        "127.0.0.1:6379",
		RedisPoolSize:    16,
		RedisDialTimeout: 5 * time.Second,
		RedisCallTimeout: 5 * time.Second,
		OutboundTimeout:  10 * time.Second,
		MemoryLimitPages: 256,
		FuelLimit:        0, // 0 == unlimited; enforcement is the router's concern
		EpochIntervalMS:  0,
	}
}

// Load reads engine configuration from a YAML file at path (if it
// exists) layered under built-in defaults, then applies FENCELINE_*
// environment overrides, the way every viper-based service in this
// codebase's dependency stack wires configuration.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FENCELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := defaults()
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_pool_size", d.RedisPoolSize)
	v.SetDefault("redis_dial_timeout", d.RedisDialTimeout)
	v.SetDefault("redis_call_timeout", d.RedisCallTimeout)
	v.SetDefault("outbound_timeout", d.OutboundTimeout)
	v.SetDefault("memory_limit_pages", d.MemoryLimitPages)
	v.SetDefault("fuel_limit", d.FuelLimit)
	v.SetDefault("epoch_interval_ms", d.EpochIntervalMS)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("engineconfig: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("engineconfig: unmarshal: %w", err)
	}
	return cfg, nil
}
