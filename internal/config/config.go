package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the rendezvous server configuration.
type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	Secret            string        `mapstructure:"secret"`
	OfferRateLimit    int           `mapstructure:"offer_rate_limit"`
	OfferRateInterval time.Duration `mapstructure:"offer_rate_interval"`
	SendBuffer        int           `mapstructure:"send_buffer"`
}

func configEnv() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return env
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := fmt.Sprintf("config/config.%s.yaml", configEnv())
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "peerchat-dev-secret")
	v.SetDefault("offer_rate_limit", 20)
	v.SetDefault("offer_rate_interval", "10s")
	v.SetDefault("send_buffer", 32)

	readConfig(v, fileName)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PingPeriod <= 0 {
		return nil, fmt.Errorf("ping_period must be positive, got %s", cfg.PingPeriod)
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("send_buffer must be positive, got %d", cfg.SendBuffer)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("server config")
	return &cfg, nil
}

func readConfig(v *viper.Viper, fileName string) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
		return
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
}
