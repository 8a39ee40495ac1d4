package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	MediaSynthetic = "synthetic"
	MediaNone      = "none"
)

// PeerConfig is the peer client configuration.
type PeerConfig struct {
	SignalURL        string        `mapstructure:"signal_url"`
	PeerID           string        `mapstructure:"peer_id"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	CallSetupTimeout time.Duration `mapstructure:"call_setup_timeout"`
	MediaTimeout     time.Duration `mapstructure:"media_timeout"`
	ConsentTimeout   time.Duration `mapstructure:"consent_timeout"`
	FileReadTimeout  time.Duration `mapstructure:"file_read_timeout"`
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	GapTimeout       time.Duration `mapstructure:"gap_timeout"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	MediaDevice      string        `mapstructure:"media_device"`
	LogLevel         string        `mapstructure:"log_level"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
}

// LoadPeer reads config/peer.<env>.yaml, PEERCHAT_* variables and the
// command line, in increasing precedence.
func LoadPeer(args []string) (*PeerConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	fs.String("signal-url", "", "rendezvous server websocket URL")
	fs.String("id", "", "requested rendezvous id")
	fs.String("media", "", "media device: synthetic or none")
	fs.String("log-level", "", "log level")
	fs.StringSlice("ice", nil, "ICE server URLs")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{
		"signal_url":   "signal-url",
		"peer_id":      "id",
		"media_device": "media",
		"log_level":    "log-level",
		"ice_servers":  "ice",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix("PEERCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fileName := fmt.Sprintf("config/peer.%s.yaml", configEnv())
	v.SetConfigFile(fileName)

	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("peer_id", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("connect_timeout", "15s")
	v.SetDefault("call_setup_timeout", "30s")
	v.SetDefault("media_timeout", "10s")
	v.SetDefault("consent_timeout", "30s")
	v.SetDefault("file_read_timeout", "30s")
	v.SetDefault("max_file_size", 16<<20)
	v.SetDefault("gap_timeout", "3s")
	v.SetDefault("chunk_size", 16*1024)
	v.SetDefault("media_device", MediaSynthetic)
	v.SetDefault("log_level", "info")
	v.SetDefault("ping_period", "20s")

	readConfig(v, fileName)

	var cfg PeerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("signal_url", cfg.SignalURL).Str("media_device", cfg.MediaDevice).Msg("peer config")
	return &cfg, nil
}

func (c *PeerConfig) validate() error {
	switch c.MediaDevice {
	case MediaSynthetic, MediaNone:
	default:
		return fmt.Errorf("media_device must be %q or %q, got %q", MediaSynthetic, MediaNone, c.MediaDevice)
	}
	if c.SignalURL == "" {
		return fmt.Errorf("signal_url is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Level returns the configured zerolog level.
func (c *PeerConfig) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
