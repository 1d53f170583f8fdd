// Package config loads boardlive CLI configuration.
//
// Configuration is resolved from (highest precedence first) command-line
// flags, BOARDLIVE_* environment variables, and a YAML config file at
// ~/.config/boardlive/config.yaml or the path given via --config.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the resolved CLI configuration.
type Config struct {
	// HubURL is the realtime hub websocket endpoint.
	HubURL string `mapstructure:"hub_url"`

	// Token is the opaque session credential.
	Token string `mapstructure:"token"`

	// Actor is the local user's identity.
	Actor string `mapstructure:"actor"`

	// ActorName is the display name shown to other participants.
	ActorName string `mapstructure:"actor_name"`

	// Board is the default board room.
	Board string `mapstructure:"board"`

	// ReconnectAttempts overrides the transport's retry ceiling.
	ReconnectAttempts int `mapstructure:"reconnect_attempts"`

	// ReconnectDelay overrides the inter-attempt delay.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`

	// LogFile, when set, mirrors logs to a rotated file.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB caps the log file size before rotation (default 10).
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`

	// LogMaxBackups caps retained rotated files (default 3).
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// Load reads configuration. path may be empty to use the default location;
// a missing config file is not an error, since every setting has a flag or
// environment fallback.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "boardlive"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BOARDLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("hub_url", "ws://localhost:8090/ws")
	v.SetDefault("board", "default")
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", time.Second)
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound)
		if path != "" {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				missing = true
			}
		}
		if !missing {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Actor == "" {
		if u := os.Getenv("USER"); u != "" {
			cfg.Actor = u
		} else {
			cfg.Actor = "anonymous"
		}
	}

	// Hot reload: long-running commands pick up edits without a restart.
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("Config file changed: %s", e.Name)
			_ = v.Unmarshal(&cfg)
		})
		v.WatchConfig()
	}

	return &cfg, nil
}

// NewLogger builds the CLI logger. When LogFile is set, output goes to a
// size-rotated file instead of stderr.
func (c *Config) NewLogger(prefix string) *log.Logger {
	if c.LogFile == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
	}, prefix, log.LstdFlags)
}

// Validate checks settings needed before connecting.
func (c *Config) Validate() error {
	if c.HubURL == "" {
		return fmt.Errorf("hub_url is required")
	}
	if !strings.HasPrefix(c.HubURL, "ws://") && !strings.HasPrefix(c.HubURL, "wss://") {
		return fmt.Errorf("hub_url must be a ws:// or wss:// endpoint (got %q)", c.HubURL)
	}
	if c.Board == "" {
		return fmt.Errorf("board is required")
	}
	return nil
}
