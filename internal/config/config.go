// Package config loads bot configuration from the environment and an
// optional YAML file. Environment variables use the MESHBOT_ prefix and win
// over file values; a local .env file is picked up when present.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Telegram TelegramConfig
	Portal   PortalConfig
	Storage  StorageConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// TelegramConfig drives the bot gateway.
type TelegramConfig struct {
	Token         string
	UpdateTimeout int // long-poll timeout, seconds
	ReplyTimeout  time.Duration
}

// PortalConfig points at the two portal hosts.
type PortalConfig struct {
	FamilyBaseURL string
	CoreBaseURL   string
	Timeout       time.Duration
}

// StorageConfig locates the durable state on disk.
type StorageConfig struct {
	SessionFile string
	LogDir      string
}

// MetricsConfig enables the metrics/health listener when Addr is set.
type MetricsConfig struct {
	Addr string
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string
}

// Load reads configuration. file may name an explicit YAML config; when
// empty, a meshbot.yaml next to the binary is used if present.
func Load(file string) (Config, error) {
	// Best-effort: a missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MESHBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("telegram.update_timeout", 30)
	v.SetDefault("telegram.reply_timeout", "2m")
	v.SetDefault("portal.family_base_url", "https://school.mos.ru")
	v.SetDefault("portal.core_base_url", "https://dnevnik.mos.ru")
	v.SetDefault("portal.timeout", "30s")
	v.SetDefault("storage.session_file", "db.json")
	v.SetDefault("storage.log_dir", "logs")
	v.SetDefault("logging.level", "info")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("meshbot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Telegram: TelegramConfig{
			Token:         v.GetString("telegram.token"),
			UpdateTimeout: v.GetInt("telegram.update_timeout"),
			ReplyTimeout:  v.GetDuration("telegram.reply_timeout"),
		},
		Portal: PortalConfig{
			FamilyBaseURL: v.GetString("portal.family_base_url"),
			CoreBaseURL:   v.GetString("portal.core_base_url"),
			Timeout:       v.GetDuration("portal.timeout"),
		},
		Storage: StorageConfig{
			SessionFile: v.GetString("storage.session_file"),
			LogDir:      v.GetString("storage.log_dir"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("logging.level"),
		},
	}
	return cfg, nil
}

// Validate checks the fields without which the bot cannot run.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token (MESHBOT_TELEGRAM_TOKEN) is required")
	}
	if c.Storage.SessionFile == "" {
		return fmt.Errorf("storage.session_file must not be empty")
	}
	return nil
}
