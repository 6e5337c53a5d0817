package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rendis/triggerflow/internal/engine"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/internal/sweeper"
)

// Config holds all triggerflow configuration.
// Priority: flags > TRIGGERFLOW_* env vars > config file > defaults.
type Config struct {
	DBPath  string         `mapstructure:"db_path"`
	Log     LogConfig      `mapstructure:"log"`
	Mail    MailConfig     `mapstructure:"mail"`
	Engine  engine.Config  `mapstructure:"engine"`
	Sweeper sweeper.Config `mapstructure:"sweeper"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MailConfig selects the e-mail driver: "log" only logs, "smtp" delivers.
type MailConfig struct {
	Driver string             `mapstructure:"driver"`
	SMTP   mailer.SMTPConfig `mapstructure:"smtp"`
}

func triggerflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".triggerflow"
	}
	return filepath.Join(home, ".triggerflow")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join(triggerflowDir(), "triggerflow.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.smtp.from", "")
	v.SetDefault("mail.smtp.timeout", 30*time.Second)
	v.SetDefault("engine.pool_size", engine.DefaultPoolSize)
	v.SetDefault("engine.run_timeout", engine.DefaultRunTimeout)
	v.SetDefault("engine.max_delay", 10*time.Second)
	v.SetDefault("sweeper.schedule", sweeper.DefaultSchedule)
	v.SetDefault("sweeper.stale_after", sweeper.DefaultStaleAfter)
	v.SetDefault("sweeper.batch_size", sweeper.DefaultBatchSize)
}

// newViper returns a viper instance with defaults and env binding applied.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TRIGGERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads configFile, or config.{yaml,json,toml} from ~/.triggerflow
// or the working directory when configFile is empty, and decodes the result.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(triggerflowDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// a missing default config file is fine
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
