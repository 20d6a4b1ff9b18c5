package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type CaptureConfig struct {
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type FeedConfig struct {
	Buffer int `mapstructure:"buffer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RetentionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	AnonymousTTL  time.Duration `mapstructure:"anonymous_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("hooklens")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hooklens")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOOKLENS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/hooklens.db")

	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.issuer", "hooklens")

	viper.SetDefault("capture.max_body_bytes", 1<<20)
	viper.SetDefault("capture.max_delay", 30*time.Second)

	viper.SetDefault("feed.buffer", 64)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.anonymous_ttl", 72*time.Hour)
	viper.SetDefault("retention.sweep_interval", 1*time.Hour)
}
