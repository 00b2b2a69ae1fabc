package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/blobworks/mediavault/internal/database"
)

// Config represents the runtime configuration for the media vault server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Channel    ChannelConfig    `mapstructure:"channel"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	// BaseURL is the public prefix under which disk-tier files are served.
	BaseURL       string        `mapstructure:"base_url"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Connection maps the configuration onto database connect options.
func (c DatabaseConfig) Connection() database.Config {
	conn := database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var auth DBAuthConfig
	switch strings.ToLower(c.Driver) {
	case "postgres", "postgresql":
		auth = c.Postgres
	case "mysql":
		auth = c.MySQL
	}
	conn.Host = auth.Host
	conn.Port = auth.Port
	conn.Name = auth.Database
	conn.User = auth.Username
	conn.Password = auth.Password

	return conn
}

// StorageConfig bounds the two blob tiers.
type StorageConfig struct {
	InlineMaxBytes int64  `mapstructure:"inline_max_bytes"`
	DiskMaxBytes   int64  `mapstructure:"disk_max_bytes"`
	UploadDir      string `mapstructure:"upload_dir"`
}

// ChannelConfig tunes the persistent message channel.
type ChannelConfig struct {
	SendBuffer      int   `mapstructure:"send_buffer"`
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// RetentionConfig controls the periodic pruning of old blobs.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Schedule string        `mapstructure:"schedule"`
}

// MonitoringConfig enables metrics endpoints.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures token verification settings. Token issuance lives with
// the external credential service.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures access token verification.
type JWTSettings struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// LoadConfig initialises application configuration using Viper with sensible
// defaults. Additional search paths may be supplied.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("MEDIAVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Storage.InlineMaxBytes > 0 && c.Storage.DiskMaxBytes > 0 &&
		c.Storage.InlineMaxBytes > c.Storage.DiskMaxBytes {
		return errors.New("config: storage.inline_max_bytes must not exceed storage.disk_max_bytes")
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		return errors.New("config: retention.max_age must be positive when retention is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.base_url", "/uploads")
	v.SetDefault("server.upload_timeout", "2m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/mediavault.sqlite")

	v.SetDefault("storage.inline_max_bytes", 10<<20)
	v.SetDefault("storage.disk_max_bytes", 1<<30)
	v.SetDefault("storage.upload_dir", "./data/uploads")

	v.SetDefault("channel.send_buffer", 64)
	v.SetDefault("channel.max_message_bytes", 16<<20)

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.max_age", "720h") // 30 days
	v.SetDefault("retention.schedule", "@hourly")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
