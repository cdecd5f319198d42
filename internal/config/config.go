package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env string `mapstructure:"env"`

	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Session   SessionConfig   `mapstructure:"session"`
	Server    ServerConfig    `mapstructure:"server"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type TelegramConfig struct {
	// ParentToken is the credential of the platform's own bot. The
	// service cannot route anything without it, so it is mandatory.
	ParentToken string `mapstructure:"parent_token" validate:"required"`
	// BaseURL is the public HTTPS base under which Telegram can reach
	// the webhook endpoints.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// APIEndpoint is the Bot API endpoint format string. Overridable
	// for tests and local API servers.
	APIEndpoint string `mapstructure:"api_endpoint" validate:"required"`
	// BootstrapAdminID seeds the admin set on startup. Zero disables
	// seeding.
	BootstrapAdminID int64 `mapstructure:"bootstrap_admin_id"`
}

type CryptoConfig struct {
	// Key holds the AES key for token encryption at rest. Empty means
	// tokens are stored in clear.
	Key []byte
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Enabled reports whether a remote primary store is configured at all.
// Without it the service runs on the local fallback store alone.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" validate:"required"`
}

type AssistantConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type BroadcastConfig struct {
	Workers int `mapstructure:"workers" validate:"min=1"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"min=1s"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

type LoggerConfig struct {
	Level        string `mapstructure:"level" validate:"oneof=debug info warn error fatal"`
	Format       string `mapstructure:"format" validate:"oneof=json console"`
	Output       string `mapstructure:"output" validate:"oneof=stdout stderr file"`
	EnableColors bool   `mapstructure:"enable_colors"`
	FilePath     string `mapstructure:"file_path"`
	MaxSize      int    `mapstructure:"max_size"`
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAge       int    `mapstructure:"max_age"`
	Compress     bool   `mapstructure:"compress"`
}

// Load reads configuration from an optional config.yaml and .env under
// configPath, then the MANYBOT_-prefixed environment, and validates the
// result. Missing mandatory settings are a startup failure by design.
func Load(configPath string) (*Config, error) {
	// .env values land in the process environment where viper picks
	// them up. A missing file is fine.
	_ = godotenv.Load()

	cfg := SetDefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MANYBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVariables(v)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loadCryptoKey(v, cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config failed validation: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func bindEnvVariables(v *viper.Viper) {
	// Telegram
	_ = v.BindEnv("telegram.parent_token")
	_ = v.BindEnv("telegram.base_url")
	_ = v.BindEnv("telegram.api_endpoint")
	_ = v.BindEnv("telegram.bootstrap_admin_id")
	// Database
	_ = v.BindEnv("database.host")
	_ = v.BindEnv("database.port")
	_ = v.BindEnv("database.user")
	_ = v.BindEnv("database.password")
	_ = v.BindEnv("database.name")
	_ = v.BindEnv("database.sslmode")
	_ = v.BindEnv("database.max_open_conns")
	_ = v.BindEnv("database.max_idle_conns")
	// Storage
	_ = v.BindEnv("storage.data_dir")
	// Assistant
	_ = v.BindEnv("assistant.api_key")
	_ = v.BindEnv("assistant.model")
	// Broadcast
	_ = v.BindEnv("broadcast.workers")
	// Session
	_ = v.BindEnv("session.ttl")
	// Server
	_ = v.BindEnv("server.host")
	_ = v.BindEnv("server.port")
	// Logger
	_ = v.BindEnv("logger.level")
	_ = v.BindEnv("logger.format")
	_ = v.BindEnv("logger.output")
	_ = v.BindEnv("logger.enable_colors")
	_ = v.BindEnv("logger.file_path")
	_ = v.BindEnv("logger.max_size")
	_ = v.BindEnv("logger.max_backups")
	_ = v.BindEnv("logger.max_age")
	_ = v.BindEnv("logger.compress")
	// Crypto
	_ = v.BindEnv("crypto.token_encryption_key")
}

func loadCryptoKey(v *viper.Viper, cfg *Config) error {
	raw := v.GetString("crypto.token_encryption_key")
	if raw == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("invalid base64 token encryption key: %w", err)
	}
	cfg.Crypto.Key = decoded
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, url.QueryEscape(c.Password), c.Host, c.Port, c.Name, c.SSLMode,
	)
}
