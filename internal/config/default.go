package config

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func SetDefaultConfig() *Config {
	return &Config{
		Env: "development",
		Telegram: TelegramConfig{
			APIEndpoint: tgbotapi.APIEndpoint,
		},
		Database: DatabaseConfig{
			Port:            5432,
			User:            "postgres",
			Name:            "manybot",
			SSLMode:         "require",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 1 * time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: "local_db",
		},
		Assistant: AssistantConfig{
			Model: "gemini-2.5-flash",
		},
		Broadcast: BroadcastConfig{
			Workers: 8,
		},
		Session: SessionConfig{
			TTL: 30 * time.Minute,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
