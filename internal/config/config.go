package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultMaxUploadBytes = 16 << 20

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string
	UploadDir   string

	// SecretKey seals pair tokens and message content at rest.
	SecretKey string

	// Blob sink credentials. Empty means uploads stay on local disk.
	BlobBotToken string
	BlobChatID   string

	MaxUploadBytes int64
}

func Load() (Config, error) {
	// Missing .env is fine; real deployments use process env.
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", "sqlite::memory:"),
		LogLevel:    strings.TrimSpace(getEnv("LOG_LEVEL", "info")),
		UploadDir:   getEnv("UPLOAD_DIR", "./uploads"),

		SecretKey: strings.TrimSpace(getEnv("SECRET_KEY", "")),

		BlobBotToken: strings.TrimSpace(getEnv("BLOB_BOT_TOKEN", "")),
		BlobChatID:   strings.TrimSpace(getEnv("BLOB_CHAT_ID", "")),
	}

	maxUpload := getEnv("MAX_UPLOAD_BYTES", "")
	if maxUpload == "" {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	} else {
		n, err := strconv.ParseInt(maxUpload, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q", maxUpload)
		}
		cfg.MaxUploadBytes = n
	}

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.SecretKey == "" {
		return Config{}, fmt.Errorf("SECRET_KEY is required")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultValue
	}
	return v
}
