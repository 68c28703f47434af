package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config contains application-wide settings sourced from the environment.
type Config struct {
	DatabaseURL string `validate:"required"`
	Addr        string `validate:"required"`

	// IngestToken is the shared secret producers present on the
	// broadcast websocket.
	IngestToken string `validate:"required"`

	// ChatboxURL enables the chat front end when set. The gateway
	// token is part of the URL.
	ChatboxURL  string
	ChatboxName string   `validate:"required"`
	ChatAliases []string `validate:"min=1"`
	HelpLink    string

	PageSize  int `validate:"min=1"`
	ChatWidth int `validate:"min=10"`

	Retention     time.Duration `validate:"min=1h"`
	SweepInterval time.Duration `validate:"min=1m"`

	LogLevel  string
	LogFormat string `validate:"oneof=json text"`
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Addr:        fmt.Sprintf(":%s", envOrDefault("PORT", "8080")),
		IngestToken: os.Getenv("INGEST_TOKEN"),
		ChatboxURL:  os.Getenv("CHATBOX_URL"),
		ChatboxName: envOrDefault("CHATBOX_NAME", "&6&lFindShop"),
		ChatAliases: splitList(envOrDefault("CHAT_ALIASES", "fs,findshop")),
		HelpLink:    envOrDefault("HELP_LINK", "https://github.com/slimit75/FindShop/wiki/Why-isn't-my-shop-showing-up%3F"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.PageSize, err = envInt("PAGE_SIZE", 7); err != nil {
		return Config{}, err
	}
	if cfg.ChatWidth, err = envInt("CHAT_WIDTH", 49); err != nil {
		return Config{}, err
	}
	if cfg.Retention, err = envDuration("RETENTION", 14*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func splitList(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
