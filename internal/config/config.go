package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds demo application configuration loaded from the environment.
type Config struct {
	AppEnv        string
	PublicID      string
	Amount        string
	Currency      string
	AccountID     string
	Email         string
	Description   string
	APIBaseURL    string
	IntentBaseURL string
	PollInterval  time.Duration
	LogFormat     string
	LogLevel      string
	OTLPEndpoint  string
	TracingRatio  float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:        valueOrDefault(k.String("APP_ENV"), "development"),
		PublicID:      k.String("CP_PUBLIC_ID"),
		Amount:        valueOrDefault(k.String("CP_AMOUNT"), "10.00"),
		Currency:      valueOrDefault(k.String("CP_CURRENCY"), "RUB"),
		AccountID:     k.String("CP_ACCOUNT_ID"),
		Email:         k.String("CP_EMAIL"),
		Description:   k.String("CP_DESCRIPTION"),
		APIBaseURL:    k.String("CP_API_BASE_URL"),
		IntentBaseURL: k.String("CP_INTENT_BASE_URL"),
		PollInterval:  parseDuration(k.String("CP_POLL_INTERVAL"), "3s"),
		LogFormat:     valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:      valueOrDefault(k.String("LOG_LEVEL"), "info"),
		OTLPEndpoint:  k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingRatio:  k.Float64("TRACING_SAMPLING_RATIO"),
	}

	if strings.TrimSpace(cfg.PublicID) == "" {
		return nil, errors.New("CP_PUBLIC_ID is required")
	}

	return cfg, nil
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
