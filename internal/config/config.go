package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        int
	DatabaseURL string
	UploadsDir  string

	SeedFile     string
	SeedWatchDir string

	NATSURL           string
	SlackBotToken     string
	SlackAlertChannel string

	AppToken string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	DefaultModel       string
	DefaultTemperature float64
	MaxTokens          int
	MaxContextMessages int
	ForceFallback      bool

	Debug    bool
	LogLevel string
}

func Load() Config {
	return Config{
		Port:        envInt("FLYWHEEL_PORT", 8600),
		DatabaseURL: envStr("DATABASE_URL", ""),
		UploadsDir:  envStr("UPLOADS_DIR", "uploads"),

		SeedFile:     envStr("SEED_FILE", ""),
		SeedWatchDir: envStr("SEED_WATCH_DIR", ""),

		NATSURL:           envStr("NATS_URL", ""),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),

		AppToken: envStr("APP_TOKEN", ""),

		OpenAIAPIKey:       envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		DefaultModel:       envStr("DEFAULT_MODEL", "gpt-4o"),
		DefaultTemperature: envFloat("DEFAULT_TEMPERATURE", 0.7),
		MaxTokens:          envInt("MAX_TOKENS", 0),
		MaxContextMessages: envInt("MAX_CONTEXT_MESSAGES", 10),
		ForceFallback:      envBool("FORCE_FALLBACK", false),

		Debug:    envBool("DEBUG", false),
		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
