package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	DatabaseURL string
	Port        string
	LogLevel    string
	Environment string
	AppURL      string
	AppSecret   string
	AdminEmail  string

	// Job trigger authentication
	CronSecret string
	APIDevKey  string
	AdminKey   string

	// Maintenance mode
	ReadOnly       bool
	ReadOnlyBypass bool

	// Mail transport
	SMTPHost      string
	SMTPPort      int
	SMTPSecure    bool
	SMTPUser      string
	SMTPPass      string
	SMTPRequired  bool
	FromEmail     string
	FromName      string
	EmailRedirect string

	// Claim store backend: "postgres" or "redis"
	ClaimBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Operator alerts
	TelegramToken     string
	OpsTelegramChatID int64

	SchedulerEnabled bool
	CronSpecNightly  string
	CronSpecMAM      string
	CronSpecDigest   string
	SchedulerCompany string
	DevTestEmail     bool
	DevTestKey       string
	DevTestDefaultTo string
}

// IsProduction reports whether the app runs in the production environment.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// SMTPConfigured reports whether a real SMTP relay is configured.
func (c *AppConfig) SMTPConfigured() bool {
	return c.SMTPHost != ""
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables already present in the environment.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.Port = getEnv("PORT", "8080")
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))
	cfg.AppURL = strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/")
	cfg.AppSecret = os.Getenv("APP_SECRET")
	cfg.AdminEmail = strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.APIDevKey = os.Getenv("API_DEV_KEY")
	cfg.AdminKey = os.Getenv("ADMIN_KEY")

	cfg.ReadOnly = parseFlag(os.Getenv("READ_ONLY"))
	cfg.ReadOnlyBypass = parseFlag(os.Getenv("READ_ONLY_BYPASS"))

	cfg.SMTPHost = strings.TrimSpace(os.Getenv("SMTP_HOST"))
	cfg.SMTPPort, err = parseIntEnv("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	if secure, ok := os.LookupEnv("SMTP_SECURE"); ok {
		cfg.SMTPSecure = parseFlag(secure)
	} else {
		cfg.SMTPSecure = cfg.SMTPPort == 465
	}
	cfg.SMTPUser = os.Getenv("SMTP_USER")
	cfg.SMTPPass = os.Getenv("SMTP_PASS")
	cfg.SMTPRequired = parseFlag(os.Getenv("SMTP_REQUIRED"))
	cfg.FromEmail = getEnv("FROM_EMAIL", "no-reply@bloodwall.local")
	cfg.FromName = getEnv("FROM_NAME", "Bloodwall")
	cfg.EmailRedirect = strings.TrimSpace(os.Getenv("EMAIL_REDIRECT"))

	cfg.ClaimBackend = strings.ToLower(getEnv("CLAIM_BACKEND", "postgres"))
	if cfg.ClaimBackend != "postgres" && cfg.ClaimBackend != "redis" {
		return nil, fmt.Errorf("invalid CLAIM_BACKEND %q: must be postgres or redis", cfg.ClaimBackend)
	}
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB, err = parseIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if chatID := os.Getenv("OPS_TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.OpsTelegramChatID, err = strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid OPS_TELEGRAM_CHAT_ID: %w", err)
		}
	}

	cfg.SchedulerEnabled = parseFlag(os.Getenv("SCHEDULER_ENABLED"))
	cfg.CronSpecNightly = getEnv("CRON_SPEC_NIGHTLY", "0 20 * * *") // 20:00 daily
	cfg.CronSpecMAM = getEnv("CRON_SPEC_MAM", "0 8 * * MON")       // Monday 08:00
	cfg.CronSpecDigest = getEnv("CRON_SPEC_DIGEST", "0 6 * * *")   // 06:00 daily
	cfg.SchedulerCompany = os.Getenv("SCHEDULER_COMPANY_ID")

	cfg.DevTestEmail = parseFlag(os.Getenv("DEV_TEST_EMAIL"))
	cfg.DevTestKey = os.Getenv("DEV_TEST_KEY")
	cfg.DevTestDefaultTo = os.Getenv("TEST_EMAIL_TO")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
