package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	TransportURL   string
	TransportToken string
	DiscountURL    string
	DiscountToken  string

	// Quiet hours: outbound sends are allowed [OpenHour, CloseHour) in the
	// business timezone.
	BusinessTimezone string
	OpenHour         int
	CloseHour        int

	// Recovery window: a subscriber becomes eligible between Min and Max
	// hours after the first message was delivered. Tuned over the product's
	// life; always configuration, never a hard-coded contract.
	RecoveryMinHours int
	RecoveryMaxHours int

	// Recovery discount percent is drawn uniformly from [DiscountMin, DiscountMax].
	DiscountMinPercent int
	DiscountMaxPercent int
	PrimaryPercent     int
	CodeTTL            time.Duration

	BatchSize      int
	SendDelay      time.Duration
	SendsPerMinute int
	ScanInterval   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		TransportURL:   getEnv("TRANSPORT_URL", ""),
		TransportToken: getEnv("TRANSPORT_TOKEN", ""),
		DiscountURL:    getEnv("DISCOUNT_API_URL", ""),
		DiscountToken:  getEnv("DISCOUNT_API_TOKEN", ""),

		BusinessTimezone: getEnv("BUSINESS_TIMEZONE", "America/New_York"),
		OpenHour:         getEnvInt("QUIET_OPEN_HOUR", 9),
		CloseHour:        getEnvInt("QUIET_CLOSE_HOUR", 21),

		RecoveryMinHours: getEnvInt("RECOVERY_MIN_HOURS", 6),
		RecoveryMaxHours: getEnvInt("RECOVERY_MAX_HOURS", 24),

		DiscountMinPercent: getEnvInt("RECOVERY_DISCOUNT_MIN", 25),
		DiscountMaxPercent: getEnvInt("RECOVERY_DISCOUNT_MAX", 30),
		PrimaryPercent:     getEnvInt("PRIMARY_DISCOUNT", 15),
		CodeTTL:            time.Duration(getEnvInt("CODE_TTL_HOURS", 4)) * time.Hour,

		BatchSize:      getEnvInt("BATCH_SIZE", 50),
		SendDelay:      time.Duration(getEnvInt("SEND_DELAY_MS", 500)) * time.Millisecond,
		SendsPerMinute: getEnvInt("SENDS_PER_MINUTE", 60),
		ScanInterval:   time.Duration(getEnvInt("SCAN_INTERVAL_SECONDS", 60)) * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.RecoveryMinHours >= cfg.RecoveryMaxHours {
		return nil, fmt.Errorf("RECOVERY_MIN_HOURS (%d) must be below RECOVERY_MAX_HOURS (%d)",
			cfg.RecoveryMinHours, cfg.RecoveryMaxHours)
	}
	if cfg.OpenHour < 0 || cfg.CloseHour > 24 || cfg.OpenHour >= cfg.CloseHour {
		return nil, fmt.Errorf("invalid quiet-hours window %d-%d", cfg.OpenHour, cfg.CloseHour)
	}
	if cfg.DiscountMinPercent > cfg.DiscountMaxPercent {
		return nil, fmt.Errorf("RECOVERY_DISCOUNT_MIN (%d) above RECOVERY_DISCOUNT_MAX (%d)",
			cfg.DiscountMinPercent, cfg.DiscountMaxPercent)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
