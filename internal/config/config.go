package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Logging
	LogLevel string

	// Rate Limit（1ユーザーあたりのリクエスト数/分）
	RateLimitGeneral int

	// Reminder
	ReminderInterval time.Duration
	ReminderTimezone string
	ReminderLocation *time.Location

	// Notification cleanup
	NotificationRetentionDays int
	CleanupInterval           time.Duration

	// WebSocket / Hub
	WSSendBuffer    int
	WSStaleAfter    time.Duration
	WSSweepInterval time.Duration
	WSMessageRate   float64
	WSMessageBurst  int
	HubMailboxSize  int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、またはタイムゾーンが解決できない場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ReminderInterval = getEnvDuration("REMINDER_INTERVAL", 24*time.Hour)
	cfg.ReminderTimezone = getEnvString("REMINDER_TIMEZONE", "Local")
	cfg.NotificationRetentionDays = getEnvInt("NOTIFICATION_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.WSSendBuffer = getEnvInt("WS_SEND_BUFFER", 64)
	cfg.WSStaleAfter = getEnvDuration("WS_STALE_AFTER", 90*time.Second)
	cfg.WSSweepInterval = getEnvDuration("WS_SWEEP_INTERVAL", 30*time.Second)
	cfg.WSMessageRate = getEnvFloat("WS_MESSAGE_RATE", 20)
	cfg.WSMessageBurst = getEnvInt("WS_MESSAGE_BURST", 40)
	cfg.HubMailboxSize = getEnvInt("HUB_MAILBOX_SIZE", 1024)

	loc, err := time.LoadLocation(cfg.ReminderTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_TIMEZONE %q: %w", cfg.ReminderTimezone, err)
	}
	cfg.ReminderLocation = loc

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
