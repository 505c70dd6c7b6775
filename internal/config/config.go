package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Email     EmailConfig
	Numbering NumberingConfig
	Render    RenderConfig
	Dispatch  DispatchConfig

	CatalogTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLSMode  string
}

type NumberingConfig struct {
	Strategy        string
	Scope           string
	PadWidth        int
	MaxRetries      int
	DisplayTemplate string
}

type RenderConfig struct {
	ProfileName string
	CacheTTL    time.Duration
}

// DispatchConfig bounds sending. SendRate is tokens per second per actor;
// the limiter is only active with redis.
type DispatchConfig struct {
	MailTimeout time.Duration
	LockTTL     time.Duration
	SendRate    float64
	SendBurst   int
}

const (
	NumberingStrategyCounter = "counter"
	NumberingStrategyScan    = "scan"

	NumberingScopeGlobal = "global"
	NumberingScopeClient = "client"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "invoicedesk"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "invoicedesk"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "invoicedesk.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     strings.TrimSpace(getenv("SMTP_FROM", "")),
			SMTPFromName: getenv("SMTP_FROM_NAME", ""),
			SMTPTLSMode:  strings.ToLower(getenv("SMTP_TLS_MODE", "starttls")),
		},
		Numbering: NumberingConfig{
			Strategy:        normalizeStrategy(getenv("NUMBERING_STRATEGY", NumberingStrategyCounter)),
			Scope:           normalizeScope(getenv("NUMBERING_SCOPE", NumberingScopeGlobal)),
			PadWidth:        getenvInt("NUMBERING_PAD_WIDTH", 3),
			MaxRetries:      getenvInt("NUMBERING_MAX_RETRIES", 5),
			DisplayTemplate: strings.TrimSpace(getenv("NUMBERING_DISPLAY_TEMPLATE", "")),
		},
		Render: RenderConfig{
			ProfileName: getenv("DOCUMENT_PROFILE", "document"),
			CacheTTL:    getenvDuration("RENDER_CACHE_TTL", 24*time.Hour),
		},
		Dispatch: DispatchConfig{
			MailTimeout: getenvDuration("MAIL_TIMEOUT", 15*time.Second),
			LockTTL:     getenvDuration("DISPATCH_LOCK_TTL", 2*time.Minute),
			SendRate:    getenvFloat("DISPATCH_SEND_RATE", 0.2),
			SendBurst:   getenvInt("DISPATCH_SEND_BURST", 5),
		},
		CatalogTimeout: getenvDuration("CATALOG_TIMEOUT", 3*time.Second),
	}

	if cfg.Numbering.PadWidth <= 0 {
		cfg.Numbering.PadWidth = 3
	}
	if cfg.Numbering.MaxRetries <= 0 {
		cfg.Numbering.MaxRetries = 1
	}

	return cfg
}

func normalizeStrategy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case NumberingStrategyScan:
		return NumberingStrategyScan
	default:
		return NumberingStrategyCounter
	}
}

func normalizeScope(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case NumberingScopeClient:
		return NumberingScopeClient
	default:
		return NumberingScopeGlobal
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("15s") or bare seconds ("15").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return def
}
