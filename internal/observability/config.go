package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/observability/logger"
	"github.com/spf13/viper"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSamplingRatio = 0.1

// Config holds logging and telemetry settings. Identity comes from the
// application config; the rest is read from the environment.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	Log  LogConfig
	Otel OtelConfig
}

type LogConfig struct {
	Level  string
	Format string
	// SQL logs every statement at debug level, not only slow or failed ones.
	SQL       bool
	SlowQuery time.Duration
}

type OtelConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_SQL", false)
	v.SetDefault("LOG_SLOW_QUERY", 200*time.Millisecond)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_TRACES_SAMPLER_ARG", defaultSamplingRatio)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "invoicedesk"
	}

	ratio := v.GetFloat64("OTEL_TRACES_SAMPLER_ARG")
	if ratio < 0 || ratio > 1 {
		ratio = defaultSamplingRatio
	}

	return Config{
		ServiceName: serviceName,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		Log: LogConfig{
			Level:     strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
			Format:    strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
			SQL:       v.GetBool("LOG_SQL"),
			SlowQuery: v.GetDuration("LOG_SLOW_QUERY"),
		},
		Otel: OtelConfig{
			Enabled:       v.GetBool("OTEL_ENABLED"),
			Endpoint:      strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Protocol:      strings.ToLower(strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL"))),
			SamplingRatio: ratio,
		},
	}
}

// Debug is on for debug logging and for local environments.
func (c Config) Debug() bool {
	if c.Log.Level == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// GormLogger maps the SQL logging switches onto the gorm logger. Record
// lookups that miss are expected (unknown invoice ids) and stay quiet.
func (c Config) GormLogger() logger.GormLoggerConfig {
	level := gormlogger.Warn
	if c.Log.SQL {
		level = gormlogger.Info
	}
	return logger.GormLoggerConfig{
		Level:                level,
		SlowThreshold:        c.Log.SlowQuery,
		IgnoreRecordNotFound: true,
	}
}
