package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds process configuration read from the environment.
type Config struct {
	LogLevel     string
	LogFormat    string // "text" or "json"
	OTelEnabled  bool
	OTLPEndpoint string
	StoreDSN     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	if logFormat == "" {
		logFormat = "text"
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	return &Config{
		LogLevel:     logLevel,
		LogFormat:    logFormat,
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint: endpoint,
		StoreDSN:     os.Getenv("CHECKENGINE_STORE_DSN"),
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown names mean INFO.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// LogHandler builds the handler selected by LogFormat, writing to w.
func (c *Config) LogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
