// Package config loads server configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/soulbound/pkg/artifacts"
)

// Config holds server configuration.
type Config struct {
	Port       string `yaml:"port"`
	HealthPort string `yaml:"health_port"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // "text" or "json"

	DatabaseURL  string `yaml:"database_url"` // empty selects lite mode (SQLite)
	DataDir      string `yaml:"data_dir"`
	OwnerAddress string `yaml:"owner_address"`
	JWTKeyFile   string `yaml:"jwt_key_file"`

	Artifacts artifacts.Config `yaml:"artifacts"`

	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RateLimitRPM   int    `yaml:"rate_limit_rpm"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`
	OTelInsecure bool   `yaml:"otel_insecure"`

	CORSOrigins string `yaml:"cors_origins"` // comma-separated; empty allows all
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:           "8080",
		HealthPort:     "8081",
		LogLevel:       "INFO",
		LogFormat:      "text",
		DataDir:        "data",
		RateLimitRPM:   60,
		RateLimitBurst: 10,
		OTelEndpoint:   "localhost:4317",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// SOULBOUND_CONFIG (if set), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("SOULBOUND_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.JWTKeyFile == "" {
		cfg.JWTKeyFile = filepath.Join(cfg.DataDir, "jwt.key")
	}
	if cfg.Artifacts.DataDir == "" {
		cfg.Artifacts.DataDir = cfg.DataDir
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.HealthPort, "HEALTH_PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.OwnerAddress, "OWNER_ADDRESS")
	setString(&c.JWTKeyFile, "JWT_KEY_FILE")

	var storageType string
	setString(&storageType, "ARTIFACT_STORAGE_TYPE")
	if storageType != "" {
		c.Artifacts.Type = artifacts.StoreType(storageType)
	}
	setString(&c.Artifacts.S3Bucket, "ARTIFACT_S3_BUCKET")
	setString(&c.Artifacts.S3Region, "AWS_REGION")
	setString(&c.Artifacts.S3Region, "ARTIFACT_S3_REGION")
	setString(&c.Artifacts.S3Endpoint, "ARTIFACT_S3_ENDPOINT")
	setString(&c.Artifacts.S3Prefix, "ARTIFACT_S3_PREFIX")
	setString(&c.Artifacts.GCSBucket, "ARTIFACT_GCS_BUCKET")
	setString(&c.Artifacts.GCSPrefix, "ARTIFACT_GCS_PREFIX")

	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.OTelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.CORSOrigins, "CORS_ORIGINS")

	for _, f := range []func() error{
		func() error { return setInt(&c.RateLimitRPM, "RATE_LIMIT_RPM") },
		func() error { return setInt(&c.RateLimitBurst, "RATE_LIMIT_BURST") },
		func() error { return setBool(&c.OTelEnabled, "OTEL_ENABLED") },
		func() error { return setBool(&c.OTelInsecure, "OTEL_INSECURE") },
	} {
		if err := f(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// LiteMode reports whether the embedded SQLite store should be used.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

// SQLitePath is the lite-mode database file.
func (c *Config) SQLitePath() string { return filepath.Join(c.DataDir, "soulbound.db") }

// Level parses LogLevel, defaulting to Info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger builds the process logger described by the configuration.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
