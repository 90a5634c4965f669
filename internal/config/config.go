// Package config loads pipeline configuration from the environment, with an
// optional YAML file supplying defaults for anything the environment leaves
// unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults for optional settings.
const (
	DefaultSourceURL = "http://download.windowsupdate.com/microsoftupdate/v6/wsusscan/wsusscn2.cab"

	DefaultFetchInterval   = 24 * time.Hour
	DefaultParseInterval   = 5 * time.Minute
	DefaultRebuildInterval = time.Hour

	DefaultSourceBucket   = "source-cabs"
	DefaultPackagedBucket = "rebuilt-cabs"

	DefaultGroupStrategy = "Year-OS"
)

// Config holds everything the three pipeline stages need at start.
type Config struct {
	DatabaseURL string `yaml:"database_url" validate:"required"`

	MinioEndpoint  string `yaml:"minio_endpoint" validate:"required"`
	MinioAccessKey string `yaml:"minio_access_key" validate:"required"`
	MinioSecretKey string `yaml:"minio_secret_key" validate:"required"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	SourceURL      string `yaml:"source_url" validate:"required,url"`
	SourceBucket   string `yaml:"source_bucket" validate:"required"`
	PackagedBucket string `yaml:"packaged_bucket" validate:"required"`

	GroupStrategy string `yaml:"group_strategy"`

	FetchInterval   time.Duration `yaml:"-"`
	ParseInterval   time.Duration `yaml:"-"`
	RebuildInterval time.Duration `yaml:"-"`
}

// fileConfig mirrors Config for the YAML file, with intervals written as the
// same human-readable expressions accepted from the environment.
type fileConfig struct {
	Config          `yaml:",inline"`
	FetchInterval   string `yaml:"fetch_interval"`
	ParseInterval   string `yaml:"parse_interval"`
	RebuildInterval string `yaml:"rebuild_interval"`
}

// Load builds the configuration: defaults first, then the YAML file at path
// (if any), then environment variables, which always win. The result is
// validated before being returned.
func Load(path string) (*Config, error) {
	cfg := &Config{
		MinioEndpoint:   "localhost:9000",
		MinioAccessKey:  "admin",
		MinioSecretKey:  "password",
		SourceURL:       DefaultSourceURL,
		SourceBucket:    DefaultSourceBucket,
		PackagedBucket:  DefaultPackagedBucket,
		GroupStrategy:   DefaultGroupStrategy,
		FetchInterval:   DefaultFetchInterval,
		ParseInterval:   DefaultParseInterval,
		RebuildInterval: DefaultRebuildInterval,
	}

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	*cfg = fc.Config
	if err := setInterval(&cfg.FetchInterval, fc.FetchInterval); err != nil {
		return fmt.Errorf("config file fetch_interval: %w", err)
	}
	if err := setInterval(&cfg.ParseInterval, fc.ParseInterval); err != nil {
		return fmt.Errorf("config file parse_interval: %w", err)
	}
	if err := setInterval(&cfg.RebuildInterval, fc.RebuildInterval); err != nil {
		return fmt.Errorf("config file rebuild_interval: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.SourceURL, "CATALOG_SOURCE_URL")
	setString(&cfg.SourceBucket, "SOURCE_BUCKET")
	setString(&cfg.PackagedBucket, "PACKAGED_BUCKET")
	setString(&cfg.GroupStrategy, "GROUP_STRATEGY")

	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MINIO_USE_SSL: %w", err)
		}
		cfg.MinioUseSSL = b
	}

	if err := setInterval(&cfg.FetchInterval, os.Getenv("CAB_SYNC_INTERVAL")); err != nil {
		return fmt.Errorf("CAB_SYNC_INTERVAL: %w", err)
	}
	if err := setInterval(&cfg.ParseInterval, os.Getenv("PARSE_INTERVAL")); err != nil {
		return fmt.Errorf("PARSE_INTERVAL: %w", err)
	}
	if err := setInterval(&cfg.RebuildInterval, os.Getenv("REBUILD_INTERVAL")); err != nil {
		return fmt.Errorf("REBUILD_INTERVAL: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInterval(dst *time.Duration, expr string) error {
	if expr == "" {
		return nil
	}
	d, err := ParseInterval(expr)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
