package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all service configuration, loaded from environment variables.
type Config struct {
	Bucket       string `env:"S3_BUCKET,required,notEmpty"`
	TokenTable   string `env:"DYNAMODB_TABLE" envDefault:"fitbit_tokens"`
	UserID       string `env:"FITBIT_USER_ID,required,notEmpty"`
	ClientID     string `env:"FITBIT_CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"FITBIT_CLIENT_SECRET,required,notEmpty"`

	// Optional S3-compatible endpoint override (local development).
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"AWS_REGION" envDefault:"us-west-2"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	// Backfill defaults, used when the invocation event omits a field.
	DefaultStartDate string `env:"BACKFILL_START_DATE" envDefault:"2025-01-01"`
	DefaultEndDate   string `env:"BACKFILL_END_DATE"`
	MaxDays          int    `env:"FITBIT_BACKFILL_MAX_DAYS" envDefault:"10"`
	DayRetries       int    `env:"BACKFILL_DAY_RETRIES" envDefault:"0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses configuration from the environment. MaxDays is clamped to
// [1, 365] to bound vendor API usage in a single run.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxDays < 1 {
		cfg.MaxDays = 1
	}
	if cfg.MaxDays > 365 {
		cfg.MaxDays = 365
	}
	if cfg.DayRetries < 0 {
		cfg.DayRetries = 0
	}
	return cfg, nil
}
