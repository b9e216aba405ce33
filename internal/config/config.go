// Package config loads pipeline configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultAPIBaseURL = "https://www.fuel-finder.service.gov.uk"
	defaultTokenURL   = defaultAPIBaseURL + "/oauth/token"
	defaultOutputPath = "data/uk-fuel-prices.json"
)

// Config holds all external configuration for a pipeline run.
type Config struct {
	// OAuth2 client-credentials identity for the Fuel Finder API.
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`

	// Upstream endpoints.
	TokenURL   string `validate:"required,url"`
	APIBaseURL string `validate:"required,url"`

	// OutputPath is where the JSON artifact is published.
	OutputPath string `validate:"required"`

	// RunTimeout is the hard wall-clock budget for one full run.
	RunTimeout time.Duration `validate:"gt=0"`

	// RequestsPerMinute paces upstream requests.
	RequestsPerMinute int `validate:"gt=0"`

	// Telemetry.
	Environment  string
	OTELEnabled  bool
	OTLPEndpoint string
}

// Load reads configuration from the environment. A missing .env file
// is not an error; secrets have no defaults and fail validation when
// absent.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ClientID:     os.Getenv("GOV_UK_CLIENT_ID"),
		ClientSecret: os.Getenv("GOV_UK_CLIENT_SECRET"),
		TokenURL:     getenvDefault("GOV_UK_TOKEN_URL", defaultTokenURL),
		APIBaseURL:   getenvDefault("GOV_UK_API_BASE_URL", defaultAPIBaseURL),
		OutputPath:   getenvDefault("OUTPUT_PATH", defaultOutputPath),
		Environment:  getenvDefault("APP_ENV", "development"),
		OTELEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint: getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	timeout, err := time.ParseDuration(getenvDefault("RUN_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RUN_TIMEOUT: %w", err)
	}
	cfg.RunTimeout = timeout

	rpm, err := strconv.Atoi(getenvDefault("REQUESTS_PER_MINUTE", "120"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUESTS_PER_MINUTE: %w", err)
	}
	cfg.RequestsPerMinute = rpm

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
