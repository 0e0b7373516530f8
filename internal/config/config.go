// Package config loads the credentials and client settings retag needs to
// talk to the findings service. Values come from the process environment,
// optionally seeded from a dotenv file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variable names.
const (
	EnvAPIKey            = "API_KEY"
	EnvAPISecret         = "API_SECRET"
	EnvNamespace         = "ENDOR_NAMESPACE"
	EnvAPIURL            = "ENDOR_API_URL"
	EnvRequestsPerSecond = "ENDOR_REQUESTS_PER_SECOND"
	EnvRequestBurst      = "ENDOR_REQUEST_BURST"
	EnvHTTPTimeout       = "ENDOR_HTTP_TIMEOUT"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// DefaultAPIURL is the public Endor Labs API root.
const DefaultAPIURL = "https://api.endorlabs.com/v1"

// Config holds the findings service settings for a single run.
type Config struct {
	// APIKey and APISecret are exchanged for a bearer token (from API_KEY / API_SECRET)
	APIKey    string
	APISecret string

	// Namespace is the tenant namespace projects are looked up in (from ENDOR_NAMESPACE)
	Namespace string

	// APIURL is the API root without trailing slash (from ENDOR_API_URL)
	APIURL string

	// RequestsPerSecond and RequestBurst bound the client-side request rate
	RequestsPerSecond float64
	RequestBurst      int

	// HTTPTimeout applies to each individual request
	HTTPTimeout time.Duration

	// OTLPEndpoint is the trace collector URL; tracing is off when empty
	OTLPEndpoint string
}

// Load reads configuration from envFile (if it exists) and the environment.
// Real environment variables take precedence over the file. An empty envFile
// skips the file entirely. The returned config has already been validated.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault(EnvAPIURL, DefaultAPIURL)
	v.SetDefault(EnvRequestsPerSecond, 5.0)
	v.SetDefault(EnvRequestBurst, 5)
	v.SetDefault(EnvHTTPTimeout, 30*time.Second)

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat env file %s: %w", envFile, err)
		}
	}

	v.AutomaticEnv()

	cfg := &Config{
		APIKey:            v.GetString(EnvAPIKey),
		APISecret:         v.GetString(EnvAPISecret),
		Namespace:         v.GetString(EnvNamespace),
		APIURL:            strings.TrimRight(v.GetString(EnvAPIURL), "/"),
		RequestsPerSecond: v.GetFloat64(EnvRequestsPerSecond),
		RequestBurst:      v.GetInt(EnvRequestBurst),
		HTTPTimeout:       v.GetDuration(EnvHTTPTimeout),
		OTLPEndpoint:      v.GetString(EnvOTLPEndpoint),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns the first validation error encountered.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%s environment variable is required", EnvAPIKey)
	}

	if c.APISecret == "" {
		return fmt.Errorf("%s environment variable is required", EnvAPISecret)
	}

	if c.Namespace == "" {
		return fmt.Errorf("%s environment variable is required", EnvNamespace)
	}

	if c.APIURL == "" {
		return fmt.Errorf("%s must not be empty", EnvAPIURL)
	}

	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("%s must be a positive number", EnvRequestsPerSecond)
	}

	if c.RequestBurst < 1 {
		return fmt.Errorf("%s must be at least 1", EnvRequestBurst)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%s must be a positive duration", EnvHTTPTimeout)
	}

	return nil
}
