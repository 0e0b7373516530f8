package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads. Empty values are ignored by Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvAPIKey, EnvAPISecret, EnvNamespace, EnvAPIURL,
		EnvRequestsPerSecond, EnvRequestBurst, EnvHTTPTimeout, EnvOTLPEndpoint,
	} {
		t.Setenv(name, "")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvAPISecret, "secret")
	t.Setenv(EnvNamespace, "acme")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, "secret", cfg.APISecret)
	assert.Equal(t, "acme", cfg.Namespace)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, 5.0, cfg.RequestsPerSecond)
	assert.Equal(t, 5, cfg.RequestBurst)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	content := `API_KEY=file-key
API_SECRET=file-secret
ENDOR_NAMESPACE=file-ns
ENDOR_API_URL=http://localhost:8080/v1/
ENDOR_HTTP_TIMEOUT=5s
OTEL_EXPORTER_OTLP_ENDPOINT=http://collector:4317
`
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0600))

	t.Run("file values are used", func(t *testing.T) {
		cfg, err := Load(envPath)
		require.NoError(t, err)
		assert.Equal(t, "file-key", cfg.APIKey)
		assert.Equal(t, "file-ns", cfg.Namespace)
		assert.Equal(t, "http://localhost:8080/v1", cfg.APIURL)
		assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
		assert.Equal(t, "http://collector:4317", cfg.OTLPEndpoint)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv(EnvNamespace, "env-ns")
		cfg, err := Load(envPath)
		require.NoError(t, err)
		assert.Equal(t, "env-ns", cfg.Namespace)
		assert.Equal(t, "file-key", cfg.APIKey)
	})
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvAPISecret, "secret")
	t.Setenv(EnvNamespace, "acme")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Namespace)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing key",
			env:     map[string]string{EnvAPISecret: "s", EnvNamespace: "n"},
			wantErr: "API_KEY environment variable is required",
		},
		{
			name:    "missing secret",
			env:     map[string]string{EnvAPIKey: "k", EnvNamespace: "n"},
			wantErr: "API_SECRET environment variable is required",
		},
		{
			name:    "missing namespace",
			env:     map[string]string{EnvAPIKey: "k", EnvAPISecret: "s"},
			wantErr: "ENDOR_NAMESPACE environment variable is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load("")
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ClientSettings(t *testing.T) {
	base := func() *Config {
		return &Config{
			APIKey:            "k",
			APISecret:         "s",
			Namespace:         "n",
			APIURL:            DefaultAPIURL,
			RequestsPerSecond: 1,
			RequestBurst:      1,
			HTTPTimeout:       time.Second,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.RequestsPerSecond = 0
	assert.ErrorContains(t, cfg.Validate(), EnvRequestsPerSecond)

	cfg = base()
	cfg.RequestBurst = 0
	assert.ErrorContains(t, cfg.Validate(), EnvRequestBurst)

	cfg = base()
	cfg.HTTPTimeout = 0
	assert.ErrorContains(t, cfg.Validate(), EnvHTTPTimeout)
}
