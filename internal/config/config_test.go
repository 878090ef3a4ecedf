package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "po.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "fs", cfg.Blob.Driver)
	assert.Equal(t, 60, cfg.Blob.SignedURLTTLMins)
	assert.Equal(t, "documentai", cfg.Extractor.Driver)
	assert.Equal(t, "eu", cfg.DocumentAI.Location)
	assert.Equal(t, int64(4096), cfg.LLM.MaxTokens)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "mistral-ocr-latest", cfg.OCR.MistralModel)
	assert.Equal(t, "mock", cfg.Sink.Driver)
	assert.InDelta(t, 5.0, cfg.Sink.RateLimit, 0.001)
	assert.Equal(t, "https://login.salesforce.com", cfg.Salesforce.LoginURL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/po
blob:
  driver: gcs
  bucket: po-uploads
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/po", cfg.Store.DatabaseURL)
	assert.Equal(t, "po-uploads", cfg.Blob.Bucket)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, "mock", cfg.Sink.Driver)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
sink:
  driver: mock
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("PO_STORE_DRIVER", "postgres")
	t.Setenv("PO_SINK_DRIVER", "http")
	t.Setenv("PO_SINK_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "http", cfg.Sink.Driver)
	assert.Equal(t, "secret", cfg.Sink.APIKey)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "po.db"
	cfg.Blob.Driver = "fs"
	cfg.Extractor.Driver = "documentai"
	cfg.DocumentAI.ProjectID = "my-project"
	cfg.Sink.Driver = "mock"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{name: "serve ok", mode: "serve", mutate: func(*Config) {}},
		{name: "store ignores extractor", mode: "store", mutate: func(c *Config) { c.DocumentAI.ProjectID = "" }},
		{name: "missing project", mode: "process", mutate: func(c *Config) { c.DocumentAI.ProjectID = "" },
			wantErr: []string{"documentai.project_id is required"}},
		{name: "llm needs key", mode: "process", mutate: func(c *Config) { c.Extractor.Driver = "llm" },
			wantErr: []string{"anthropic.key is required"}},
		{name: "gcs needs bucket", mode: "process", mutate: func(c *Config) { c.Blob.Driver = "gcs" },
			wantErr: []string{"blob.bucket is required"}},
		{name: "http sink needs url", mode: "process", mutate: func(c *Config) { c.Sink.Driver = "http" },
			wantErr: []string{"sink.url is required"}},
		{name: "salesforce needs creds", mode: "process", mutate: func(c *Config) { c.Sink.Driver = "salesforce" },
			wantErr: []string{"salesforce.client_id"}},
		{name: "unknown drivers reported together", mode: "serve", mutate: func(c *Config) {
			c.Store.Driver = "mysql"
			c.Sink.Driver = "sap"
			c.Server.Port = 0
		}, wantErr: []string{`unknown store driver "mysql"`, `unknown sink driver "sap"`, "server.port must be > 0"}},
		{name: "unknown mode", mode: "bogus", mutate: func(*Config) {}, wantErr: []string{"unknown mode"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
