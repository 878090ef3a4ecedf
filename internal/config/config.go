package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	DocumentAI DocumentAIConfig `yaml:"documentai" mapstructure:"documentai"`
	Extractor  ExtractorConfig  `yaml:"extractor" mapstructure:"extractor"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Sink       SinkConfig       `yaml:"sink" mapstructure:"sink"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures where uploaded documents are kept.
type BlobConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	Bucket           string `yaml:"bucket" mapstructure:"bucket"`
	Dir              string `yaml:"dir" mapstructure:"dir"`
	CredentialsFile  string `yaml:"credentials_file" mapstructure:"credentials_file"`
	SignedURLTTLMins int    `yaml:"signed_url_ttl_mins" mapstructure:"signed_url_ttl_mins"`
}

// DocumentAIConfig holds Google Document AI settings.
type DocumentAIConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Location        string `yaml:"location" mapstructure:"location"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
}

// ExtractorConfig selects the extraction backend.
type ExtractorConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
}

// LLMConfig configures the OCR + Claude extraction backend.
type LLMConfig struct {
	ProcessorsFile string `yaml:"processors_file" mapstructure:"processors_file"`
	Model          string `yaml:"model" mapstructure:"model"`
	MaxTokens      int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// SinkConfig configures the downstream ERP sink.
type SinkConfig struct {
	Driver            string  `yaml:"driver" mapstructure:"driver"`
	URL               string  `yaml:"url" mapstructure:"url"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit         float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	FailureThreshold  int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	MockLatencyMillis int     `yaml:"mock_latency_ms" mapstructure:"mock_latency_ms"`
}

// SalesforceConfig holds Salesforce JWT auth settings and target objects.
type SalesforceConfig struct {
	ClientID   string  `yaml:"client_id" mapstructure:"client_id"`
	Username   string  `yaml:"username" mapstructure:"username"`
	KeyPath    string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string  `yaml:"login_url" mapstructure:"login_url"`
	Object     string  `yaml:"object" mapstructure:"object"`
	LineObject string  `yaml:"line_object" mapstructure:"line_object"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RetryConfig controls retries of remote calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key has a default so AutomaticEnv can override it.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "po.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.dir", "data/blobs")
	v.SetDefault("blob.credentials_file", "")
	v.SetDefault("blob.signed_url_ttl_mins", 60)
	v.SetDefault("documentai.project_id", "")
	v.SetDefault("documentai.location", "eu")
	v.SetDefault("documentai.credentials_file", "")
	v.SetDefault("documentai.endpoint", "")
	v.SetDefault("extractor.driver", "documentai")
	v.SetDefault("llm.processors_file", "processors.yaml")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("sink.driver", "mock")
	v.SetDefault("sink.url", "")
	v.SetDefault("sink.api_key", "")
	v.SetDefault("sink.timeout_secs", 30)
	v.SetDefault("sink.rate_limit", 5.0)
	v.SetDefault("sink.failure_threshold", 5)
	v.SetDefault("sink.reset_timeout_secs", 30)
	v.SetDefault("sink.mock_latency_ms", 0)
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.object", "Purchase_Order__c")
	v.SetDefault("salesforce.line_object", "Purchase_Order_Line__c")
	v.SetDefault("salesforce.rate_limit", 10.0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by a command mode: "store" for record
// queries, "process" for extraction and sending, "serve" for the HTTP API.
// All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			fail("unknown store driver %q", c.Store.Driver)
		}
		if c.Store.DatabaseURL == "" {
			fail("store.database_url is required")
		}
	}

	checkProcess := func() {
		switch c.Blob.Driver {
		case "fs":
		case "gcs":
			if c.Blob.Bucket == "" {
				fail("blob.bucket is required for the gcs driver")
			}
		default:
			fail("unknown blob driver %q", c.Blob.Driver)
		}

		switch c.Extractor.Driver {
		case "documentai":
			if c.DocumentAI.ProjectID == "" {
				fail("documentai.project_id is required")
			}
		case "llm":
			if c.Anthropic.Key == "" {
				fail("anthropic.key is required for the llm extractor")
			}
		default:
			fail("unknown extractor driver %q", c.Extractor.Driver)
		}

		switch c.Sink.Driver {
		case "mock", "none":
		case "http":
			if c.Sink.URL == "" {
				fail("sink.url is required for the http sink")
			}
		case "salesforce":
			if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
				fail("salesforce.client_id, username and key_path are required for the salesforce sink")
			}
		default:
			fail("unknown sink driver %q", c.Sink.Driver)
		}
	}

	switch mode {
	case "store":
		checkStore()
	case "process":
		checkStore()
		checkProcess()
	case "serve":
		checkStore()
		checkProcess()
		if c.Server.Port <= 0 {
			fail("server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
