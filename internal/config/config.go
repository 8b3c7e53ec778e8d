package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DatasetSourceDir = "dir"
	DatasetSourceS3  = "s3"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Transcript    TranscriptConfig
	ObjectStore   ObjectStoreConfig
	Datasets      DatasetsConfig
	Completion    CompletionConfig
	Pipeline      PipelineConfig
	Sandbox       SandboxConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TranscriptConfig selects the conversation store. An empty DSN keeps
// transcripts in process memory.
type TranscriptConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type DatasetsConfig struct {
	Source           string
	Dir              string
	ObjectPrefix     string
	SchemaSampleRows int
}

type CompletionConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	AllowedModels []string
	MaxTokens     int
	Timeout       time.Duration
}

type PipelineConfig struct {
	RetryBudget  int
	PreviewLimit int
	MaxInstances int
}

type SandboxConfig struct {
	Threads          int
	MaxMemory        string
	ExecutionTimeout time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// RateLimitConfig bounds ask requests per principal. A zero rate disables
// limiting.
type RateLimitConfig struct {
	AskPerMinute int
	AskBurst     int
}

// ModelAllowed reports whether model may be requested by callers. An empty
// allow-list only admits the default model.
func (c CompletionConfig) ModelAllowed(model string) bool {
	if model == c.Model {
		return true
	}
	for _, candidate := range c.AllowedModels {
		if candidate == model {
			return true
		}
	}
	return false
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

// Load starts from the profile defaults and overlays every TABLECHAT_*
// variable lookup reports. All malformed variables are reported together.
func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("TABLECHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
	default:
		return Config{}, fmt.Errorf("invalid TABLECHAT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var errs []error
	for _, b := range cfg.bindings() {
		raw, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.set(strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", b.key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) bindings() []binding {
	return []binding{
		bind("TABLECHAT_SERVICE_NAME", &c.Service.Name, parseString),
		bind("TABLECHAT_HTTP_ADDR", &c.HTTP.Address, parseString),
		bind("TABLECHAT_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout, time.ParseDuration),
		bind("TABLECHAT_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout, time.ParseDuration),
		bind("TABLECHAT_HTTP_IDLE_TIMEOUT", &c.HTTP.IdleTimeout, time.ParseDuration),

		bind("TABLECHAT_TRANSCRIPT_DSN", &c.Transcript.DSN, parseString),
		bind("TABLECHAT_TRANSCRIPT_MAX_OPEN_CONNS", &c.Transcript.MaxOpenConns, strconv.Atoi),
		bind("TABLECHAT_TRANSCRIPT_MAX_IDLE_CONNS", &c.Transcript.MaxIdleConns, strconv.Atoi),
		bind("TABLECHAT_TRANSCRIPT_CONN_MAX_IDLE_TIME", &c.Transcript.ConnMaxIdleTime, time.ParseDuration),
		bind("TABLECHAT_TRANSCRIPT_CONN_MAX_LIFETIME", &c.Transcript.ConnMaxLifetime, time.ParseDuration),

		bind("TABLECHAT_OBJECTSTORE_ENDPOINT", &c.ObjectStore.Endpoint, parseString),
		bind("TABLECHAT_OBJECTSTORE_REGION", &c.ObjectStore.Region, parseString),
		bind("TABLECHAT_OBJECTSTORE_BUCKET", &c.ObjectStore.Bucket, parseString),
		bind("TABLECHAT_OBJECTSTORE_ACCESS_KEY", &c.ObjectStore.AccessKeyID, parseString),
		bind("TABLECHAT_OBJECTSTORE_SECRET_KEY", &c.ObjectStore.SecretAccessKey, parseString),
		bind("TABLECHAT_OBJECTSTORE_USE_SSL", &c.ObjectStore.UseSSL, strconv.ParseBool),
		bind("TABLECHAT_OBJECTSTORE_PREFIX", &c.ObjectStore.Prefix, parseString),
		bind("TABLECHAT_OBJECTSTORE_AUTO_CREATE_BUCKET", &c.ObjectStore.AutoCreateBucket, strconv.ParseBool),

		bind("TABLECHAT_DATASETS_SOURCE", &c.Datasets.Source, parseString),
		bind("TABLECHAT_DATASETS_DIR", &c.Datasets.Dir, parseString),
		bind("TABLECHAT_DATASETS_OBJECT_PREFIX", &c.Datasets.ObjectPrefix, parseString),
		bind("TABLECHAT_DATASETS_SCHEMA_SAMPLE_ROWS", &c.Datasets.SchemaSampleRows, strconv.Atoi),

		bind("TABLECHAT_COMPLETION_BASE_URL", &c.Completion.BaseURL, parseString),
		bind("TABLECHAT_COMPLETION_API_KEY", &c.Completion.APIKey, parseString),
		bind("TABLECHAT_COMPLETION_MODEL", &c.Completion.Model, parseString),
		bind("TABLECHAT_COMPLETION_ALLOWED_MODELS", &c.Completion.AllowedModels, parseList),
		bind("TABLECHAT_COMPLETION_MAX_TOKENS", &c.Completion.MaxTokens, strconv.Atoi),
		bind("TABLECHAT_COMPLETION_TIMEOUT", &c.Completion.Timeout, time.ParseDuration),

		bind("TABLECHAT_PIPELINE_RETRY_BUDGET", &c.Pipeline.RetryBudget, strconv.Atoi),
		bind("TABLECHAT_PIPELINE_PREVIEW_LIMIT", &c.Pipeline.PreviewLimit, strconv.Atoi),
		bind("TABLECHAT_PIPELINE_MAX_INSTANCES", &c.Pipeline.MaxInstances, strconv.Atoi),

		bind("TABLECHAT_SANDBOX_THREADS", &c.Sandbox.Threads, strconv.Atoi),
		bind("TABLECHAT_SANDBOX_MAX_MEMORY", &c.Sandbox.MaxMemory, parseString),
		bind("TABLECHAT_SANDBOX_EXECUTION_TIMEOUT", &c.Sandbox.ExecutionTimeout, time.ParseDuration),

		bind("TABLECHAT_LOG_JSON", &c.Observability.LogJSON, strconv.ParseBool),
		bind("TABLECHAT_LOG_LEVEL", &c.Observability.LogLevel, parseLogLevel),

		bind("TABLECHAT_AUTH_REQUIRED", &c.Auth.Required, strconv.ParseBool),
		bind("TABLECHAT_AUTH_STATIC_KEYS", &c.Auth.StaticKeys, parseString),

		bind("TABLECHAT_RATE_ASK_PER_MINUTE", &c.RateLimit.AskPerMinute, strconv.Atoi),
		bind("TABLECHAT_RATE_ASK_BURST", &c.RateLimit.AskBurst, strconv.Atoi),
	}
}

func (c Config) validate() error {
	switch {
	case c.Service.Name == "":
		return fmt.Errorf("service name is required")
	case c.HTTP.Address == "":
		return fmt.Errorf("http address is required")
	case c.Datasets.Source != DatasetSourceDir && c.Datasets.Source != DatasetSourceS3:
		return fmt.Errorf("invalid TABLECHAT_DATASETS_SOURCE: %q", c.Datasets.Source)
	case c.Completion.Model == "":
		return fmt.Errorf("completion model is required")
	case c.Pipeline.RetryBudget <= 0:
		return fmt.Errorf("TABLECHAT_PIPELINE_RETRY_BUDGET must be positive")
	case c.Pipeline.PreviewLimit <= 0:
		return fmt.Errorf("TABLECHAT_PIPELINE_PREVIEW_LIMIT must be positive")
	case c.RateLimit.AskPerMinute < 0 || c.RateLimit.AskBurst < 0:
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "tablechat-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Transcript: TranscriptConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "tablechat",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Datasets: DatasetsConfig{
			Source:           DatasetSourceDir,
			Dir:              "data",
			ObjectPrefix:     "datasets",
			SchemaSampleRows: 3,
		},
		Completion: CompletionConfig{
			BaseURL: "https://api.groq.com/openai",
			Model:   "llama-3.3-70b-versatile",
			AllowedModels: []string{
				"llama-3.3-70b-versatile",
				"llama-3.1-8b-instant",
				"mixtral-8x7b-32768",
				"gemma2-9b-it",
			},
			MaxTokens: 2048,
			Timeout:   60 * time.Second,
		},
		Pipeline: PipelineConfig{
			RetryBudget:  2,
			PreviewLimit: 2000,
			MaxInstances: 16,
		},
		Sandbox: SandboxConfig{
			Threads:          1,
			MaxMemory:        "256MB",
			ExecutionTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
		RateLimit: RateLimitConfig{
			AskPerMinute: 30,
			AskBurst:     5,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
		cfg.RateLimit.AskPerMinute = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

type binding struct {
	key string
	set func(raw string) error
}

func bind[T any](key string, dst *T, parse func(string) (T, error)) binding {
	return binding{key: key, set: func(raw string) error {
		value, err := parse(raw)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}}
}

func parseString(raw string) (string, error) {
	return raw, nil
}

func parseList(raw string) ([]string, error) {
	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", raw)
}
