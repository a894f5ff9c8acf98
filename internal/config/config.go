// Package config provides configuration loading for toolgate.
//
// Configuration is read from an optional YAML file and overridden by
// TOOLGATE_* environment variables (see LoadWithFile). Every field has a
// default, so a zero-configuration start runs with the embedded vector store,
// the hash embedding fallback if no model is available, and an in-memory
// registry.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete toolgate configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Registry      RegistryConfig      `koanf:"registry"`
	IAM           IAMConfig           `koanf:"iam"`
	Events        EventsConfig        `koanf:"events"`
	Context       ContextConfig       `koanf:"context"`
	Loader        LoaderConfig        `koanf:"loader"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       float64       `koanf:"rate_limit"` // requests per second, 0 disables
	RateBurst       int           `koanf:"rate_burst"`
	EnableAdmin     bool          `koanf:"enable_admin"`
}

// LoggingConfig selects logger behavior. See logging.ConfigFrom.
type LoggingConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"`
	Output          string `koanf:"output"`
	OTEL            bool   `koanf:"otel"`
	DisableSampling bool   `koanf:"disable_sampling"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"otlp_endpoint"`
	Protocol        string  `koanf:"otlp_protocol"` // grpc | http
	Insecure        bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	Provider   string        `koanf:"provider"` // fastembed | tei | none
	Model      string        `koanf:"model"`
	Dimensions int           `koanf:"dimensions"`
	BatchSize  int           `koanf:"batch_size"`
	CacheDir   string        `koanf:"cache_dir"`
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// VectorStoreConfig selects and configures the vector store adapter.
// Fields are flat so each maps to one TOOLGATE_VECTORSTORE_* variable.
type VectorStoreConfig struct {
	Driver          string        `koanf:"driver"` // lancedb (embedded) | qdrant (REST) | qdrant-grpc
	Collection      string        `koanf:"collection"`
	Dimension       int           `koanf:"dimension"`
	Distance        string        `koanf:"distance"`
	MaxLimit        int           `koanf:"max_limit"`
	DisableFallback bool          `koanf:"disable_fallback"`
	FallbackDir     string        `koanf:"fallback_dir"`
	ChromemPath     string        `koanf:"chromem_path"`
	ChromemCompress bool          `koanf:"chromem_compress"`
	QdrantURL       string        `koanf:"qdrant_url"`
	QdrantAPIKey    Secret        `koanf:"qdrant_api_key"`
	QdrantTimeout   time.Duration `koanf:"qdrant_timeout"`
	QdrantGRPCHost  string        `koanf:"qdrant_grpc_host"`
	QdrantGRPCPort  int           `koanf:"qdrant_grpc_port"`
	QdrantGRPCTLS   bool          `koanf:"qdrant_grpc_tls"`
}

// DefaultRegistryDSN is the sqlite file used when no registry is configured.
const DefaultRegistryDSN Secret = "~/.local/share/toolgate/registry.db"

// RegistryConfig selects the manifest registry backend.
type RegistryConfig struct {
	Driver string `koanf:"driver"` // memory | sqlite | postgres
	DSN    Secret `koanf:"dsn"`
}

// IAMConfig configures the capability filter.
type IAMConfig struct {
	RequireActor       bool                `koanf:"require_actor"`
	AllowImplicitGrant bool                `koanf:"allow_implicit_grant"`
	DenyOnError        *bool               `koanf:"deny_on_error"`
	Grants             map[string][]string `koanf:"grants"`
}

// DenyOnErrorEnabled reports DenyOnError, defaulting to true when unset.
func (c IAMConfig) DenyOnErrorEnabled() bool {
	return c.DenyOnError == nil || *c.DenyOnError
}

// EventsConfig configures activation event publishing.
type EventsConfig struct {
	Enabled bool          `koanf:"enabled"`
	NATSURL string        `koanf:"nats_url"`
	Subject string        `koanf:"subject"`
	Timeout time.Duration `koanf:"timeout"`
}

// ContextConfig configures the project context store.
type ContextConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Dir         string  `koanf:"dir"`
	SizeLimitKB float64 `koanf:"size_limit_kb"`
}

// LoaderConfig configures bulk manifest loading.
type LoaderConfig struct {
	ManifestDir   string        `koanf:"manifest_dir"`
	DryRun        bool          `koanf:"dry_run"`
	WatchDebounce time.Duration `koanf:"watch_debounce"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	switch c.Observability.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unsupported otlp protocol %q (supported: grpc, http)", c.Observability.Protocol)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei", "none":
	default:
		return fmt.Errorf("unsupported embeddings provider %q (supported: fastembed, tei, none)", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		return errors.New("embedding batch size must be positive")
	}
	if c.VectorStore.Dimension <= 0 {
		return errors.New("vector dimension must be positive")
	}
	if c.VectorStore.MaxLimit <= 0 {
		return errors.New("vector max limit must be positive")
	}
	switch c.Registry.Driver {
	case "memory":
	case "sqlite", "postgres":
		if !c.Registry.DSN.IsSet() {
			return fmt.Errorf("registry dsn required for driver %q", c.Registry.Driver)
		}
	default:
		return fmt.Errorf("unsupported registry driver %q (supported: memory, sqlite, postgres)", c.Registry.Driver)
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("nats url required when events are enabled")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "toolgate"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Dimensions == 0 {
		cfg.Embeddings.Dimensions = 384
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 32
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/toolgate/models"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 30 * time.Second
	}

	if cfg.VectorStore.Driver == "" {
		cfg.VectorStore.Driver = "lancedb"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "tool_manifests"
	}
	if cfg.VectorStore.Dimension == 0 {
		cfg.VectorStore.Dimension = cfg.Embeddings.Dimensions
	}
	if cfg.VectorStore.Distance == "" {
		cfg.VectorStore.Distance = "Cosine"
	}
	if cfg.VectorStore.MaxLimit == 0 {
		cfg.VectorStore.MaxLimit = 50
	}
	if cfg.VectorStore.FallbackDir == "" {
		cfg.VectorStore.FallbackDir = "~/.local/share/toolgate/vectors"
	}
	if cfg.VectorStore.ChromemPath == "" {
		cfg.VectorStore.ChromemPath = "~/.local/share/toolgate/chromem"
	}
	if cfg.VectorStore.QdrantURL == "" {
		cfg.VectorStore.QdrantURL = "http://localhost:6333"
	}
	if cfg.VectorStore.QdrantTimeout == 0 {
		cfg.VectorStore.QdrantTimeout = 5000 * time.Millisecond
	}
	if cfg.VectorStore.QdrantGRPCHost == "" {
		cfg.VectorStore.QdrantGRPCHost = "localhost"
	}
	if cfg.VectorStore.QdrantGRPCPort == 0 {
		cfg.VectorStore.QdrantGRPCPort = 6334
	}

	// The registry persists by default so load and activate can run as
	// separate invocations. The default path applies only when the driver
	// is not chosen explicitly.
	if cfg.Registry.Driver == "" {
		cfg.Registry.Driver = "sqlite"
		if !cfg.Registry.DSN.IsSet() {
			cfg.Registry.DSN = DefaultRegistryDSN
		}
	}

	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "toolgate.activations"
	}
	if cfg.Events.Timeout == 0 {
		cfg.Events.Timeout = 2 * time.Second
	}

	if cfg.Context.Dir == "" {
		cfg.Context.Dir = "."
	}
	if cfg.Context.SizeLimitKB == 0 {
		cfg.Context.SizeLimitKB = 100
	}

	if cfg.Loader.ManifestDir == "" {
		cfg.Loader.ManifestDir = "manifests"
	}
	if cfg.Loader.WatchDebounce == 0 {
		cfg.Loader.WatchDebounce = 500 * time.Millisecond
	}
}
