// Package config provides configuration loading for policyqa.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables (see LoadWithFile). Every section has defaults, so
// an empty environment yields a runnable local-only server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Vector store providers.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
	ProviderLocal   = "local"
)

// Config holds the complete policyqa configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Credentials   CredentialsConfig   `koanf:"credentials"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Ingest        IngestConfig        `koanf:"ingest"`
	Query         QueryConfig         `koanf:"query"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string `koanf:"cors_origins"`
	MaxUploadMB     int      `koanf:"max_upload_mb"`
}

// CredentialsConfig holds the two secrets gating the remote vector path.
//
// When unset, EmbeddingAPIKey falls back to GOOGLE_API_KEY and VectorAPIKey
// to QDRANT_API_KEY.
type CredentialsConfig struct {
	EmbeddingAPIKey Secret `koanf:"embedding_api_key"`
	VectorAPIKey    Secret `koanf:"vector_api_key"`
}

// VectorStoreConfig selects and configures the remote backend.
type VectorStoreConfig struct {
	// Provider is qdrant (default), chromem or local. local never attempts a
	// remote backend.
	Provider      string   `koanf:"provider"`
	RemoteTimeout Duration `koanf:"remote_timeout"`

	QdrantHost     string `koanf:"qdrant_host"`
	QdrantPort     int    `koanf:"qdrant_port"`
	QdrantUseTLS   bool   `koanf:"qdrant_use_tls"`
	CollectionName string `koanf:"collection_name"`
	VectorSize     int    `koanf:"vector_size"`

	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`
}

// EmbeddingsConfig configures the Gemini embedding model.
type EmbeddingsConfig struct {
	Model     string `koanf:"model"`
	BatchSize int    `koanf:"batch_size"`
}

// LLMConfig configures the Gemini reasoning model.
type LLMConfig struct {
	Model       string   `koanf:"model"`
	Temperature float32  `koanf:"temperature"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	MaxRetries  int      `koanf:"max_retries"`
	Timeout     Duration `koanf:"timeout"`
}

// IngestConfig configures chunking.
type IngestConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// QueryConfig configures retrieval.
type QueryConfig struct {
	TopK               int     `koanf:"top_k"`
	RelevanceThreshold float64 `koanf:"relevance_threshold"`
	MaxConcurrency     int     `koanf:"max_concurrency"`
}

// EventsConfig configures the optional NATS publisher.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds logging and OpenTelemetry switches.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"` // grpc (default) or http/protobuf
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
	LogLevel          string `koanf:"log_level"`
	LogFormat         string `koanf:"log_format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_mb must be positive, got %d", c.Server.MaxUploadMB))
	}

	switch c.VectorStore.Provider {
	case ProviderQdrant:
		if c.VectorStore.QdrantHost == "" {
			errs = append(errs, errors.New("vectorstore.qdrant_host is required for the qdrant provider"))
		}
		if c.VectorStore.QdrantPort < 1 || c.VectorStore.QdrantPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid qdrant port: %d", c.VectorStore.QdrantPort))
		}
	case ProviderChromem, ProviderLocal:
	default:
		errs = append(errs, fmt.Errorf("unsupported vectorstore provider %q (supported: qdrant, chromem, local)", c.VectorStore.Provider))
	}
	if c.VectorStore.VectorSize <= 0 {
		errs = append(errs, fmt.Errorf("vector_size must be positive, got %d", c.VectorStore.VectorSize))
	}

	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.Ingest.ChunkSize))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap))
	}

	if c.Query.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be positive, got %d", c.Query.TopK))
	}
	if c.Query.RelevanceThreshold < 0 || c.Query.RelevanceThreshold > 1 {
		errs = append(errs, fmt.Errorf("relevance_threshold must be in [0, 1], got %g", c.Query.RelevanceThreshold))
	}

	if c.LLM.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("llm rate_limit must be positive, got %g", c.LLM.RateLimit))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm temperature must be in [0, 2], got %g", c.LLM.Temperature))
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("service name required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}

	if !cfg.Credentials.EmbeddingAPIKey.IsSet() {
		cfg.Credentials.EmbeddingAPIKey = Secret(os.Getenv("GOOGLE_API_KEY"))
	}
	if !cfg.Credentials.VectorAPIKey.IsSet() {
		cfg.Credentials.VectorAPIKey = Secret(os.Getenv("QDRANT_API_KEY"))
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = ProviderQdrant
	}
	if cfg.VectorStore.RemoteTimeout == 0 {
		cfg.VectorStore.RemoteTimeout = Duration(30 * time.Second)
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}
	if cfg.VectorStore.CollectionName == "" {
		cfg.VectorStore.CollectionName = "policyqa_fragments"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 768 // embedding-001 dimensions
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "embedding-001"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 100
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gemini-2.5-flash"
	}
	if cfg.LLM.RateLimit == 0 {
		cfg.LLM.RateLimit = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}

	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}
	if cfg.Query.RelevanceThreshold == 0 {
		cfg.Query.RelevanceThreshold = 0.7
	}
	if cfg.Query.MaxConcurrency == 0 {
		cfg.Query.MaxConcurrency = 8
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "policyqa"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "policyqa"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}
