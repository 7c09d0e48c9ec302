package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("QDRANT_API_KEY", "")

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 6334, cfg.VectorStore.QdrantPort)
	assert.Equal(t, 768, cfg.VectorStore.VectorSize)
	assert.Equal(t, "embedding-001", cfg.Embeddings.Model)
	assert.Equal(t, "policyqa", cfg.Events.SubjectPrefix)
	assert.Empty(t, cfg.Events.NATSURL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.VectorStore.Provider = "pinecone" },
			wantErr: "unsupported vectorstore provider",
		},
		{
			name:    "overlap not below chunk size",
			mutate:  func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize },
			wantErr: "chunk_overlap",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Query.RelevanceThreshold = 1.5 },
			wantErr: "relevance_threshold",
		},
		{
			name:    "telemetry without service name",
			mutate:  func(c *Config) { c.Observability.EnableTelemetry = true; c.Observability.ServiceName = "" },
			wantErr: "service name",
		},
		{
			name:   "local provider needs no qdrant host",
			mutate: func(c *Config) { c.VectorStore.Provider = ProviderLocal; c.VectorStore.QdrantHost = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret", s.Value())

	data, err := json.Marshal(CredentialsConfig{EmbeddingAPIKey: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestSecret_Hint(t *testing.T) {
	assert.Equal(t, "****wxyz", Secret("AIzaSyExample-key-wxyz").Hint())
	assert.Equal(t, "[REDACTED]", Secret("short").Hint())
	assert.Equal(t, "", Secret("").Hint())
}

func TestSecret_UnmarshalTextTrims(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte("  qdrant-key\n")))
	assert.Equal(t, "qdrant-key", s.Value())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("45")))
	assert.Equal(t, 45*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-3")))
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
