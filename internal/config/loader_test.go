package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("QDRANT_API_KEY", "")

	dir := filepath.Join(home, ".config", "policyqa")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)

	path := writeConfig(t, dir, `server:
  http_port: 9191
  shutdown_timeout: 3s
vectorstore:
  provider: chromem
  chromem_path: /tmp/policyqa
query:
  top_k: 7
  relevance_threshold: 0.5
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, ProviderChromem, cfg.VectorStore.Provider)
	assert.Equal(t, "/tmp/policyqa", cfg.VectorStore.ChromemPath)
	assert.Equal(t, 7, cfg.Query.TopK)
	assert.InDelta(t, 0.5, cfg.Query.RelevanceThreshold, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)

	path := writeConfig(t, dir, `server:
  http_port: 9191
observability:
  service_name: yaml-service
`, 0600)

	t.Setenv("SERVER_HTTP_PORT", "7777")
	t.Setenv("OBSERVABILITY_SERVICE_NAME", "env-service")
	t.Setenv("CREDENTIALS_EMBEDDING_API_KEY", "embed-key")
	t.Setenv("VECTORSTORE_QDRANT_HOST", "qdrant.internal")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "env-service", cfg.Observability.ServiceName)
	assert.Equal(t, "embed-key", cfg.Credentials.EmbeddingAPIKey.Value())
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.QdrantHost)
}

func TestLoadWithFile_CredentialFallbackVariables(t *testing.T) {
	setupTestHome(t)
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("QDRANT_API_KEY", "qdrant-key")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "google-key", cfg.Credentials.EmbeddingAPIKey.Value())
	assert.Equal(t, "qdrant-key", cfg.Credentials.VectorAPIKey.Value())
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, ProviderQdrant, cfg.VectorStore.Provider)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.InDelta(t, 0.7, cfg.Query.RelevanceThreshold, 1e-9)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Credentials.EmbeddingAPIKey.IsSet())
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server: [unclosed", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
}

func TestLoadWithFile_ValidationError(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `vectorstore:
  provider: pinecone
`, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vectorstore provider")
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	other := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(other, []byte("server:\n  http_port: 1\n"), 0600))

	_, err := LoadWithFile(other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_PathTraversal(t *testing.T) {
	dir := setupTestHome(t)

	_, err := LoadWithFile(filepath.Join(dir, "..", "..", "..", "etc", "passwd"))
	require.Error(t, err)
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9000\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	content := "# " + strings.Repeat("x", maxConfigFileSize+10) + "\n"
	path := writeConfig(t, dir, content, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadWithFile_CORSOriginsFromEnv(t *testing.T) {
	setupTestHome(t)
	t.Setenv("SERVER_CORS_ORIGINS", "http://localhost:5173, https://app.example.com,")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "https://app.example.com"}, cfg.Server.CORSOrigins)
}

func TestEnvValue(t *testing.T) {
	key, value := envValue("QUERY_TOP_K", "9")
	assert.Equal(t, "query.top_k", key)
	assert.Equal(t, "9", value)

	key, _ = envValue("HOME", "/root")
	assert.Empty(t, key)

	key, _ = envValue("GOPATH_EXTRA", "x")
	assert.Empty(t, key)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SERVER_HTTP_PORT":              "server.http_port",
		"CREDENTIALS_EMBEDDING_API_KEY": "credentials.embedding_api_key",
		"QUERY_TOP_K":                   "query.top_k",
		"HOME":                          "home",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
