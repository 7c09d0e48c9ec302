package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/policyqa/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEmbedderFactory(ctx context.Context, apiKey string) (Embedder, error) {
	return &hashEmbedder{}, nil
}

func TestNewRemoteFactory(t *testing.T) {
	t.Run("local has no factory", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore.Provider = config.ProviderLocal

		factory, embedded, err := NewRemoteFactory(cfg, testEmbedderFactory, nil)
		require.NoError(t, err)
		assert.Nil(t, factory)
		assert.False(t, embedded)
	})

	t.Run("chromem is embedded", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore.Provider = config.ProviderChromem

		factory, embedded, err := NewRemoteFactory(cfg, testEmbedderFactory, nil)
		require.NoError(t, err)
		require.NotNil(t, factory)
		assert.True(t, embedded)

		remote, err := factory(context.Background(), Credentials{EmbeddingAPIKey: "e"})
		require.NoError(t, err)
		assert.IsType(t, &ChromemBackend{}, remote)
	})

	t.Run("qdrant is not embedded", func(t *testing.T) {
		cfg := config.Default()
		factory, embedded, err := NewRemoteFactory(cfg, testEmbedderFactory, nil)
		require.NoError(t, err)
		assert.NotNil(t, factory)
		assert.False(t, embedded)
	})

	t.Run("embedder errors surface from the factory", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore.Provider = config.ProviderChromem
		failing := func(ctx context.Context, apiKey string) (Embedder, error) {
			return nil, errors.New("bad key")
		}

		factory, _, err := NewRemoteFactory(cfg, failing, nil)
		require.NoError(t, err)
		_, err = factory(context.Background(), Credentials{EmbeddingAPIKey: "e"})
		assert.ErrorContains(t, err, "bad key")
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore.Provider = "pinecone"
		_, _, err := NewRemoteFactory(cfg, testEmbedderFactory, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestNewStoreFromConfig_ChromemWithKey(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Provider = config.ProviderChromem
	cfg.Credentials.EmbeddingAPIKey = "embed-key"
	cfg.Credentials.VectorAPIKey = ""

	var seenKey string
	newEmbedder := func(ctx context.Context, apiKey string) (Embedder, error) {
		seenKey = apiKey
		return &hashEmbedder{}, nil
	}

	store, err := NewStoreFromConfig(cfg, newEmbedder, nil)
	require.NoError(t, err)

	res, err := store.AddTexts(context.Background(), []string{"x"}, []Metadata{{}}, "ns")
	require.NoError(t, err)
	assert.Equal(t, BackendRemote, res.Backend)
	assert.Equal(t, "embed-key", seenKey)
}

func TestNewStoreFromConfig_QdrantWithoutKeysFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials.EmbeddingAPIKey = ""
	cfg.Credentials.VectorAPIKey = ""

	store, err := NewStoreFromConfig(cfg, testEmbedderFactory, nil)
	require.NoError(t, err)

	res, err := store.AddTexts(context.Background(), []string{"x"}, []Metadata{{}}, "ns")
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, res.Backend)
	assert.True(t, store.BackendStatus().FallbackMode)
}
