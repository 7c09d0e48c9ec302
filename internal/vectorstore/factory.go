package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/policyqa/internal/config"
	"go.uber.org/zap"
)

// EmbedderFactory builds the embedder once the embedding API key is known.
type EmbedderFactory func(ctx context.Context, apiKey string) (Embedder, error)

// NewRemoteFactory returns the RemoteFactory for the configured provider:
//   - "qdrant" (default): QdrantBackend, needs both credentials
//   - "chromem": embedded ChromemBackend, needs only the embedding key
//   - "local": no remote backend; the store always runs in fallback mode
//
// The boolean reports whether the remote is embedded.
func NewRemoteFactory(cfg *config.Config, newEmbedder EmbedderFactory, logger *zap.Logger) (RemoteFactory, bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	vs := cfg.VectorStore

	switch vs.Provider {
	case config.ProviderQdrant, "":
		return func(ctx context.Context, creds Credentials) (RemoteBackend, error) {
			embedder, err := newEmbedder(ctx, creds.EmbeddingAPIKey)
			if err != nil {
				return nil, fmt.Errorf("creating embedder: %w", err)
			}
			return NewQdrantBackend(ctx, QdrantConfig{
				Host:           vs.QdrantHost,
				Port:           vs.QdrantPort,
				APIKey:         creds.VectorAPIKey,
				UseTLS:         vs.QdrantUseTLS,
				CollectionName: vs.CollectionName,
				VectorSize:     uint64(vs.VectorSize),
			}, embedder, logger)
		}, false, nil

	case config.ProviderChromem:
		return func(ctx context.Context, creds Credentials) (RemoteBackend, error) {
			embedder, err := newEmbedder(ctx, creds.EmbeddingAPIKey)
			if err != nil {
				return nil, fmt.Errorf("creating embedder: %w", err)
			}
			return NewChromemBackend(ChromemConfig{
				Path:     vs.ChromemPath,
				Compress: vs.ChromemCompress,
			}, embedder, logger)
		}, true, nil

	case config.ProviderLocal:
		return nil, false, nil

	default:
		return nil, false, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: qdrant, chromem, local)", ErrInvalidConfig, vs.Provider)
	}
}

// NewStoreFromConfig wires a Store from configuration. Credentials are read
// from cfg at first store access.
func NewStoreFromConfig(cfg *config.Config, newEmbedder EmbedderFactory, logger *zap.Logger, listeners ...ModeListener) (*Store, error) {
	factory, embedded, err := NewRemoteFactory(cfg, newEmbedder, logger)
	if err != nil {
		return nil, err
	}

	creds := cfg.Credentials
	return NewStore(StoreOptions{
		Credentials: func() Credentials {
			return Credentials{
				EmbeddingAPIKey: creds.EmbeddingAPIKey.Value(),
				VectorAPIKey:    creds.VectorAPIKey.Value(),
			}
		},
		Remote:         factory,
		EmbeddedRemote: embedded,
		RemoteTimeout:  cfg.VectorStore.RemoteTimeout.Duration(),
		Listeners:      listeners,
		Logger:         logger,
	}), nil
}
