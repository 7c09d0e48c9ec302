package vectorstore

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Embedder generates vector embeddings from text.
//
// Retrieval models embed documents and queries differently, so the two
// entry points are kept separate.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

func closeEmbedder(e Embedder) error {
	if c, ok := e.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RemoteBackend is an external embedding + vector search service scoped by
// namespace. Implementations return every failure to the caller; the Store
// decides what a failure means.
type RemoteBackend interface {
	// Add embeds and stores fragments under namespace.
	Add(ctx context.Context, namespace string, fragments []Fragment) error

	// Query returns up to topK fragments of namespace, best first.
	Query(ctx context.Context, namespace, text string, topK int) ([]ScoredResult, error)

	// DeleteNamespace removes every fragment of namespace.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Close releases the client.
	Close() error
}

// RemoteFactory constructs a RemoteBackend. The Store calls it at most once
// per process, under its initialization lock.
type RemoteFactory func(ctx context.Context, creds Credentials) (RemoteBackend, error)

// Credentials are the two secrets the remote path needs.
type Credentials struct {
	EmbeddingAPIKey string
	VectorAPIKey    string
}

// Missing lists the absent credentials. The vector key is not checked when
// the remote backend is embedded.
func (c Credentials) Missing(embedded bool) []string {
	var missing []string
	if strings.TrimSpace(c.EmbeddingAPIKey) == "" {
		missing = append(missing, "embedding_api_key")
	}
	if !embedded && strings.TrimSpace(c.VectorAPIKey) == "" {
		missing = append(missing, "vector_api_key")
	}
	return missing
}

// Check returns ErrConfigurationMissing naming the absent credentials.
func (c Credentials) Check(embedded bool) error {
	if missing := c.Missing(embedded); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}

// String never prints the secret values.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{embedding:%t vector:%t}", c.EmbeddingAPIKey != "", c.VectorAPIKey != "")
}

// CredentialSource resolves credentials at first store access.
type CredentialSource func() Credentials

// StaticCredentials returns a source that always yields c.
func StaticCredentials(c Credentials) CredentialSource {
	return func() Credentials { return c }
}

// ModeListener is notified after every mode transition.
type ModeListener interface {
	OnModeTransition(ctx context.Context, t ModeTransition)
}

// ModeListenerFunc adapts a function to ModeListener.
type ModeListenerFunc func(ctx context.Context, t ModeTransition)

// OnModeTransition calls f.
func (f ModeListenerFunc) OnModeTransition(ctx context.Context, t ModeTransition) {
	f(ctx, t)
}
