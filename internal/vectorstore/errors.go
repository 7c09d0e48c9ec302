package vectorstore

import "errors"

// Sentinel errors for vector store operations.
var (
	// ErrConfigurationMissing is returned when a required credential is absent.
	// The store treats it as a deterministic reason to start in fallback mode.
	ErrConfigurationMissing = errors.New("required credential missing")

	// ErrRemoteUnavailable wraps any failure of the remote backend.
	ErrRemoteUnavailable = errors.New("remote vector backend unavailable")

	// ErrInvalidInput indicates a malformed request, such as texts and
	// metadatas of different lengths or an empty namespace.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)
