package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("policyqa.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps everything
	// in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// CollectionPrefix prefixes the per-namespace collection names.
	// Default: "ns"
	CollectionPrefix string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "ns"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if !collectionNamePattern.MatchString(c.CollectionPrefix) || len(c.CollectionPrefix) > 16 {
		return fmt.Errorf("%w: collection prefix %q must match ^[a-z0-9_]{1,16}$", ErrInvalidConfig, c.CollectionPrefix)
	}
	return nil
}

// ChromemBackend is a RemoteBackend on an embedded chromem-go database.
//
// Each namespace gets its own collection, so deleting a namespace drops a
// whole collection.
type ChromemBackend struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemBackend opens the database at config.Path, or an in-memory one
// when the path is empty.
func NewChromemBackend(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	logger.Info("chromem backend initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemBackend{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// collectionName maps an arbitrary namespace onto a valid collection name.
func (b *ChromemBackend) collectionName(namespace string) string {
	sum := sha256.Sum256([]byte(namespace))
	return b.config.CollectionPrefix + "_" + hex.EncodeToString(sum[:16])
}

// embeddingFunc must always be passed to chromem, otherwise it falls back to
// its OpenAI default.
func (b *ChromemBackend) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return b.embedder.EmbedQuery(ctx, text)
	}
}

// Add embeds fragments in one batch and stores them in the namespace's
// collection.
func (b *ChromemBackend) Add(ctx context.Context, namespace string, fragments []Fragment) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Add")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("fragment_count", len(fragments)),
	)

	if len(fragments) == 0 {
		return nil
	}

	collection, err := b.db.GetOrCreateCollection(b.collectionName(namespace), map[string]string{MetaNamespace: namespace}, b.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting/creating collection for %s: %w", namespace, err)
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}
	embeddings, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(fragments) {
		err := fmt.Errorf("%w: got %d embeddings for %d fragments", ErrEmbeddingFailed, len(embeddings), len(fragments))
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(fragments))
	for i, f := range fragments {
		docs[i] = chromem.Document{
			ID:        f.ID,
			Content:   f.Content,
			Metadata:  convertMetadataToString(f.Metadata.ToMap()),
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	b.logger.Debug("added fragments to chromem",
		zap.String("namespace", namespace),
		zap.Int("count", len(fragments)),
	)
	return nil
}

// Query returns the topK most similar fragments of namespace. An unknown
// namespace yields no results.
func (b *ChromemBackend) Query(ctx context.Context, namespace, text string, topK int) ([]ScoredResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	collection := b.db.GetCollection(b.collectionName(namespace), b.embeddingFunc())
	if collection == nil || topK <= 0 {
		span.SetStatus(codes.Ok, "empty")
		return []ScoredResult{}, nil
	}

	// chromem requires nResults <= document count
	count := collection.Count()
	if count == 0 {
		return []ScoredResult{}, nil
	}
	if topK > count {
		topK = count
	}

	res, err := collection.Query(ctx, text, topK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying namespace %s: %w", namespace, err)
	}

	results := make([]ScoredResult, len(res))
	for i, r := range res {
		results[i] = ScoredResult{
			Fragment: Fragment{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: MetadataFromMap(convertMetadataFromString(r.Metadata)),
			},
			Score: float64(r.Similarity),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteNamespace drops the namespace's collection. Unknown namespaces are
// ignored.
func (b *ChromemBackend) DeleteNamespace(ctx context.Context, namespace string) error {
	_, span := chromemTracer.Start(ctx, "ChromemBackend.DeleteNamespace")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	name := b.collectionName(namespace)
	if b.db.GetCollection(name, b.embeddingFunc()) == nil {
		span.SetStatus(codes.Ok, "absent")
		return nil
	}
	if err := b.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}

	span.SetStatus(codes.Ok, "success")
	b.logger.Info("deleted chromem namespace", zap.String("namespace", namespace))
	return nil
}

// Close releases the embedder. chromem-go persists on every write, so the
// database needs no flush.
func (b *ChromemBackend) Close() error {
	return closeEmbedder(b.embedder)
}

// convertMetadataToString converts map[string]any to map[string]string.
func convertMetadataToString(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}

	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = strconv.Itoa(val)
		case int64:
			result[k] = strconv.FormatInt(val, 10)
		case float64:
			result[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			result[k] = strconv.FormatBool(val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// convertMetadataFromString converts map[string]string back to map[string]any.
func convertMetadataFromString(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}

	result := make(map[string]any, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

// Ensure ChromemBackend implements RemoteBackend.
var _ RemoteBackend = (*ChromemBackend)(nil)
