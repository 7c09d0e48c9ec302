package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/policyqa/internal/config"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	// ErrEmptyInput indicates no texts to embed.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the embedding service rejected a request
	// or returned an unusable response.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// MaxBatchSize is the Gemini per-request limit for batch embedding.
const MaxBatchSize = 100

var tracer = otel.Tracer("policyqa.embeddings")

// embeddingModel is the part of the Gemini API the embedder uses.
type embeddingModel interface {
	embedQuery(ctx context.Context, text string) ([]float32, error)
	embedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures a GeminiEmbedder.
type Config struct {
	// Model is the embedding model name. Default: "embedding-001"
	Model string

	// BatchSize caps texts per request. Default and maximum: 100
	BatchSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "embedding-001"
	}
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
}

// GeminiEmbedder implements vectorstore.Embedder on the Gemini API.
//
// Thread-safe.
type GeminiEmbedder struct {
	client  *genai.Client
	model   embeddingModel
	config  Config
	metrics *Metrics
	logger  *zap.Logger
}

// NewGeminiEmbedder connects to the Gemini API with apiKey.
func NewGeminiEmbedder(ctx context.Context, apiKey string, cfg Config, logger *zap.Logger) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	e := newEmbedder(newGenaiModel(client, cfg.Model), cfg, logger)
	e.client = client
	return e, nil
}

func newEmbedder(model embeddingModel, cfg Config, logger *zap.Logger) *GeminiEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &GeminiEmbedder{
		model:   model,
		config:  cfg,
		metrics: NewMetrics(nil, logger),
		logger:  logger,
	}
}

// NewGeminiFactory returns the factory the vector store uses to build its
// embedder once credentials are resolved.
func NewGeminiFactory(cfg config.EmbeddingsConfig, logger *zap.Logger) vectorstore.EmbedderFactory {
	return func(ctx context.Context, apiKey string) (vectorstore.Embedder, error) {
		return NewGeminiEmbedder(ctx, apiKey, Config{Model: cfg.Model, BatchSize: cfg.BatchSize}, logger)
	}
}

// EmbedDocuments embeds texts for storage, in batches of at most BatchSize.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "GeminiEmbedder.EmbedDocuments")
	defer span.End()

	span.SetAttributes(
		attribute.String("model", e.config.Model),
		attribute.Int("text_count", len(texts)),
	)

	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch := texts[start:end]

		began := time.Now()
		vectors, err := e.model.embedDocuments(ctx, batch)
		if err == nil && len(vectors) != len(batch) {
			err = fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(batch))
		}
		e.metrics.Record(ctx, e.config.Model, "documents", time.Since(began), len(batch), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}

	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// EmbedQuery embeds a single search query.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "GeminiEmbedder.EmbedQuery")
	defer span.End()

	span.SetAttributes(attribute.String("model", e.config.Model))

	began := time.Now()
	vector, err := e.model.embedQuery(ctx, text)
	if err == nil && len(vector) == 0 {
		err = fmt.Errorf("%w: empty embedding", ErrEmbeddingFailed)
	}
	e.metrics.Record(ctx, e.config.Model, "query", time.Since(began), 1, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return vector, nil
}

// Close releases the API client.
func (e *GeminiEmbedder) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// genaiModel embeds through two EmbeddingModel handles, one per task type,
// since TaskType is a field on the shared handle.
type genaiModel struct {
	documents *genai.EmbeddingModel
	queries   *genai.EmbeddingModel
}

func newGenaiModel(client *genai.Client, name string) *genaiModel {
	documents := client.EmbeddingModel(name)
	documents.TaskType = genai.TaskTypeRetrievalDocument

	queries := client.EmbeddingModel(name)
	queries.TaskType = genai.TaskTypeRetrievalQuery

	return &genaiModel{documents: documents, queries: queries}
}

func (m *genaiModel) embedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := m.queries.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if res == nil || res.Embedding == nil {
		return nil, fmt.Errorf("%w: no embedding returned", ErrEmbeddingFailed)
	}
	return res.Embedding.Values, nil
}

func (m *genaiModel) embedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	batch := m.documents.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := m.documents.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: missing embedding at %d", ErrEmbeddingFailed, i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

var _ vectorstore.Embedder = (*GeminiEmbedder)(nil)
