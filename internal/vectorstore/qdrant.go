package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("policyqa.vectorstore.qdrant")

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// APIKey authenticates against managed Qdrant deployments.
	APIKey string

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// CollectionName is the single collection holding every namespace.
	// Default: "policyqa_fragments"
	CollectionName string

	// VectorSize is the dimensionality of embeddings.
	// MUST match Embedder output dimensions (768 for Gemini embedding-001).
	VectorSize uint64

	// Distance is the similarity metric for vector search.
	// Options: Cosine (default), Euclid, Dot
	Distance qdrant.Distance

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry (exponential backoff).
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening circuit.
	// Default: 5
	CircuitBreakerThreshold int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.CollectionName)
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionName == "" {
		c.CollectionName = "policyqa_fragments"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 768
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024 // 50MB
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
}

// ValidateCollectionName validates a collection name against security rules.
// Pattern: ^[a-z0-9_]{1,64}$
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, name)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid requests, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantBackend is a RemoteBackend on Qdrant's native gRPC client.
//
// All namespaces share one collection. Each point carries its namespace in a
// keyword-indexed payload field, and every query and delete filters on it.
type QdrantBackend struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantBackend connects to Qdrant, checks its health and makes sure the
// collection and its namespace index exist.
func NewQdrantBackend(ctx context.Context, config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantBackend, error) {
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

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", ErrRemoteUnavailable, err)
	}

	b := &QdrantBackend{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.healthCheck(initCtx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := b.ensureCollection(initCtx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant backend initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.CollectionName),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return b, nil
}

// Close closes the Qdrant gRPC connection and the embedder, if it holds
// resources.
func (b *QdrantBackend) Close() error {
	var err error
	if b.client != nil {
		err = b.client.Close()
	}
	return errors.Join(err, closeEmbedder(b.embedder))
}

func (b *QdrantBackend) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantBackend.HealthCheck")
	defer span.End()

	if _, err := b.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: health check failed: %v", ErrRemoteUnavailable, err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantBackend.EnsureCollection")
	defer span.End()

	name := b.config.CollectionName
	span.SetAttributes(attribute.String("collection", name))

	var exists bool
	err := b.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = b.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		span.SetStatus(codes.Ok, "exists")
		return nil
	}

	err = b.retryOperation(ctx, "create_collection", func() error {
		return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     b.config.VectorSize,
				Distance: b.config.Distance,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	err = b.retryOperation(ctx, "create_field_index", func() error {
		_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      MetaNamespace,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("indexing namespace field on %s: %w", name, err)
	}

	b.logger.Info("created qdrant collection", zap.String("collection", name))
	span.SetStatus(codes.Ok, "created")
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (b *QdrantBackend) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := b.config.RetryBackoff

	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			b.resetCircuitBreaker()
			return nil
		}

		if b.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open: %w", operationName, err)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		b.recordFailure()

		if attempt == b.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, b.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (b *QdrantBackend) recordFailure() {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()
	b.circuitBreaker.failures++
	b.circuitBreaker.lastFail = timeNow()
}

func (b *QdrantBackend) resetCircuitBreaker() {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()
	b.circuitBreaker.failures = 0
}

func (b *QdrantBackend) isCircuitOpen() bool {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()

	if b.circuitBreaker.failures >= b.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if timeNow().Sub(b.circuitBreaker.lastFail) > 30*time.Second {
			b.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// Add embeds fragments and upserts them into the shared collection.
func (b *QdrantBackend) Add(ctx context.Context, namespace string, fragments []Fragment) error {
	ctx, span := tracer.Start(ctx, "QdrantBackend.Add")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("fragment_count", len(fragments)),
	)

	if len(fragments) == 0 {
		return nil
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
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	points := make([]*qdrant.PointStruct, len(fragments))
	for i, f := range fragments {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(f.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: toPayload(namespace, f),
		}
	}

	err = b.retryOperation(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: b.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", b.config.CollectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query embeds text and returns the topK nearest points of namespace.
func (b *QdrantBackend) Query(ctx context.Context, namespace, text string, topK int) ([]ScoredResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantBackend.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return []ScoredResult{}, nil
	}
	const maxK = 10000
	if topK > maxK {
		topK = maxK
	}

	vector, err := b.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = b.retryOperation(ctx, "query", func() error {
		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: b.config.CollectionName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         namespaceFilter(namespace),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", b.config.CollectionName, err)
	}

	results := make([]ScoredResult, len(points))
	for i, p := range points {
		results[i] = ScoredResult{
			Fragment: fromPayload(p.Payload),
			Score:    float64(p.Score),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteNamespace deletes every point whose namespace payload matches.
func (b *QdrantBackend) DeleteNamespace(ctx context.Context, namespace string) error {
	ctx, span := tracer.Start(ctx, "QdrantBackend.DeleteNamespace")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	err := b.retryOperation(ctx, "delete", func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: b.config.CollectionName,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: namespaceFilter(namespace),
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func namespaceFilter(namespace string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: MetaNamespace,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: namespace},
						},
					},
				},
			},
		},
	}
}

// pointID returns id when it is a UUID, otherwise a UUID derived from it.
// The original id is kept in the payload.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func toPayload(namespace string, f Fragment) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value)
	for k, v := range f.Metadata.ToMap() {
		if val := toQdrantValue(v); val != nil {
			payload[k] = val
		}
	}
	payload[MetaContent] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: f.Content}}
	payload[MetaID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: f.ID}}
	payload[MetaNamespace] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: namespace}}
	return payload
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return nil
	}
}

func fromPayload(payload map[string]*qdrant.Value) Fragment {
	var f Fragment
	meta := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case MetaContent:
				f.Content = val.StringValue
			case MetaID:
				f.ID = val.StringValue
			default:
				meta[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			meta[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			meta[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			meta[k] = val.BoolValue
		}
	}
	f.Metadata = MetadataFromMap(meta)
	return f
}

// Ensure QdrantBackend implements RemoteBackend.
var _ RemoteBackend = (*QdrantBackend)(nil)
