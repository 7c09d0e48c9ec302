package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

var storeTracer = otel.Tracer("policyqa.vectorstore.store")

// StoreOptions configures a Store.
type StoreOptions struct {
	// Credentials is consulted once, at first store access.
	Credentials CredentialSource

	// Remote builds the remote backend. Nil means the store is local-only.
	Remote RemoteFactory

	// EmbeddedRemote marks a remote that needs no vector service key.
	EmbeddedRemote bool

	// RemoteTimeout bounds each remote call. Zero means no bound beyond ctx.
	RemoteTimeout time.Duration

	// Listeners are notified of mode transitions.
	Listeners []ModeListener

	Logger *zap.Logger
}

// Store is the single entry point for fragment storage and retrieval.
//
// Writes and queries go to the remote backend while it is healthy. The
// first remote failure switches the store to the LocalIndex for the rest of
// the process lifetime; the failing call itself is completed locally.
//
// Thread-safe.
type Store struct {
	local   *LocalIndex
	mode    *modeController
	timeout time.Duration
	logger  *zap.Logger
}

// NewStore creates a Store. No remote connection is attempted until the
// first operation.
func NewStore(opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		local:   NewLocalIndex(),
		mode:    newModeController(opts.Credentials, opts.Remote, opts.EmbeddedRemote, opts.Listeners, logger),
		timeout: opts.RemoteTimeout,
		logger:  logger,
	}
}

// remoteOutcome is the result of one guarded remote call.
type remoteOutcome struct {
	results []ScoredResult
	err     error
}

func (o remoteOutcome) ok() bool { return o.err == nil }

// callRemote runs fn against remote with the configured timeout and records
// metrics. Failures are wrapped with ErrRemoteUnavailable.
func (s *Store) callRemote(ctx context.Context, operation string, fn func(ctx context.Context) ([]ScoredResult, error)) remoteOutcome {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	results, err := fn(ctx)
	RecordOperation(operation, BackendRemote, start, err)
	if err != nil {
		return remoteOutcome{err: fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, operation, err)}
	}
	return remoteOutcome{results: results}
}

// AddTexts stores one fragment per text under namespace.
//
// texts and metadatas must have the same length; otherwise ErrInvalidInput is
// returned and nothing is written. A remote failure demotes the store and
// the same texts are written locally, so an add is never lost because the
// remote path failed.
func (s *Store) AddTexts(ctx context.Context, texts []string, metadatas []Metadata, namespace string) (AddResult, error) {
	ctx, span := storeTracer.Start(ctx, "Store.AddTexts")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("text_count", len(texts)),
	)

	if len(texts) != len(metadatas) {
		err := fmt.Errorf("%w: %d texts but %d metadatas", ErrInvalidInput, len(texts), len(metadatas))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, err
	}
	if strings.TrimSpace(namespace) == "" {
		err := fmt.Errorf("%w: namespace is required", ErrInvalidInput)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AddResult{}, err
	}

	fragments := make([]Fragment, len(texts))
	for i, text := range texts {
		fragments[i] = Fragment{
			ID:       uuid.NewString(),
			Content:  text,
			Metadata: metadatas[i].Clone(),
		}
	}

	if remote, ok := s.mode.acquire(ctx); ok {
		if len(fragments) == 0 {
			return AddResult{Backend: BackendRemote}, nil
		}
		out := s.callRemote(ctx, "add", func(ctx context.Context) ([]ScoredResult, error) {
			return nil, remote.Add(ctx, namespace, fragments)
		})
		if out.ok() {
			FragmentsAddedTotal.WithLabelValues(string(BackendRemote)).Add(float64(len(fragments)))
			span.SetAttributes(attribute.String("backend", string(BackendRemote)))
			span.SetStatus(codes.Ok, "success")
			return AddResult{Backend: BackendRemote, Count: len(fragments)}, nil
		}
		span.RecordError(out.err)
		s.mode.demote(ctx, remote, "add", namespace, out.err)
	}

	start := time.Now()
	count := s.local.Add(namespace, fragments)
	RecordOperation("add", BackendLocal, start, nil)
	FragmentsAddedTotal.WithLabelValues(string(BackendLocal)).Add(float64(count))

	s.logger.Debug("stored fragments locally",
		zap.String("namespace", namespace),
		zap.Int("count", count),
	)

	span.SetAttributes(attribute.String("backend", string(BackendLocal)))
	span.SetStatus(codes.Ok, "success")
	return AddResult{Backend: BackendLocal, Count: count}, nil
}

// QueryWithScores returns at most topK fragments of namespace ordered by
// descending score.
//
// A remote failure demotes the store and the query is answered from the
// local index, which may be empty. Remote failures are never returned.
func (s *Store) QueryWithScores(ctx context.Context, query string, topK int, namespace string) ([]ScoredResult, error) {
	ctx, span := storeTracer.Start(ctx, "Store.QueryWithScores")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	if strings.TrimSpace(namespace) == "" {
		err := fmt.Errorf("%w: namespace is required", ErrInvalidInput)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if topK <= 0 {
		return []ScoredResult{}, nil
	}

	if remote, ok := s.mode.acquire(ctx); ok {
		out := s.callRemote(ctx, "query", func(ctx context.Context) ([]ScoredResult, error) {
			return remote.Query(ctx, namespace, query, topK)
		})
		if out.ok() {
			results := rankResults(out.results, topK)
			span.SetAttributes(
				attribute.String("backend", string(BackendRemote)),
				attribute.Int("results_count", len(results)),
			)
			span.SetStatus(codes.Ok, "success")
			return results, nil
		}
		span.RecordError(out.err)
		s.mode.demote(ctx, remote, "query", namespace, out.err)
	}

	start := time.Now()
	results := s.local.Query(namespace, query, topK)
	RecordOperation("query", BackendLocal, start, nil)

	span.SetAttributes(
		attribute.String("backend", string(BackendLocal)),
		attribute.Int("results_count", len(results)),
	)
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteNamespace removes namespace from the local index and, while the
// store routes remotely, from the remote backend. It never fails: remote
// errors are logged and do not change the mode.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) {
	ctx, span := storeTracer.Start(ctx, "Store.DeleteNamespace")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	start := time.Now()
	s.local.Delete(namespace)
	RecordOperation("delete", BackendLocal, start, nil)

	remote, ok := s.mode.acquire(ctx)
	if !ok {
		return
	}
	out := s.callRemote(ctx, "delete", func(ctx context.Context) ([]ScoredResult, error) {
		return nil, remote.DeleteNamespace(ctx, namespace)
	})
	if !out.ok() {
		span.RecordError(out.err)
		s.logger.Warn("remote namespace delete failed",
			zap.String("namespace", namespace),
			zap.Error(out.err),
		)
	}
}

// BackendStatus returns a snapshot of the routing state. It never triggers
// initialization.
func (s *Store) BackendStatus() BackendStatus {
	mode, initialized := s.mode.current()
	return BackendStatus{
		FallbackMode:      mode == ModeFallback,
		RemoteInitialized: initialized,
		LocalNamespaces:   s.local.Namespaces(),
	}
}

// LocalLen returns the number of fragments held locally for namespace.
func (s *Store) LocalLen(namespace string) int {
	return s.local.Len(namespace)
}

// Mode returns the current routing mode.
func (s *Store) Mode() Mode {
	mode, _ := s.mode.current()
	return mode
}

// Close releases the remote backend. The store keeps serving from the local
// index afterwards.
func (s *Store) Close() error {
	return s.mode.close()
}

// rankResults orders results best first and caps them at topK.
func rankResults(results []ScoredResult, topK int) []ScoredResult {
	if results == nil {
		return []ScoredResult{}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
