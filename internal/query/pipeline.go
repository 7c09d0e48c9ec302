package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/reasoning"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/policyqa/internal/query"

const (
	defaultTopK               = 5
	defaultRelevanceThreshold = 0.7
	defaultMaxConcurrency     = 8

	// DefaultTitle is used for irrelevant first messages when no title
	// could be generated.
	DefaultTitle = "General Inquiry"

	// RoleAI marks assistant messages in a chat history.
	RoleAI = "ai"

	runNamespacePrefix = "run-"
	unknownSource      = "unknown"
)

var (
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrChatIDRequired is returned when no chat namespace is given.
	ErrChatIDRequired = errors.New("a chat_id is required")

	// ErrNoQuestions is returned by Run without questions.
	ErrNoQuestions = errors.New("at least one question is required")
)

// Store is the part of the vector store the pipeline reads and cleans up.
type Store interface {
	QueryWithScores(ctx context.Context, query string, topK int, namespace string) ([]vectorstore.ScoredResult, error)
	DeleteNamespace(ctx context.Context, namespace string)
}

// Reasoner runs the LLM calls.
type Reasoner interface {
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
	ExtractEntities(ctx context.Context, query string) (reasoning.QueryEntities, error)
	Reason(ctx context.Context, entities reasoning.QueryEntities, chunks []reasoning.ContextChunk, originalQuery string) (reasoning.FinalResponse, error)
}

// Ingester stores documents for stateless runs.
type Ingester interface {
	IngestFiles(ctx context.Context, namespace string, files []ingest.File) ([]ingest.Report, error)
}

// Message is one entry of a chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a question asked in a chat.
type Request struct {
	Query    string
	Messages []Message
	ChatID   string
}

// Response is the answer plus the chat title, when one was generated.
type Response struct {
	reasoning.FinalResponse
	NewChatTitle *string `json:"new_chat_title"`
}

// Config configures retrieval.
type Config struct {
	TopK               int
	RelevanceThreshold float64
	MaxConcurrency     int
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.RelevanceThreshold == 0 {
		c.RelevanceThreshold = defaultRelevanceThreshold
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
}

// Pipeline answers queries.
type Pipeline struct {
	store    Store
	reasoner Reasoner
	ingester Ingester
	config   Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewPipeline creates a Pipeline. ingester may be nil when Run is unused.
func NewPipeline(cfg Config, store Store, reasoner Reasoner, ingester Ingester, logger *zap.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	return &Pipeline{
		store:    store,
		reasoner: reasoner,
		ingester: ingester,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

// Answer runs the query flow for one chat.
//
// A title is generated when the history holds exactly one AI message, the
// greeting of a fresh chat. When retrieval finds nothing, or the best
// score is below the relevance threshold, the fixed irrelevant-inquiry
// answer is returned without calling the reasoning model.
func (p *Pipeline) Answer(ctx context.Context, req Request) (resp Response, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, ErrEmptyQuery
	}
	if req.ChatID == "" {
		return Response{}, ErrChatIDRequired
	}

	ctx, span := p.tracer.Start(ctx, "query.answer",
		trace.WithAttributes(attribute.String("chat.id", req.ChatID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var title *string
	if isNewChat(req.Messages) {
		t, err := p.reasoner.GenerateTitle(ctx, req.Query)
		if err != nil {
			p.logger.Warn("chat title generation failed",
				zap.String("chat_id", req.ChatID),
				zap.Error(err))
		} else {
			title = &t
		}
	}

	entities, err := p.reasoner.ExtractEntities(ctx, req.Query)
	if err != nil {
		return Response{}, fmt.Errorf("extracting entities: %w", err)
	}

	term := entities.SearchTerm(req.Query)
	results, err := p.store.QueryWithScores(ctx, term, p.config.TopK, req.ChatID)
	if err != nil {
		return Response{}, fmt.Errorf("retrieving context: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(results)))

	if len(results) == 0 || results[0].Score < p.config.RelevanceThreshold {
		top := 0.0
		if len(results) > 0 {
			top = results[0].Score
		}
		p.logger.Debug("query below relevance threshold",
			zap.String("chat_id", req.ChatID),
			zap.Int("results", len(results)),
			zap.Float64("top_score", top))
		span.SetAttributes(attribute.Bool("irrelevant", true))

		if title == nil {
			t := DefaultTitle
			title = &t
		}
		return Response{FinalResponse: reasoning.IrrelevantResponse(), NewChatTitle: title}, nil
	}

	final, err := p.reasoner.Reason(ctx, entities, contextChunks(results), req.Query)
	if err != nil {
		return Response{}, fmt.Errorf("reasoning: %w", err)
	}
	return Response{FinalResponse: final, NewChatTitle: title}, nil
}

func isNewChat(messages []Message) bool {
	return len(messages) == 1 && messages[0].Role == RoleAI
}

func contextChunks(results []vectorstore.ScoredResult) []reasoning.ContextChunk {
	chunks := make([]reasoning.ContextChunk, len(results))
	for i, r := range results {
		source := r.Fragment.Metadata.Source
		if source == "" {
			source = unknownSource
		}
		chunks[i] = reasoning.ContextChunk{Source: source, Text: r.Fragment.Content, Score: r.Score}
	}
	return chunks
}

// RunRequest is a stateless batch: documents plus the questions to ask
// about them.
type RunRequest struct {
	Files     []ingest.File
	Questions []string
}

// Answer is the outcome of one question in a run. Exactly one of Response
// and Error is set.
type Answer struct {
	Question string    `json:"question"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// RunResult is the outcome of a stateless run.
type RunResult struct {
	Namespace string          `json:"namespace"`
	Reports   []ingest.Report `json:"reports"`
	Answers   []Answer        `json:"answers"`
}

// Run ingests req.Files under a fresh namespace and answers every question
// concurrently. The namespace is deleted before Run returns, whether or not
// the run succeeded. Per-question failures are reported in the answers;
// only ingestion failures fail the run.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (result RunResult, err error) {
	if p.ingester == nil {
		return RunResult{}, errors.New("stateless runs need an ingester")
	}
	if len(req.Questions) == 0 {
		return RunResult{}, ErrNoQuestions
	}
	for _, q := range req.Questions {
		if strings.TrimSpace(q) == "" {
			return RunResult{}, ErrEmptyQuery
		}
	}

	namespace := runNamespacePrefix + uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "query.run",
		trace.WithAttributes(
			attribute.String("namespace", namespace),
			attribute.Int("files", len(req.Files)),
			attribute.Int("questions", len(req.Questions)),
		))
	defer func() {
		p.store.DeleteNamespace(context.WithoutCancel(ctx), namespace)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	reports, err := p.ingester.IngestFiles(ctx, namespace, req.Files)
	if err != nil {
		return RunResult{}, fmt.Errorf("ingesting run documents: %w", err)
	}

	answers := make([]Answer, len(req.Questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)
	for i, q := range req.Questions {
		g.Go(func() error {
			answers[i].Question = q
			if err := gctx.Err(); err != nil {
				return err
			}
			resp, err := p.Answer(gctx, Request{Query: q, ChatID: namespace})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.logger.Warn("run question failed",
					zap.String("namespace", namespace),
					zap.Int("question", i),
					zap.Error(err))
				answers[i].Error = err.Error()
				return nil
			}
			answers[i].Response = &resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RunResult{}, err
	}

	return RunResult{Namespace: namespace, Reports: reports, Answers: answers}, nil
}
