package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/policyqa/internal/reasoning"

// Default configuration values.
const (
	defaultModel       = "gemini-2.5-flash"
	defaultRateLimit   = 2.0
	defaultBurst       = 4
	defaultMaxRetries  = 3
	defaultTimeout     = 60 * time.Second
	defaultBaseBackoff = 1 * time.Second

	maxTitleWords = 4
)

// Request is one structured-output call.
type Request struct {
	// Name identifies the call in spans and metrics (title, entities,
	// reasoning).
	Name   string
	System string
	Prompt string
	Schema *genai.Schema
}

// LLM generates a JSON document matching Request.Schema.
type LLM interface {
	GenerateJSON(ctx context.Context, req Request) (string, error)
}

// Config configures a Reasoner.
type Config struct {
	Model       string
	Temperature float32
	RateLimit   float64 // requests per second
	Burst       int
	MaxRetries  int
	Timeout     time.Duration // per attempt
	BaseBackoff time.Duration
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// Reasoner runs the title, entity and reasoning calls.
type Reasoner struct {
	llm     LLM
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger

	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewReasoner creates a Reasoner over llm.
func NewReasoner(llm LLM, cfg Config, logger *zap.Logger) (*Reasoner, error) {
	if llm == nil {
		return nil, errors.New("llm is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	r := &Reasoner{
		llm:     llm,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}
	r.initMetrics(otel.Meter(instrumentationName))
	return r, nil
}

func (r *Reasoner) initMetrics(meter metric.Meter) {
	var err error
	r.requests, err = meter.Int64Counter(
		"policyqa.llm.requests_total",
		metric.WithDescription("Total number of LLM calls by call name and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		r.logger.Warn("failed to create llm request counter", zap.Error(err))
	}
	r.duration, err = meter.Float64Histogram(
		"policyqa.llm.duration_seconds",
		metric.WithDescription("LLM call latency including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		r.logger.Warn("failed to create llm duration histogram", zap.Error(err))
	}
}

// GenerateTitle names a chat from its first message. Titles longer than
// four words are truncated.
func (r *Reasoner) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	err := r.call(ctx, Request{
		Name:   "title",
		System: titleSystemPrompt,
		Prompt: fmt.Sprintf(titleUserTemplate, firstMessage),
		Schema: titleSchema,
	}, &out)
	if err != nil {
		return "", err
	}

	words := strings.Fields(strings.Trim(out.Title, "\"' "))
	if len(words) == 0 {
		return "", fmt.Errorf("%w: empty title", ErrInvalidResponse)
	}
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " "), nil
}

// ExtractEntities pulls the procedure and claimed cost out of query.
func (r *Reasoner) ExtractEntities(ctx context.Context, query string) (QueryEntities, error) {
	var out QueryEntities
	err := r.call(ctx, Request{
		Name:   "entities",
		System: entitiesSystemPrompt,
		Prompt: fmt.Sprintf(entitiesUserTemplate, query),
		Schema: entitiesSchema,
	}, &out)
	if err != nil {
		return QueryEntities{}, err
	}
	if out.Procedure != nil && strings.TrimSpace(*out.Procedure) == "" {
		out.Procedure = nil
	}
	return out, nil
}

// Reason produces the final answer from the extracted details and the
// retrieved evidence.
func (r *Reasoner) Reason(ctx context.Context, entities QueryEntities, chunks []ContextChunk, originalQuery string) (FinalResponse, error) {
	details, err := json.Marshal(entities)
	if err != nil {
		return FinalResponse{}, fmt.Errorf("encoding case details: %w", err)
	}
	if chunks == nil {
		chunks = []ContextChunk{}
	}
	evidence, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return FinalResponse{}, fmt.Errorf("encoding context: %w", err)
	}

	var out FinalResponse
	err = r.call(ctx, Request{
		Name:   "reasoning",
		System: reasoningSystemPrompt,
		Prompt: fmt.Sprintf(reasoningUserTemplate, originalQuery, details, evidence),
		Schema: finalResponseSchema,
	}, &out)
	if err != nil {
		return FinalResponse{}, err
	}
	if err := out.normalize(); err != nil {
		return FinalResponse{}, err
	}
	return out, nil
}

// call runs req with rate limiting and retries, then decodes the JSON
// result into out.
func (r *Reasoner) call(ctx context.Context, req Request, out any) (err error) {
	ctx, span := r.tracer.Start(ctx, "reasoning."+req.Name,
		trace.WithAttributes(attribute.String("llm.model", r.config.Model)))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		attrs := metric.WithAttributes(
			attribute.String("call", req.Name),
			attribute.String("outcome", outcome),
		)
		if r.requests != nil {
			r.requests.Add(ctx, 1, attrs)
		}
		if r.duration != nil {
			r.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}()

	raw, err := r.generate(ctx, req)
	if err != nil {
		return err
	}
	if err := decodeJSON(raw, out); err != nil {
		r.logger.Warn("unparseable model response",
			zap.String("call", req.Name),
			zap.Int("length", len(raw)))
		return err
	}
	return nil
}

func (r *Reasoner) generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.config.BaseBackoff * time.Duration(1<<(attempt-1))
			r.logger.Debug("retrying llm call",
				zap.String("call", req.Name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		raw, err := r.llm.GenerateJSON(attemptCtx, req)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err == nil {
			return raw, nil
		}

		lastErr = err
		if !isRetryableError(err) && !timedOut {
			return "", fmt.Errorf("%s call: %w", req.Name, err)
		}
	}

	return "", fmt.Errorf("%s call: max retries exceeded: %w", req.Name, lastErr)
}

// decodeJSON parses a model response, tolerating markdown code fences.
func decodeJSON(content string, out any) error {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
