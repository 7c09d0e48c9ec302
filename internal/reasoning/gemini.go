package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiLLM is an LLM backed by the Gemini generative API.
type GeminiLLM struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiLLM creates a Gemini client for cfg.Model.
func NewGeminiLLM(ctx context.Context, apiKey string, cfg Config) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key required", ErrNotConfigured)
	}
	cfg.ApplyDefaults()

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiLLM{client: client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// GenerateJSON runs one JSON-mode generation.
func (g *GeminiLLM) GenerateJSON(ctx context.Context, req Request) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(g.temperature)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = req.Schema
	if req.System != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", classifyError(fmt.Errorf("gemini generate: %w", err))
	}
	return responseText(resp)
}

// Close releases the underlying client.
func (g *GeminiLLM) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini: response has no text")
	}
	return sb.String(), nil
}

// classifyError marks quota, availability and server errors retryable.
func classifyError(err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return &retryableError{err: err}
		}
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return &retryableError{err: err}
		}
	}
	return err
}

// notConfigured answers every call with ErrNotConfigured.
type notConfigured struct{}

func (notConfigured) GenerateJSON(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

// NotConfigured returns an LLM that always fails with ErrNotConfigured. The
// server uses it when no API key is set so retrieval-only endpoints keep
// working.
func NotConfigured() LLM {
	return notConfigured{}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
