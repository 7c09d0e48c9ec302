package embeddings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/policyqa/internal/config"
	"github.com/fyrsmithlabs/policyqa/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeModel struct {
	mu       sync.Mutex
	batches  [][]string
	queries  []string
	err      error
	truncate bool
}

func (f *fakeModel) embedQuery(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeModel) embedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0}
	}
	if f.truncate {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{BatchSize: 500}
	cfg.ApplyDefaults()
	assert.Equal(t, "embedding-001", cfg.Model)
	assert.Equal(t, MaxBatchSize, cfg.BatchSize)

	cfg = Config{Model: "text-embedding-004", BatchSize: 10}
	cfg.ApplyDefaults()
	assert.Equal(t, "text-embedding-004", cfg.Model)
	assert.Equal(t, 10, cfg.BatchSize)
}

func TestGeminiEmbedder_EmbedDocumentsBatches(t *testing.T) {
	model := &fakeModel{}
	e := newEmbedder(model, Config{BatchSize: 2}, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0], "order preserved")
	}

	require.Len(t, model.batches, 3)
	assert.Equal(t, []string{"a", "bb"}, model.batches[0])
	assert.Equal(t, []string{"eeeee"}, model.batches[2])
}

func TestGeminiEmbedder_EmptyInput(t *testing.T) {
	e := newEmbedder(&fakeModel{}, Config{}, nil)
	_, err := e.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestGeminiEmbedder_Errors(t *testing.T) {
	e := newEmbedder(&fakeModel{err: errors.New("quota exceeded")}, Config{}, nil)

	_, err := e.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = e.EmbedQuery(context.Background(), "x")
	assert.ErrorContains(t, err, "quota exceeded")

	short := newEmbedder(&fakeModel{truncate: true}, Config{}, nil)
	_, err = short.EmbedDocuments(context.Background(), []string{"x", "y"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestGeminiEmbedder_EmbedQuery(t *testing.T) {
	model := &fakeModel{}
	e := newEmbedder(model, Config{}, nil)

	v, err := e.EmbedQuery(context.Background(), "knee")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, v)
	assert.Equal(t, []string{"knee"}, model.queries)
	assert.NoError(t, e.Close())
}

func TestNewGeminiEmbedder_RequiresKey(t *testing.T) {
	_, err := NewGeminiEmbedder(context.Background(), "", Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	factory := NewGeminiFactory(config.EmbeddingsConfig{Model: "embedding-001"}, nil)
	_, err = factory(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMetrics_Record(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	e := newEmbedder(&fakeModel{}, Config{BatchSize: 2}, nil)
	e.metrics = NewMetrics(tel.Meter(instrumentationName), nil)

	_, err := e.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	rm := tel.Collect(t)
	m, ok := telemetry.FindMetric(rm, "policyqa.embedding.batch_size")
	require.True(t, ok)
	hist, ok := m.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(3), hist.DataPoints[0].Sum)

	_, ok = telemetry.FindMetric(rm, "policyqa.embedding.errors_total")
	assert.False(t, ok, "no errors recorded")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Record(context.Background(), "m", "query", 0, 1, nil)
}
