package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/policyqa/internal/docparse"
	"github.com/fyrsmithlabs/policyqa/internal/sanitize"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/policyqa/internal/ingest"

var (
	// ErrNoFiles is returned when an upload carries no files.
	ErrNoFiles = errors.New("no files were uploaded")

	// ErrNamespaceRequired is returned when no chat namespace is given.
	ErrNamespaceRequired = errors.New("a chat_id is required")
)

// Store is the part of the vector store the ingester writes to.
type Store interface {
	AddTexts(ctx context.Context, texts []string, metadatas []vectorstore.Metadata, namespace string) (vectorstore.AddResult, error)
}

// ReportListener is told about every ingested file.
type ReportListener interface {
	IngestReported(ctx context.Context, namespace string, report Report)
}

// File is one uploaded document.
type File struct {
	Name string
	Data []byte
}

// Report describes the outcome of ingesting one file.
type Report struct {
	File     string              `json:"file"`
	Chunks   int                 `json:"chunks"`
	Backend  vectorstore.Backend `json:"backend,omitempty"`
	Partial  bool                `json:"partial"`
	Warnings []string            `json:"warnings,omitempty"`
	Duration time.Duration       `json:"duration_ns"`
}

// Config configures chunking.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultConfig returns the 1000/200 chunking defaults.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, ChunkOverlap: 200}
}

// Validate checks the chunking bounds.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// Ingester parses, chunks and stores documents.
type Ingester struct {
	store     Store
	splitter  textsplitter.TextSplitter
	listeners []ReportListener
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewIngester creates an Ingester writing to store.
func NewIngester(cfg Config, store Store, logger *zap.Logger, listeners ...ReportListener) (*Ingester, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ingester{
		store: store,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		listeners: listeners,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// IngestFiles ingests files in order under namespace.
//
// Every file name is checked before anything is written, so an unsupported
// type aborts the upload without side effects. On a later failure the
// reports for the files already stored are returned with the error.
func (i *Ingester) IngestFiles(ctx context.Context, namespace string, files []File) ([]Report, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	for _, f := range files {
		name, err := sanitize.Filename(f.Name)
		if err != nil {
			return nil, err
		}
		if !docparse.Supported(name) {
			return nil, fmt.Errorf("%w: %s", docparse.ErrUnsupportedType, name)
		}
	}

	reports := make([]Report, 0, len(files))
	for _, f := range files {
		report, err := i.IngestFile(ctx, namespace, f)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// IngestFile parses, chunks and stores a single file. Directory components
// of f.Name are dropped; the base name becomes the fragment source.
func (i *Ingester) IngestFile(ctx context.Context, namespace string, f File) (Report, error) {
	name, err := sanitize.Filename(f.Name)
	if err != nil {
		return Report{File: f.Name}, err
	}
	f.Name = name

	ctx, span := i.tracer.Start(ctx, "ingest.file",
		trace.WithAttributes(
			attribute.String("file.name", f.Name),
			attribute.Int("file.size", len(f.Data)),
		))
	defer span.End()

	start := time.Now()
	report, err := i.ingest(ctx, namespace, f)
	report.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.logger.Warn("ingest failed",
			zap.String("file", f.Name),
			zap.String("namespace", namespace),
			zap.Error(err))
		return report, err
	}

	span.SetAttributes(
		attribute.Int("chunks", report.Chunks),
		attribute.String("backend", string(report.Backend)),
		attribute.Bool("partial", report.Partial),
	)
	i.logger.Info("document ingested",
		zap.String("file", f.Name),
		zap.String("namespace", namespace),
		zap.Int("chunks", report.Chunks),
		zap.String("backend", string(report.Backend)),
		zap.Bool("partial", report.Partial),
		zap.Duration("duration", report.Duration))

	for _, l := range i.listeners {
		l.IngestReported(ctx, namespace, report)
	}
	return report, nil
}

func (i *Ingester) ingest(ctx context.Context, namespace string, f File) (Report, error) {
	report := Report{File: f.Name}
	if namespace == "" {
		return report, ErrNamespaceRequired
	}

	doc, err := docparse.Parse(f.Name, f.Data)
	if err != nil {
		return report, err
	}
	report.Partial = doc.Partial
	report.Warnings = doc.Warnings

	chunks, err := i.Split(doc.Text)
	if err != nil {
		return report, fmt.Errorf("chunking %s: %w", f.Name, err)
	}
	if len(chunks) == 0 {
		return report, nil
	}

	metas := make([]vectorstore.Metadata, len(chunks))
	for n := range chunks {
		metas[n] = vectorstore.Metadata{Source: f.Name, ChatID: namespace, Partial: doc.Partial}
	}

	res, err := i.store.AddTexts(ctx, chunks, metas, namespace)
	if err != nil {
		return report, fmt.Errorf("storing %s: %w", f.Name, err)
	}
	report.Chunks = res.Count
	report.Backend = res.Backend
	return report, nil
}

// Split chunks text. Blank text yields no chunks. Invalid UTF-8 is
// replaced with U+FFFD, since the remote backends reject it.
func (i *Ingester) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	text = strings.ToValidUTF8(text, "\uFFFD")
	chunks, err := i.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
