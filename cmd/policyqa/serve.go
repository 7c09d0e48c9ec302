package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/policyqa/internal/config"
	"github.com/fyrsmithlabs/policyqa/internal/embeddings"
	"github.com/fyrsmithlabs/policyqa/internal/events"
	httpserver "github.com/fyrsmithlabs/policyqa/internal/http"
	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/logging"
	"github.com/fyrsmithlabs/policyqa/internal/query"
	"github.com/fyrsmithlabs/policyqa/internal/reasoning"
	"github.com/fyrsmithlabs/policyqa/internal/telemetry"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policyqa HTTP server",
	Long: `Start the policyqa HTTP server.

Configuration is read from ~/.config/policyqa/config.yaml (or --config) and
overridden by environment variables such as SERVER_HTTP_PORT or
VECTORSTORE_PROVIDER. Without GOOGLE_API_KEY and QDRANT_API_KEY the server
answers from its in-memory keyword index.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, configPath)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/policyqa/config.yaml)")
}

// runServe starts the server and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Connects the event publisher when NATS is configured
//  4. Builds the vector store, ingester, reasoner and query pipeline
//  5. Starts the HTTP server
//  6. Shuts down gracefully on context cancellation
func runServe(ctx context.Context, path string) error {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	deps, err := initDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger := deps.logger
	logger.Info(ctx, "starting policyqa",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore_provider", cfg.VectorStore.Provider),
		zap.Bool("events_enabled", deps.publisher != nil),
		zap.Bool("llm_configured", deps.llmConfigured))

	if h := deps.telemetry.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.String("error", h.Error))
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Store:     deps.store,
		Uploader:  deps.ingester,
		Answerer:  deps.pipeline,
		Telemetry: deps.telemetry,
	}, logger, &httpserver.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}

// dependencies holds the initialized services and the resources they own.
type dependencies struct {
	logger        *logging.Logger
	telemetry     *telemetry.Telemetry
	publisher     *events.Publisher
	store         *vectorstore.Store
	ingester      *ingest.Ingester
	pipeline      *query.Pipeline
	llm           *reasoning.GeminiLLM
	llmConfigured bool
}

// Close releases all resources in reverse order of creation.
func (d *dependencies) Close() {
	ctx := context.Background()
	logger := d.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if d.llm != nil {
		if err := d.llm.Close(); err != nil {
			logger.Warn(ctx, "closing llm client", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Warn(ctx, "closing vector store", zap.Error(err))
		}
	}
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			logger.Warn(ctx, "closing event publisher", zap.Error(err))
		}
	}
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	_ = logger.Sync() // Best-effort sync
}

// initDependencies wires every service from cfg. On error, everything
// created so far is released.
func initDependencies(ctx context.Context, cfg *config.Config) (_ *dependencies, err error) {
	d := &dependencies{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	d.telemetry = tel

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	d.logger = logger
	zl := logger.Underlying()

	var (
		modeListeners   []vectorstore.ModeListener
		reportListeners []ingest.ReportListener
	)
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, zl.Named("events"))
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		d.publisher = pub
		modeListeners = append(modeListeners, pub)
		reportListeners = append(reportListeners, pub)
	}

	store, err := vectorstore.NewStoreFromConfig(cfg,
		embeddings.NewGeminiFactory(cfg.Embeddings, zl.Named("embeddings")),
		zl.Named("vectorstore"),
		modeListeners...)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	d.store = store

	ing, err := ingest.NewIngester(ingest.Config{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
	}, store, zl.Named("ingest"), reportListeners...)
	if err != nil {
		return nil, fmt.Errorf("ingester: %w", err)
	}
	d.ingester = ing

	llmCfg := reasoning.Config{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		RateLimit:   cfg.LLM.RateLimit,
		Burst:       cfg.LLM.Burst,
		MaxRetries:  cfg.LLM.MaxRetries,
		Timeout:     cfg.LLM.Timeout.Duration(),
	}
	var llm reasoning.LLM = reasoning.NotConfigured()
	if key := cfg.Credentials.EmbeddingAPIKey; key.IsSet() {
		gemini, err := reasoning.NewGeminiLLM(ctx, key.Value(), llmCfg)
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		d.llm = gemini
		d.llmConfigured = true
		llm = gemini
		logger.Info(ctx, "gemini llm configured",
			zap.String("model", cfg.LLM.Model),
			logging.SecretHint("gemini_key_hint", key))
	} else {
		logger.Warn(ctx, "no Gemini API key configured, queries will fail until one is set")
	}

	reasoner, err := reasoning.NewReasoner(llm, llmCfg, zl.Named("reasoning"))
	if err != nil {
		return nil, fmt.Errorf("reasoner: %w", err)
	}

	pipeline, err := query.NewPipeline(query.Config{
		TopK:               cfg.Query.TopK,
		RelevanceThreshold: cfg.Query.RelevanceThreshold,
		MaxConcurrency:     cfg.Query.MaxConcurrency,
	}, store, reasoner, ing, zl.Named("query"))
	if err != nil {
		return nil, fmt.Errorf("query pipeline: %w", err)
	}
	d.pipeline = pipeline

	return d, nil
}
