// Package logging provides structured logging on Zap with OpenTelemetry
// correlation.
//
// Loggers are built from the observability section of the configuration:
//
//	cfg, err := logging.FromObservability(appCfg.Observability)
//	logger, err := logging.NewLogger(cfg, telemetry.LoggerProvider())
//	defer logger.Sync()
//
// Context-aware methods add trace_id, span_id, chat_id and request_id when
// present:
//
//	ctx = logging.WithChatID(ctx, chatID)
//	logger.Info(ctx, "document ingested", zap.Int("chunks", n))
//
// The stdout encoder redacts credential fields by name and Google API keys
// by pattern. Entries below Error are sampled; errors never are.
//
// Packages that log without a request context take a *zap.Logger from
// Logger.Underlying.
package logging
