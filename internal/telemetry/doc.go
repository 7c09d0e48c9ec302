// Package telemetry sets up OpenTelemetry tracing and metrics export over
// OTLP (gRPC or HTTP/protobuf).
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	defer tel.Shutdown(context.Background())
//
// Export failures degrade the instance instead of failing startup; Health
// reports the last error. Plaintext export is only allowed to loopback
// endpoints.
//
// TestTelemetry records spans and metrics in memory for tests.
package telemetry
