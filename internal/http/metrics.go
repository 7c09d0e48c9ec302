package http

import (
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/policyqa/internal/http"

// HTTPMetrics records request counts, latency, in-flight requests and the
// size of document uploads.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	uploadBytes metric.Int64Histogram
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

// init creates every instrument. A failed instrument stays nil and is
// skipped at record time.
func (m *HTTPMetrics) init() {
	var errs []error
	var err error

	m.requests, err = m.meter.Int64Counter(
		"policyqa.http.requests_total",
		metric.WithDescription("HTTP requests by method, route pattern and status"),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	m.duration, err = m.meter.Float64Histogram(
		"policyqa.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency; query and run include LLM time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	errs = append(errs, err)

	m.inFlight, err = m.meter.Int64UpDownCounter(
		"policyqa.http.active_requests",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	m.uploadBytes, err = m.meter.Int64Histogram(
		"policyqa.http.upload_size_bytes",
		metric.WithDescription("Multipart body size of upload and run requests"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(10<<10, 100<<10, 1<<20, 5<<20, 10<<20, 32<<20),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("failed to create http instruments", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
// Endpoints are labeled with the route pattern, so chat IDs never become
// label values.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			endpoint := normalizePath(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", endpoint),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.uploadBytes != nil && isUpload(req.Method, endpoint) && req.ContentLength > 0 {
				m.uploadBytes.Record(ctx, req.ContentLength,
					metric.WithAttributes(attribute.String("endpoint", endpoint)))
			}
			return err
		}
	}
}

func isUpload(method, endpoint string) bool {
	return method == "POST" && (strings.HasSuffix(endpoint, "/upload") || strings.HasSuffix(endpoint, "/run"))
}

// normalizePath maps unmatched requests to a single label. Matched requests
// already carry the route pattern (/api/v1/chats/:chat_id), never the raw
// chat ID.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
