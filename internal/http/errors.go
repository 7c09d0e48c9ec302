package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/policyqa/internal/docparse"
	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/logging"
	"github.com/fyrsmithlabs/policyqa/internal/query"
	"github.com/fyrsmithlabs/policyqa/internal/reasoning"
	"github.com/fyrsmithlabs/policyqa/internal/sanitize"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, docparse.ErrUnsupportedType),
		errors.Is(err, ingest.ErrNoFiles),
		errors.Is(err, ingest.ErrNamespaceRequired),
		errors.Is(err, query.ErrEmptyQuery),
		errors.Is(err, query.ErrChatIDRequired),
		errors.Is(err, query.ErrNoQuestions),
		errors.Is(err, sanitize.ErrInvalidChatID),
		errors.Is(err, sanitize.ErrInvalidFilename),
		errors.Is(err, vectorstore.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, docparse.ErrMalformed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, reasoning.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders errors as {"detail": "..."}.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := statusFor(err)
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				detail = msg
			} else {
				detail = http.StatusText(code)
			}
		}

		ctx := c.Request().Context()
		if code >= http.StatusInternalServerError {
			logger.Error(ctx, "request failed",
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Detail: detail})
		}
		if err != nil {
			logger.Warn(ctx, "failed to write error response", zap.Error(err))
		}
	}
}
