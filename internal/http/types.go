package http

import (
	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/telemetry"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

// RootResponse is the response body for GET /.
type RootResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// UploadResponse is the response body for POST /api/v1/upload.
type UploadResponse struct {
	ProcessedFiles []string        `json:"processed_files"`
	Reports        []ingest.Report `json:"reports"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version,omitempty"`
	Mode      string                    `json:"mode"`
	Backend   vectorstore.BackendStatus `json:"backend"`
	Counts    StatusCounts              `json:"counts"`
	Telemetry *telemetry.HealthStatus   `json:"telemetry,omitempty"`
}

// StatusCounts contains count information for the local index.
type StatusCounts struct {
	Namespaces int `json:"namespaces"`
	Fragments  int `json:"fragments"`
}

// DeleteResponse is the response body for DELETE /api/v1/chats/:chat_id.
type DeleteResponse struct {
	ChatID  string `json:"chat_id"`
	Deleted bool   `json:"deleted"`
}

// queryForm binds POST /api/v1/query.
type queryForm struct {
	Query        string `form:"query" validate:"required"`
	MessagesJSON string `form:"messages_json"`
	ChatID       string `form:"chat_id" validate:"required"`
}

// uploadForm binds the non-file fields of POST /api/v1/upload.
type uploadForm struct {
	ChatID string `form:"chat_id" validate:"required"`
}

// runForm binds the non-file fields of POST /api/v1/run.
type runForm struct {
	Questions string `form:"questions" validate:"required"`
}
