package http

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/logging"
	"github.com/fyrsmithlabs/policyqa/internal/query"
	"github.com/fyrsmithlabs/policyqa/internal/sanitize"
)

const welcomeMessage = "Welcome to the DocQuery AI API. Navigate to /docs for interactive documentation."

// fileFields are the multipart keys accepted for uploads.
var fileFields = []string{"files", "files[]"}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{Status: "success", Message: welcomeMessage})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleUpload ingests multipart files into the chat's namespace.
func (s *Server) handleUpload(c echo.Context) error {
	var form uploadForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	if err := c.Validate(&form); err != nil {
		return err
	}

	if err := sanitize.ChatID(form.ChatID); err != nil {
		return err
	}

	files, err := readFiles(c)
	if err != nil {
		return err
	}

	ctx := logging.WithChatID(c.Request().Context(), form.ChatID)
	reports, err := s.deps.Uploader.IngestFiles(ctx, form.ChatID, files)
	if err != nil {
		return err
	}

	processed := make([]string, len(reports))
	for i, r := range reports {
		processed[i] = r.File
	}
	return c.JSON(http.StatusOK, UploadResponse{ProcessedFiles: processed, Reports: reports})
}

// handleQuery answers a question in a chat.
func (s *Server) handleQuery(c echo.Context) error {
	var form queryForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	if strings.TrimSpace(form.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Query cannot be empty.")
	}
	if err := c.Validate(&form); err != nil {
		return err
	}
	if err := sanitize.ChatID(form.ChatID); err != nil {
		return err
	}

	var messages []query.Message
	if form.MessagesJSON != "" {
		if err := json.Unmarshal([]byte(form.MessagesJSON), &messages); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("messages_json is not a JSON array of messages: %v", err))
		}
	}

	ctx := logging.WithChatID(c.Request().Context(), form.ChatID)
	resp, err := s.deps.Answerer.Answer(ctx, query.Request{
		Query:    form.Query,
		Messages: messages,
		ChatID:   form.ChatID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// handleRun answers a batch of questions about documents that are not
// kept after the request.
func (s *Server) handleRun(c echo.Context) error {
	var form runForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form")
	}
	if err := c.Validate(&form); err != nil {
		return err
	}

	var questions []string
	if err := json.Unmarshal([]byte(form.Questions), &questions); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("questions must be a JSON array of strings: %v", err))
	}

	files, err := readFiles(c)
	if err != nil {
		return err
	}

	result, err := s.deps.Answerer.Run(c.Request().Context(), query.RunRequest{Files: files, Questions: questions})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// handleStatus reports the vector store routing state.
func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Mode:    s.deps.Store.Mode().String(),
		Backend: s.deps.Store.BackendStatus(),
		Counts:  CountLocal(s.deps.Store),
	}
	if s.deps.Telemetry != nil {
		h := s.deps.Telemetry.Health()
		resp.Telemetry = &h
	}
	return c.JSON(http.StatusOK, resp)
}

// handleDeleteChat drops every fragment of a chat.
func (s *Server) handleDeleteChat(c echo.Context) error {
	chatID := c.Param("chat_id")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}
	if err := sanitize.ChatID(chatID); err != nil {
		return err
	}

	ctx := logging.WithChatID(c.Request().Context(), chatID)
	s.deps.Store.DeleteNamespace(ctx, chatID)
	s.logger.Info(ctx, "chat deleted")
	return c.JSON(http.StatusOK, DeleteResponse{ChatID: chatID, Deleted: true})
}

// readFiles loads every uploaded file into memory. The body limit
// middleware bounds the total size.
func readFiles(c echo.Context) ([]ingest.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "expected a multipart form with files")
	}

	var headers []*multipart.FileHeader
	for _, field := range fileFields {
		headers = append(headers, form.File[field]...)
	}
	if len(headers) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "No files were uploaded.")
	}

	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readFile(fh)
		if err != nil {
			return nil, fmt.Errorf("reading upload %s: %w", fh.Filename, err)
		}
		files = append(files, ingest.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
