package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/policyqa/internal/docparse"
	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/logging"
	"github.com/fyrsmithlabs/policyqa/internal/query"
	"github.com/fyrsmithlabs/policyqa/internal/reasoning"
	"github.com/fyrsmithlabs/policyqa/internal/sanitize"
	"github.com/fyrsmithlabs/policyqa/internal/telemetry"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

type stubAnswerer struct {
	mu      sync.Mutex
	req     query.Request
	runReq  query.RunRequest
	resp    query.Response
	run     query.RunResult
	err     error
	chatCtx string
}

func (a *stubAnswerer) Answer(ctx context.Context, req query.Request) (query.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.req = req
	a.chatCtx = logging.ChatIDFromContext(ctx)
	return a.resp, a.err
}

func (a *stubAnswerer) Run(ctx context.Context, req query.RunRequest) (query.RunResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runReq = req
	return a.run, a.err
}

type testServer struct {
	server   *Server
	store    *vectorstore.Store
	answerer *stubAnswerer
	logger   *logging.TestLogger
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	store := vectorstore.NewStore(vectorstore.StoreOptions{
		Credentials: vectorstore.StaticCredentials(vectorstore.Credentials{}),
	})
	ing, err := ingest.NewIngester(ingest.DefaultConfig(), store, nil)
	require.NoError(t, err)

	answerer := &stubAnswerer{}
	logger := logging.NewTestLogger()
	server, err := NewServer(Deps{Store: store, Uploader: ing, Answerer: answerer}, logger.Logger, &Config{
		Host:    "localhost",
		Port:    8000,
		Version: "1.2.3",
	})
	require.NoError(t, err)

	return &testServer{server: server, store: store, answerer: answerer, logger: logger}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

type upload struct {
	name string
	data string
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := w.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.data))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Detail
}

func eml(body string) string {
	return "From: insurer@example.com\r\nSubject: Policy\r\n\r\n" + body
}

func TestNewServer(t *testing.T) {
	store := vectorstore.NewStore(vectorstore.StoreOptions{})
	ing, err := ingest.NewIngester(ingest.DefaultConfig(), store, nil)
	require.NoError(t, err)
	deps := Deps{Store: store, Uploader: ing, Answerer: &stubAnswerer{}}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(deps, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, 8000, server.config.Port)
		assert.Equal(t, []string{"*"}, server.config.CORSOrigins)
		assert.Equal(t, 32, server.config.MaxUploadMB)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(deps, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when deps are missing", func(t *testing.T) {
		_, err := NewServer(Deps{Store: store}, logging.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleRootAndHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var root RootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	assert.Equal(t, "success", root.Status)
	assert.Contains(t, root.Message, "Welcome")

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}

func TestHandleUpload(t *testing.T) {
	t.Run("ingests into the chat namespace", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(multipartRequest(t, "/api/v1/upload", map[string]string{"chat_id": "chat-1"},
			upload{name: "knee.eml", data: eml("knee surgery covered under policy")},
			upload{name: "dental.EML", data: eml("dental claims excluded")},
		))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp UploadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"knee.eml", "dental.EML"}, resp.ProcessedFiles)
		require.Len(t, resp.Reports, 2)
		assert.Equal(t, vectorstore.BackendLocal, resp.Reports[0].Backend)
		assert.Equal(t, 2, ts.store.LocalLen("chat-1"))
	})

	t.Run("unsupported type is rejected without side effects", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(multipartRequest(t, "/api/v1/upload", map[string]string{"chat_id": "chat-1"},
			upload{name: "knee.eml", data: eml("knee")},
			upload{name: "sheet.xlsx", data: "x"},
		))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeDetail(t, rec), "sheet.xlsx")
		assert.Zero(t, ts.store.LocalLen("chat-1"))
	})

	t.Run("missing chat id", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(multipartRequest(t, "/api/v1/upload", nil, upload{name: "a.eml", data: eml("a")}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "chat_id is required", decodeDetail(t, rec))
	})

	t.Run("no files", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(multipartRequest(t, "/api/v1/upload", map[string]string{"chat_id": "chat-1"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No files were uploaded.", decodeDetail(t, rec))
	})

	t.Run("malformed document", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(multipartRequest(t, "/api/v1/upload", map[string]string{"chat_id": "chat-1"},
			upload{name: "broken.pdf", data: "nope"}))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestHandleQuery(t *testing.T) {
	t.Run("passes the chat history", func(t *testing.T) {
		ts := setupTestServer(t)
		title := "Knee Claim"
		ts.answerer.resp = query.Response{FinalResponse: reasoning.IrrelevantResponse(), NewChatTitle: &title}

		rec := ts.do(formRequest("/api/v1/query", url.Values{
			"query":         {"Is knee surgery covered?"},
			"chat_id":       {"chat-1"},
			"messages_json": {`[{"role": "ai", "content": "Hi! Upload a policy."}]`},
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, "Is knee surgery covered?", ts.answerer.req.Query)
		assert.Equal(t, "chat-1", ts.answerer.req.ChatID)
		assert.Equal(t, []query.Message{{Role: "ai", Content: "Hi! Upload a policy."}}, ts.answerer.req.Messages)
		assert.Equal(t, "chat-1", ts.answerer.chatCtx)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Irrelevant Inquiry", body["topic"])
		assert.Equal(t, "Knee Claim", body["new_chat_title"])
		assert.Nil(t, body["decision"])
		assert.Equal(t, []any{}, body["supporting_clauses"])
	})

	t.Run("validation", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(formRequest("/api/v1/query", url.Values{"query": {"  "}, "chat_id": {"c"}}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Query cannot be empty.", decodeDetail(t, rec))

		rec = ts.do(formRequest("/api/v1/query", url.Values{"query": {"q"}}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "chat_id is required", decodeDetail(t, rec))

		rec = ts.do(formRequest("/api/v1/query", url.Values{"query": {"q"}, "chat_id": {"c"}, "messages_json": {"{"}}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeDetail(t, rec), "messages_json")
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			err  error
			code int
		}{
			{err: reasoning.ErrNotConfigured, code: http.StatusServiceUnavailable},
			{err: query.ErrEmptyQuery, code: http.StatusBadRequest},
			{err: errors.New("model exploded"), code: http.StatusInternalServerError},
		}
		for _, tt := range tests {
			ts := setupTestServer(t)
			ts.answerer.err = tt.err

			rec := ts.do(formRequest("/api/v1/query", url.Values{"query": {"q"}, "chat_id": {"c"}}))
			assert.Equal(t, tt.code, rec.Code, tt.err.Error())
			assert.Contains(t, decodeDetail(t, rec), tt.err.Error())
		}
	})
}

func TestHandleRun(t *testing.T) {
	ts := setupTestServer(t)
	ts.answerer.run = query.RunResult{Namespace: "run-x", Answers: []query.Answer{{Question: "q1"}}}

	rec := ts.do(multipartRequest(t, "/api/v1/run", map[string]string{"questions": `["q1", "q2"]`},
		upload{name: "a.eml", data: eml("a")}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{"q1", "q2"}, ts.answerer.runReq.Questions)
	require.Len(t, ts.answerer.runReq.Files, 1)
	assert.Equal(t, "a.eml", ts.answerer.runReq.Files[0].Name)

	var result query.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-x", result.Namespace)

	rec = ts.do(multipartRequest(t, "/api/v1/run", map[string]string{"questions": "not json"},
		upload{name: "a.eml", data: eml("a")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fixedHealth telemetry.HealthStatus

func (f fixedHealth) Health() telemetry.HealthStatus { return telemetry.HealthStatus(f) }

func TestHandleStatus_Telemetry(t *testing.T) {
	store := vectorstore.NewStore(vectorstore.StoreOptions{})
	ing, err := ingest.NewIngester(ingest.DefaultConfig(), store, nil)
	require.NoError(t, err)
	server, err := NewServer(Deps{
		Store:     store,
		Uploader:  ing,
		Answerer:  &stubAnswerer{},
		Telemetry: fixedHealth{Enabled: true, Degraded: true, Error: "meter provider: dial refused"},
	}, logging.NewNop(), &Config{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.Telemetry)
	assert.True(t, status.Telemetry.Degraded)
	assert.Equal(t, "meter provider: dial refused", status.Telemetry.Error)
}

func TestHandleStatusAndDelete(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "uninitialized", status.Mode)
	assert.False(t, status.Backend.FallbackMode)
	assert.False(t, status.Backend.RemoteInitialized)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Nil(t, status.Telemetry)

	rec = ts.do(multipartRequest(t, "/api/v1/upload", map[string]string{"chat_id": "chat-9"},
		upload{name: "a.eml", data: eml("a")}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "fallback", status.Mode)
	assert.True(t, status.Backend.FallbackMode)
	assert.Equal(t, []string{"chat-9"}, status.Backend.LocalNamespaces)
	assert.Equal(t, StatusCounts{Namespaces: 1, Fragments: 1}, status.Counts)

	for i := 0; i < 2; i++ {
		rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/chats/chat-9", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, ts.store.LocalLen("chat-9"))
	assert.Empty(t, ts.store.BackendStatus().LocalNamespaces)
}

func TestRequestLogging(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	requestID := rec.Header().Get(echo.HeaderXRequestID)
	require.NotEmpty(t, requestID)

	require.Len(t, ts.logger.Entries("http request"), 1)
	loggedID, ok := ts.logger.Field("http request", "request_id")
	require.True(t, ok)
	assert.Equal(t, requestID, loggedID)
	status, _ := ts.logger.Field("http request", "status")
	assert.EqualValues(t, http.StatusOK, status)

	ts.answerer.err = errors.New("boom")
	rec = ts.do(formRequest("/api/v1/query", url.Values{"query": {"q"}, "chat_id": {"c"}}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	ts.logger.AssertLogged(t, zapcore.ErrorLevel, "request failed")

	entries := ts.logger.Entries("http request")
	require.Len(t, entries, 2)
	assert.EqualValues(t, http.StatusInternalServerError, entries[1].ContextMap()["status"])
}

func TestCORS(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:5173")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := ts.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.store.BackendStatus()

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(docparse.ErrUnsupportedType))
	assert.Equal(t, http.StatusBadRequest, statusFor(vectorstore.ErrInvalidInput))
	assert.Equal(t, http.StatusBadRequest, statusFor(sanitize.ErrInvalidChatID))
	assert.Equal(t, http.StatusBadRequest, statusFor(sanitize.ErrInvalidFilename))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(docparse.ErrMalformed))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(reasoning.ErrNotConfigured))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestCountLocal(t *testing.T) {
	assert.Equal(t, StatusCounts{Namespaces: -1, Fragments: -1}, CountLocal(nil))

	store := vectorstore.NewStore(vectorstore.StoreOptions{})
	_, err := store.AddTexts(context.Background(), []string{"a", "b"}, []vectorstore.Metadata{{}, {}}, "ns1")
	require.NoError(t, err)
	_, err = store.AddTexts(context.Background(), []string{"c"}, []vectorstore.Metadata{{}}, "ns2")
	require.NoError(t, err)

	assert.Equal(t, StatusCounts{Namespaces: 2, Fragments: 3}, CountLocal(store))
}
