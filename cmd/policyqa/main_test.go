package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/policyqa/internal/config"
	httpserver "github.com/fyrsmithlabs/policyqa/internal/http"
	"github.com/fyrsmithlabs/policyqa/internal/ingest"
	"github.com/fyrsmithlabs/policyqa/internal/logging"
	"github.com/fyrsmithlabs/policyqa/internal/query"
	"github.com/fyrsmithlabs/policyqa/internal/reasoning"
	"github.com/fyrsmithlabs/policyqa/internal/vectorstore"
)

const testEML = "From: claims@example.com\r\n" +
	"Subject: Coverage\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Knee surgery is covered up to 5000 per year.\r\n"

// stubReasoner answers every question with a fixed claim decision.
type stubReasoner struct{}

func (stubReasoner) GenerateTitle(_ context.Context, _ string) (string, error) {
	return "Knee Surgery", nil
}

func (stubReasoner) ExtractEntities(_ context.Context, _ string) (reasoning.QueryEntities, error) {
	return reasoning.QueryEntities{}, nil
}

func (stubReasoner) Reason(_ context.Context, _ reasoning.QueryEntities, chunks []reasoning.ContextChunk, _ string) (reasoning.FinalResponse, error) {
	decision := reasoning.DecisionApproved
	return reasoning.FinalResponse{
		ResponseType:         reasoning.ResponseClaimDecision,
		Topic:                "Knee surgery",
		ConversationalAnswer: "Yes, knee surgery is covered.",
		Decision:             &decision,
		Justification:        "The policy covers knee surgery.",
		SupportingClauses: []reasoning.SupportingClause{{
			ClauseID:       "1",
			ClauseText:     chunks[0].Text,
			SourceDocument: chunks[0].Source,
		}},
	}, nil
}

func startTestServer(t *testing.T) string {
	t.Helper()
	logger := logging.NewNop()

	store := vectorstore.NewStore(vectorstore.StoreOptions{})
	ing, err := ingest.NewIngester(ingest.DefaultConfig(), store, nil)
	require.NoError(t, err)
	pipeline, err := query.NewPipeline(query.Config{RelevanceThreshold: 0.5}, store, stubReasoner{}, ing, nil)
	require.NoError(t, err)

	srv, err := httpserver.NewServer(httpserver.Deps{
		Store:    store,
		Uploader: ing,
		Answerer: pipeline,
	}, logger, &httpserver.Config{Version: "test"})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// execute runs the root command with args and returns its output. Flag
// variables are package globals, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chatID, askFiles, rawOutput = "", nil, false
	for _, c := range []*cobra.Command{ingestCmd, askCmd, statusCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
	assert.Contains(t, out, "Commit:")
}

func TestIngestAskStatus(t *testing.T) {
	url := startTestServer(t)
	eml := writeFile(t, "claim.eml", testEML)

	out, err := execute(t, "--server", url, "ingest", "--chat-id", "c1", eml)
	require.NoError(t, err)
	assert.Contains(t, out, "claim.eml: 1 chunks (local)")
	assert.Contains(t, out, "Uploaded 1 file(s) to chat c1")

	out, err = execute(t, "--server", url, "ask", "--chat-id", "c1", "knee surgery covered")
	require.NoError(t, err)
	assert.Contains(t, out, "Yes, knee surgery is covered.")
	assert.Contains(t, out, "Decision: Approved")
	assert.Contains(t, out, "[claim.eml 1]")

	out, err = execute(t, "--server", url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:       fallback")
	assert.Contains(t, out, "Namespaces: 1")
	assert.Contains(t, out, "Version:    test")
}

func TestAsk_OneShotRun(t *testing.T) {
	url := startTestServer(t)
	eml := writeFile(t, "claim.eml", testEML)

	out, err := execute(t, "--server", url, "ask", "--file", eml, "knee surgery covered", "is knee surgery covered")
	require.NoError(t, err)
	assert.Contains(t, out, "Q: knee surgery covered")
	assert.Contains(t, out, "Q: is knee surgery covered")

	// The run namespace is gone afterwards.
	out, err = execute(t, "--server", url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Namespaces: 0")
}

func TestAsk_ServerErrorDetail(t *testing.T) {
	url := startTestServer(t)

	_, err := execute(t, "--server", url, "ask", "--chat-id", "c1", "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error (400)")
	assert.Contains(t, err.Error(), "Query cannot be empty.")
}

func TestIngest_UnsupportedFile(t *testing.T) {
	url := startTestServer(t)
	txt := writeFile(t, "notes.txt", "plain text")

	_, err := execute(t, "--server", url, "ingest", "--chat-id", "c1", txt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error (400)")
}

func TestInitDependencies_LocalProvider(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("QDRANT_API_KEY", "")

	cfg := config.Default()
	cfg.VectorStore.Provider = config.ProviderLocal

	deps, err := initDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	assert.NotNil(t, deps.store)
	assert.NotNil(t, deps.ingester)
	assert.NotNil(t, deps.pipeline)
	assert.Nil(t, deps.publisher)
	assert.False(t, deps.llmConfigured)

	_, err = deps.pipeline.Answer(context.Background(), query.Request{Query: "knee", ChatID: "c1"})
	assert.ErrorIs(t, err, reasoning.ErrNotConfigured)
}
