package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/policyqa/internal/http"
	"github.com/fyrsmithlabs/policyqa/internal/query"
)

const clientTimeout = 5 * time.Minute

var (
	chatID    string
	askFiles  []string
	rawOutput bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest --chat-id ID file...",
	Short: "Upload documents into a chat",
	Long: `Upload PDF, DOCX or EML documents into a chat namespace on the server.

Examples:
  # Upload two documents
  policyqa ingest --chat-id c1 policy.pdf claim.eml

  # Use a different server
  policyqa ingest --server http://localhost:9000 --chat-id c1 policy.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask [--chat-id ID | --file PATH...] question...",
	Short: "Ask a question about uploaded documents",
	Long: `Ask a question in a chat, or run a one-shot question against local files.

With --chat-id the question is answered from the documents uploaded into that
chat. With --file the files are uploaded into a temporary namespace, every
question is answered and the namespace is discarded.

Examples:
  policyqa ask --chat-id c1 "Is knee surgery covered for a 46 year old?"
  policyqa ask --file policy.pdf "Is physiotherapy covered?" "What is the waiting period?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's vector store status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	ingestCmd.Flags().StringVar(&chatID, "chat-id", "", "chat namespace to upload into")
	_ = ingestCmd.MarkFlagRequired("chat-id")

	askCmd.Flags().StringVar(&chatID, "chat-id", "", "chat namespace to query")
	askCmd.Flags().StringArrayVar(&askFiles, "file", nil, "document for a one-shot run (repeatable)")
	askCmd.MarkFlagsMutuallyExclusive("chat-id", "file")
	askCmd.MarkFlagsOneRequired("chat-id", "file")

	for _, c := range []*cobra.Command{askCmd, statusCmd} {
		c.Flags().BoolVar(&rawOutput, "json", false, "print the raw JSON response")
	}
}

// apiClient talks to a policyqa server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// apiError is the server's error body.
type apiError struct {
	Detail string `json:"detail"`
}

// formField is one non-file multipart field.
type formField struct {
	name  string
	value string
}

// postForm sends a multipart form with files under the "files" field.
func (c *apiClient) postForm(ctx context.Context, path string, fields []formField, files []string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, err
		}
	}
	for _, file := range files {
		if err := attachFile(w, file); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

func attachFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *apiClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Detail)
		}
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)
	body, err := client.postForm(cmd.Context(), "/api/v1/upload",
		[]formField{{name: "chat_id", value: chatID}}, args)
	if err != nil {
		return err
	}

	var resp httpserver.UploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, r := range resp.Reports {
		fmt.Fprintf(out, "%s: %d chunks (%s)", r.File, r.Chunks, r.Backend)
		if r.Partial {
			fmt.Fprintf(out, " partial: %s", strings.Join(r.Warnings, "; "))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Uploaded %d file(s) to chat %s\n", len(resp.ProcessedFiles), chatID)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)
	out := cmd.OutOrStdout()

	if len(askFiles) > 0 {
		questions, err := json.Marshal(args)
		if err != nil {
			return err
		}
		body, err := client.postForm(cmd.Context(), "/api/v1/run",
			[]formField{{name: "questions", value: string(questions)}}, askFiles)
		if err != nil {
			return err
		}
		if rawOutput {
			return printJSON(out, body)
		}
		var result query.RunResult
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		for i, a := range result.Answers {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "Q: %s\n", a.Question)
			if a.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", a.Error)
				continue
			}
			printAnswer(out, a.Response)
		}
		return nil
	}

	body, err := client.postForm(cmd.Context(), "/api/v1/query", []formField{
		{name: "chat_id", value: chatID},
		{name: "query", value: strings.Join(args, " ")},
	}, nil)
	if err != nil {
		return err
	}
	if rawOutput {
		return printJSON(out, body)
	}
	var resp query.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	printAnswer(out, &resp)
	return nil
}

func printAnswer(w io.Writer, r *query.Response) {
	if r == nil {
		return
	}
	if r.NewChatTitle != nil {
		fmt.Fprintf(w, "Title: %s\n", *r.NewChatTitle)
	}
	fmt.Fprintf(w, "%s\n", r.ConversationalAnswer)
	if r.Decision != nil {
		fmt.Fprintf(w, "Decision: %s\n", *r.Decision)
	}
	if r.FinalPayoutAmount != nil {
		fmt.Fprintf(w, "Payout: %s\n", *r.FinalPayoutAmount)
	}
	fmt.Fprintf(w, "Justification: %s\n", r.Justification)
	for _, c := range r.SupportingClauses {
		fmt.Fprintf(w, "  [%s %s] %s\n", c.SourceDocument, c.ClauseID, c.ClauseText)
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client := newAPIClient(serverURL)
	body, err := client.get(cmd.Context(), "/api/v1/status")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rawOutput {
		return printJSON(out, body)
	}

	var status httpserver.StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Fprintf(out, "Status:     %s\n", status.Status)
	if status.Version != "" {
		fmt.Fprintf(out, "Version:    %s\n", status.Version)
	}
	fmt.Fprintf(out, "Mode:       %s\n", status.Mode)
	fmt.Fprintf(out, "Namespaces: %d\n", status.Counts.Namespaces)
	fmt.Fprintf(out, "Fragments:  %d\n", status.Counts.Fragments)
	if t := status.Telemetry; t != nil {
		state := "disabled"
		switch {
		case t.Degraded:
			state = "degraded: " + t.Error
		case t.Enabled:
			state = "enabled"
		}
		fmt.Fprintf(out, "Telemetry:  %s\n", state)
	}
	return nil
}

func printJSON(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
