// Package comfy implements the workflow.Client interface over the ComfyUI
// HTTP API.
//
// Runs are submitted via POST /prompt, completion is detected by polling
// GET /history/{id}, artifacts are downloaded through GET /view, images for
// LoadImage nodes are uploaded with POST /upload/image, and run history is
// cleared by POST /history with a delete body. Reachability is probed via
// GET /system_stats.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moche-ai/routine-studio/pkg/provider/workflow"
)

// Compile-time interface assertion.
var _ workflow.Client = (*Client)(nil)

const (
	defaultPollInterval = 2 * time.Second
	defaultHTTPTimeout  = 30 * time.Second

	promptEndpoint  = "/prompt"
	historyEndpoint = "/history"
	viewEndpoint    = "/view"
	uploadEndpoint  = "/upload/image"
	statsEndpoint   = "/system_stats"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithPollInterval sets the cadence at which Wait polls run history.
// Defaults to 2 s.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithHTTPTimeout sets the per-request HTTP timeout. This bounds individual
// API calls, not a whole run; Wait enforces its own run timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client talks to one ComfyUI server. It is safe for concurrent use.
type Client struct {
	baseURL      string
	clientID     string
	pollInterval time.Duration
	httpClient   *http.Client
}

// New creates a Client for the ComfyUI server at baseURL
// (e.g., "http://localhost:8188").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("comfy: baseURL must not be empty")
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     uuid.NewString(),
		pollInterval: defaultPollInterval,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Ping reports whether the server is reachable. It fetches GET /system_stats
// and treats any transport failure or non-200 response as an error.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("comfy: create stats request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy: GET %s: %w", statsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("comfy: GET %s returned status %d", statsEndpoint, resp.StatusCode)
	}
	return nil
}

// promptRequest is the JSON body sent to POST /prompt.
type promptRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id"`
}

// promptResponse is the JSON body returned by POST /prompt.
type promptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// Submit implements workflow.Client.
func (c *Client) Submit(ctx context.Context, g workflow.Graph) (string, error) {
	if len(g) == 0 {
		return "", errors.New("comfy: graph must not be empty")
	}
	data, err := json.Marshal(promptRequest{Prompt: g, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+promptEndpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("comfy: create prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: POST %s: %w", promptEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("comfy: POST %s returned status %d: %s", promptEndpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pr promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("comfy: decode prompt response: %w", err)
	}
	if pr.PromptID == "" {
		return "", errors.New("comfy: prompt response missing prompt_id")
	}
	return pr.PromptID, nil
}

// historyEntry is one run's record in GET /history/{id}.
type historyEntry struct {
	Outputs map[string]map[string]json.RawMessage `json:"outputs"`
	Status  historyStatus                         `json:"status"`
}

type historyStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

// Wait implements workflow.Client. It polls the run history until the entry
// reports completion, the timeout elapses, or ctx is cancelled.
func (c *Client) Wait(ctx context.Context, id string, timeout time.Duration) (workflow.Outputs, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		entry, found, err := c.history(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			if entry.Status.StatusStr == "error" {
				return nil, fmt.Errorf("comfy: run %s: %s: %w", id, errorDetail(entry.Status.Messages), workflow.ErrRunFailed)
			}
			if entry.Status.Completed || len(entry.Outputs) > 0 {
				return collectOutputs(entry.Outputs), nil
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("comfy: run %s did not complete within %s", id, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// history fetches the run's history entry. found is false while the run is
// still queued or executing.
func (c *Client) history(ctx context.Context, id string) (historyEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+historyEndpoint+"/"+url.PathEscape(id), nil)
	if err != nil {
		return historyEntry{}, false, fmt.Errorf("comfy: create history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return historyEntry{}, false, fmt.Errorf("comfy: GET %s/%s: %w", historyEndpoint, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return historyEntry{}, false, fmt.Errorf("comfy: GET %s/%s returned status %d", historyEndpoint, id, resp.StatusCode)
	}

	var entries map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return historyEntry{}, false, fmt.Errorf("comfy: decode history response: %w", err)
	}
	entry, ok := entries[id]
	return entry, ok, nil
}

// collectOutputs flattens a history entry's outputs into workflow.Outputs.
// Each node output groups artifacts under keys like "images", "gifs" or
// "videos"; any array whose entries carry a filename is kept.
func collectOutputs(raw map[string]map[string]json.RawMessage) workflow.Outputs {
	outputs := make(workflow.Outputs)
	for nodeID, groups := range raw {
		var refs []workflow.OutputRef
		for _, group := range groups {
			var candidates []workflow.OutputRef
			if err := json.Unmarshal(group, &candidates); err != nil {
				continue
			}
			for _, ref := range candidates {
				if ref.Filename != "" {
					refs = append(refs, ref)
				}
			}
		}
		if len(refs) > 0 {
			outputs[nodeID] = refs
		}
	}
	return outputs
}

// errorDetail digs the exception message out of a failed run's status
// messages. Messages are [type, data] pairs; execution errors carry an
// exception_message field.
func errorDetail(messages []json.RawMessage) string {
	for _, raw := range messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var data struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &data); err != nil {
			continue
		}
		if data.ExceptionMessage != "" {
			if data.NodeType != "" {
				return data.NodeType + ": " + data.ExceptionMessage
			}
			return data.ExceptionMessage
		}
	}
	return "engine reported an error"
}

// Fetch implements workflow.Client.
func (c *Client) Fetch(ctx context.Context, ref workflow.OutputRef) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", ref.Filename)
	params.Set("subfolder", ref.Subfolder)
	params.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+viewEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: create view request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: GET %s: %w", viewEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: GET %s returned status %d for %q", viewEndpoint, resp.StatusCode, ref.Filename)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read artifact %q: %w", ref.Filename, err)
	}
	return data, nil
}

// uploadResponse is the JSON body returned by POST /upload/image.
type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Upload implements workflow.Client. The returned reference is what
// LoadImage nodes expect in their image input.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", errors.New("comfy: upload name must not be empty")
	}
	if len(data) == 0 {
		return "", errors.New("comfy: upload data must not be empty")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return "", fmt.Errorf("comfy: create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("comfy: write form file: %w", err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("comfy: write overwrite field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("comfy: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("comfy: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: POST %s: %w", uploadEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comfy: POST %s returned status %d", uploadEndpoint, resp.StatusCode)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("comfy: decode upload response: %w", err)
	}
	if ur.Name == "" {
		return "", errors.New("comfy: upload response missing name")
	}
	if ur.Subfolder != "" {
		return ur.Subfolder + "/" + ur.Name, nil
	}
	return ur.Name, nil
}

// Delete implements workflow.Client. It clears the run's history entry,
// which also releases its cached artifacts server-side.
func (c *Client) Delete(ctx context.Context, id string) error {
	data, err := json.Marshal(map[string][]string{"delete": {id}})
	if err != nil {
		return fmt.Errorf("comfy: marshal delete body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+historyEndpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("comfy: create delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy: POST %s: %w", historyEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("comfy: POST %s returned status %d", historyEndpoint, resp.StatusCode)
	}
	return nil
}
