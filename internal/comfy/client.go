package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genserver/internal/infra"
)

// ErrSubmitRejected indicates the backend refused a workflow submission.
var ErrSubmitRejected = errors.New("comfy: submission rejected")

// Options configures the ComfyUI queue backend client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against a ComfyUI-compatible queue backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// OutputDescriptor identifies one produced file in the backend's output
// directory. The triple maps directly onto the /view query parameters.
type OutputDescriptor struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// HistoryStatus carries the terminal outcome of a history entry.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryEntry is one resolved prompt in the backend history log. Prompt is
// the backend's positional tuple; index 3 holds extra data including the
// client id the submitter attached.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
	Prompt  []json.RawMessage     `json:"prompt"`
}

// NodeOutput holds files emitted by a single graph node.
type NodeOutput struct {
	Images []OutputDescriptor `json:"images"`
	Gifs   []OutputDescriptor `json:"gifs"`
}

// Descriptors flattens an entry's node outputs into one list.
func (e HistoryEntry) Descriptors() []OutputDescriptor {
	var out []OutputDescriptor
	for _, node := range e.Outputs {
		out = append(out, node.Images...)
		out = append(out, node.Gifs...)
	}
	return out
}

// ClientID extracts the submitter-attached client id from the entry's
// prompt tuple, or "" when absent.
func (e HistoryEntry) ClientID() string {
	if len(e.Prompt) < 4 {
		return ""
	}
	var extra struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(e.Prompt[3], &extra); err != nil {
		return ""
	}
	return extra.ClientID
}

type promptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id,omitempty"`
}

type promptResponse struct {
	PromptID string         `json:"prompt_id"`
	Number   int            `json:"number"`
	Error    string         `json:"error"`
	NodeErrs map[string]any `json:"node_errors"`
}

type queueResponse struct {
	Running [][]json.RawMessage `json:"queue_running"`
	Pending [][]json.RawMessage `json:"queue_pending"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("comfy: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SubmitPrompt enqueues a workflow graph and returns the backend-assigned
// prompt id. clientID is echoed back by the backend in history entries and
// serves as a secondary correlation field.
func (c *Client) SubmitPrompt(ctx context.Context, workflow json.RawMessage, clientID string) (string, error) {
	if len(workflow) == 0 {
		return "", errors.New("comfy: workflow is required")
	}
	body, err := json.Marshal(promptRequest{Prompt: workflow, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("comfy: read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("comfy: submit rejected")
		return "", fmt.Errorf("%w: status %d: %s", ErrSubmitRejected, resp.StatusCode, truncate(raw, 256))
	}
	var parsed promptResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("comfy: decode submit response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrSubmitRejected, parsed.Error)
	}
	if parsed.PromptID == "" {
		return "", fmt.Errorf("%w: missing prompt id", ErrSubmitRejected)
	}
	return parsed.PromptID, nil
}

// RunningPromptIDs returns the prompt ids currently executing on the
// backend. Queue entries are positional tuples; index 1 is the prompt id.
func (c *Client) RunningPromptIDs(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: queue: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: queue: status %d", resp.StatusCode)
	}
	var parsed queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("comfy: decode queue: %w", err)
	}
	var ids []string
	for _, entry := range parsed.Running {
		if len(entry) < 2 {
			continue
		}
		var id string
		if err := json.Unmarshal(entry[1], &id); err != nil {
			continue
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// History returns the backend's resolved prompt log keyed by prompt id.
func (c *Client) History(ctx context.Context) (map[string]HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: history: status %d", resp.StatusCode)
	}
	var parsed map[string]HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("comfy: decode history: %w", err)
	}
	return parsed, nil
}

// ViewURL builds the retrieval URL for an output descriptor. The link shape
// predates artifact persistence and is kept for backward compatibility.
func (c *Client) ViewURL(d OutputDescriptor) string {
	q := url.Values{}
	q.Set("filename", d.Filename)
	q.Set("subfolder", d.Subfolder)
	q.Set("type", d.Type)
	return c.baseURL + "/view?" + q.Encode()
}

// FetchOutput downloads the bytes of one output descriptor.
func (c *Client) FetchOutput(ctx context.Context, d OutputDescriptor) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ViewURL(d), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: fetch output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: fetch output %q: status %d", d.Filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
