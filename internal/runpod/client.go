package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genserver/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("runpod: api key is required")

// ErrMissingEndpoint indicates that no serverless endpoint id is configured.
var ErrMissingEndpoint = errors.New("runpod: endpoint id is required")

// Options configures the serverless GPU provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	EndpointID     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits work to a RunPod-style serverless endpoint. Completion is
// delivered by webhook, so the client has no polling surface.
type Client struct {
	apiKey     string
	baseURL    string
	endpointID string
	httpClient *http.Client
	logger     *infra.Logger
}

type runRequest struct {
	Input   json.RawMessage `json:"input"`
	Webhook string          `json:"webhook,omitempty"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.ai/v2"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
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
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		endpointID: strings.TrimSpace(opts.EndpointID),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.endpointID != ""
}

// Run submits an asynchronous work unit and registers webhookURL for the
// completion callback. Returns the provider-assigned job id.
func (c *Client) Run(ctx context.Context, input json.RawMessage, webhookURL string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if c.endpointID == "" {
		return "", ErrMissingEndpoint
	}
	body, err := json.Marshal(runRequest{Input: input, Webhook: webhookURL})
	if err != nil {
		return "", fmt.Errorf("runpod: encode run request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/run", c.baseURL, c.endpointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("runpod: run: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("runpod: read run response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("runpod: run rejected")
		return "", fmt.Errorf("runpod: run: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed runResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("runpod: decode run response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("runpod: run: %s", parsed.Error)
	}
	if parsed.ID == "" {
		return "", errors.New("runpod: run response missing job id")
	}
	return parsed.ID, nil
}
