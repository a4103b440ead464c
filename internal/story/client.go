// Package story generates quest narratives from ticket snapshots, with a
// deterministic fallback when the text model is unavailable.
package story

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	qerrors "github.com/q-forge/questbot/internal/errors"
)

// HTTPClient allows tests to stub the transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ModelOptions are the sampling parameters sent with every generate call.
type ModelOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumPredict  int     `json:"num_predict"`
}

// ModelClient talks to an Ollama-compatible text-generation endpoint.
type ModelClient struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	logger     zerolog.Logger
}

// NewModelClient creates a model client. apiKey may be empty for unsecured
// local endpoints.
func NewModelClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *ModelClient {
	return &ModelClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "model-client").Logger(),
	}
}

// SetHTTPClient replaces the transport (for testing).
func (c *ModelClient) SetHTTPClient(hc HTTPClient) { c.httpClient = hc }

type generateRequest struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Stream  bool         `json:"stream"`
	Options ModelOptions `json:"options"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a single non-streaming completion and returns the text.
func (c *ModelClient) Generate(ctx context.Context, model, prompt string, opts ModelOptions) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: opts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generate response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", qerrors.NewAPIError("model", resp.StatusCode, string(data))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode generate response: %w", err)
	}
	return out.Response, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// HasModel reports whether the endpoint serves the named model. Used as the
// generator health check.
func (c *ModelClient) HasModel(ctx context.Context, model string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create tags request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("tags request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read tags response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return false, qerrors.NewAPIError("model", resp.StatusCode, string(data))
	}

	var out tagsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("failed to decode tags response: %w", err)
	}
	for _, m := range out.Models {
		if m.Name == model {
			return true, nil
		}
	}
	return false, nil
}
