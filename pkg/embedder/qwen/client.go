// Package qwen provides an embedding provider backed by the Alibaba Cloud
// DashScope text embedding API.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/synaptek/memoria/pkg/memory"
)

// Client implements the embedder.Provider interface on top of the DashScope
// text embedding endpoint.
type Client struct {
	client     *http.Client
	apiKey     string
	model      string
	baseURL    string
	dimensions int
}

// Config configures the DashScope embedding provider.
type Config struct {
	// APIKey is the DashScope API key (required).
	APIKey string

	// Model is the embedding model name. Defaults to text-embedding-v4.
	Model string

	// BaseURL overrides the API base URL (optional).
	BaseURL string

	// Dimensions is the expected vector dimensionality. Defaults to 1536.
	Dimensions int

	// HTTPClient overrides the HTTP client (optional).
	HTTPClient *http.Client
}

// NewClient creates a new DashScope embedding provider.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("qwen embedder: api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/api/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-v4"
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		client:     client,
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text into a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("qwen embedder: no embeddings returned")
	}
	return vectors[0], nil
}

// EmbedBatch converts multiple texts into vectors in one request. The
// result preserves input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors, err := c.request(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("qwen embedder: got %d embeddings for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (c *Client) request(ctx context.Context, texts []string) ([][]float64, error) {
	reqBody := map[string]interface{}{
		"model":     c.model,
		"input":     map[string]interface{}{"texts": texts},
		"text_type": "document",
	}
	if c.dimensions > 0 {
		reqBody["parameters"] = map[string]interface{}{"dimension": c.dimensions}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("qwen embedder: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/services/embeddings/text-embedding/text-embedding", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("qwen embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen embedder: %w: %v", memory.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qwen embedder: %w: status %d: %s", memory.ErrExternalService, resp.StatusCode, string(body))
	}

	var response struct {
		Output struct {
			Embeddings []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"embeddings"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("qwen embedder: decode response: %w", err)
	}

	vectors := make([][]float64, len(response.Output.Embeddings))
	for i, emb := range response.Output.Embeddings {
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

// Dimensions returns the vector dimensionality.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the HTTP client needs no explicit shutdown.
func (c *Client) Close() error {
	return nil
}
