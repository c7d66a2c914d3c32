package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/starford/notesearch/internal/apperr"
)

// Ollama defaults.
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
	DefaultOllamaTimeout = 30 * time.Second
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Dimensions int
}

// Ollama generates embeddings with a local Ollama server.
type Ollama struct {
	client  *http.Client
	baseURL string
	model   string
	dim     int
}

var _ Embedder = (*Ollama)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllama creates the provider and checks that the server is reachable.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	o := &Ollama{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		dim:     cfg.Dimensions,
	}
	if err := o.ping(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Ollama) ping() error {
	resp, err := o.client.Get(o.baseURL + "/api/tags")
	if err != nil {
		return fmt.Errorf("ollama: unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check status %d", resp.StatusCode)
	}
	return nil
}

// Dimension implements Embedder.
func (o *Ollama) Dimension() int { return o.dim }

// Encode implements Embedder.
func (o *Ollama) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", apperr.ErrEncodingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: ollama status %d: %s", apperr.ErrEncodingFailed, resp.StatusCode, msg)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: ollama: decode response: %v", apperr.ErrEncodingFailed, err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: ollama returned empty embeddings", apperr.ErrEncodingFailed)
	}
	return out.Embeddings[0], nil
}
