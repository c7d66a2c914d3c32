package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/starford/notesearch/internal/apperr"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
}

// OpenAI generates embeddings through langchaingo.
type OpenAI struct {
	embedder embeddings.Embedder
	dim      int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates the provider. Local OpenAI-compatible servers that need no
// key are addressed with the token "none".
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: create client: %w", err)
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai: create embedder: %w", err)
	}
	return &OpenAI{embedder: e, dim: cfg.Dimensions}, nil
}

// Dimension implements Embedder.
func (o *OpenAI) Dimension() int { return o.dim }

// Encode implements Embedder.
func (o *OpenAI) Encode(ctx context.Context, text string) ([]float32, error) {
	vec, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", apperr.ErrEncodingFailed, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: openai returned an empty vector", apperr.ErrEncodingFailed)
	}
	return vec, nil
}
