// Package embedder wraps text embedding models behind a narrow Encode contract.
//
// Providers:
//
//   - hash: deterministic local feature-hashing model, no network (default)
//   - ollama: Ollama /api/embed endpoint
//   - openai: any OpenAI-compatible endpoint through langchaingo
//
// Models are created through a Factory so that callers can initialise them
// lazily and retry after a failed start.
package embedder

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Embedder turns text into a dense vector. Implementations must be safe for
// concurrent use and deterministic for identical input.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector size, or 0 if not known until first use.
	Dimension() int
}

// Factory creates an Embedder. It may fail, e.g. when a model server is down.
type Factory func() (Embedder, error)

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	CacheSize  int
	Timeout    time.Duration
}

// NewFactory returns a Factory for cfg. Remote providers are checked when the
// factory runs, so an unreachable server surfaces as an initialisation error.
func NewFactory(cfg Config) Factory {
	return func() (Embedder, error) {
		var (
			e   Embedder
			err error
		)
		switch strings.ToLower(cfg.Provider) {
		case "", ProviderHash:
			e = NewHash(cfg.Dimensions)
		case ProviderOllama:
			e, err = NewOllama(OllamaConfig{
				BaseURL:    cfg.BaseURL,
				Model:      cfg.Model,
				Timeout:    cfg.Timeout,
				Dimensions: cfg.Dimensions,
			})
		case ProviderOpenAI:
			e, err = NewOpenAI(OpenAIConfig{
				BaseURL:    cfg.BaseURL,
				Model:      cfg.Model,
				APIKey:     cfg.APIKey,
				Dimensions: cfg.Dimensions,
			})
		default:
			return nil, fmt.Errorf("embedder: unknown provider %q", cfg.Provider)
		}
		if err != nil {
			return nil, err
		}
		if cfg.CacheSize > 0 {
			return NewCached(e, cfg.CacheSize), nil
		}
		return e, nil
	}
}

// CosineSimilarity returns dot(a,b)/(|a|*|b|). It is 0 when either vector has
// zero norm or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length in place and returns it. Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
