package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/starford/notesearch/internal/apperr"
)

// DefaultHashDimension is the vector size of the hash model.
const DefaultHashDimension = 384

// Hash is a local feature-hashing model. Each lowercased word and each of its
// character trigrams is hashed into a signed bucket; the result is
// L2-normalised. Texts sharing words or word fragments end up close in cosine
// space, which is enough for title/folder similarity without a model server.
type Hash struct {
	dim int
}

var _ Embedder = (*Hash)(nil)

// NewHash creates a hash model with dim buckets (DefaultHashDimension if <= 0).
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &Hash{dim: dim}
}

// Dimension implements Embedder.
func (h *Hash) Dimension() int { return h.dim }

// Encode implements Embedder.
func (h *Hash) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := Words(text)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: no tokens in input", apperr.ErrEncodingFailed)
	}

	v := make([]float32, h.dim)
	for _, w := range words {
		h.add(v, "w:"+w, 1.0)
		padded := "^" + w + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(v, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	return Normalize(v), nil
}

func (h *Hash) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Words splits text into lowercased letter/digit runs.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
