package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/pgvector/pgvector-go"
	"github.com/viterin/vek/vek32"
)

// HashProvider embeds text by feature hashing: each lowercase word token adds
// a signed unit to one of dims buckets, and the result is L2-normalized.
// Texts sharing vocabulary land close together, which is enough for local
// runs and tests. Empty text yields the zero vector.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a feature-hashing provider.
func NewHashProvider(dims int) *HashProvider {
	return &HashProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashProvider) Dimensions() int {
	return p.dims
}

// Embed hashes text into a vector.
func (p *HashProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	return pgvector.NewVector(p.hash(text)), nil
}

// EmbedBatch hashes each text.
func (p *HashProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		vecs[i] = pgvector.NewVector(p.hash(t))
	}
	return vecs, nil
}

func (p *HashProvider) hash(text string) []float32 {
	v := make([]float32, p.dims)
	if p.dims == 0 {
		return v
	}
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dims)) //nolint:gosec // dims is positive
		if sum>>63 == 1 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}
	if n := vek32.Norm(v); n > 0 {
		vek32.DivNumber_Inplace(v, n)
	}
	return v
}
