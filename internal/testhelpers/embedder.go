package testhelpers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"misir/internal/domain"
	"misir/internal/embedding"
)

// DeterministicEmbedder produces a reproducible, content-derived unit-L2
// vector without a network round trip: hash the input into pseudo-random
// components, then normalize. It mirrors embedding.Provider's asymmetric
// role prefixing and Matryoshka truncation, since assignment/search call
// EmbedDocument and EmbedQuery as distinct vectors.
type DeterministicEmbedder struct {
	Dim int
}

// NewDeterministicEmbedder returns an embedder producing dim-length
// vectors (default 768 when dim <= 0).
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &DeterministicEmbedder{Dim: dim}
}

func hashVector(seed string, dim int) []float32 {
	v := make([]float32, dim)
	block := []byte(seed)
	for i := 0; i < dim; i++ {
		j := i % 8 // 8 uint32s fit in a 32-byte sha256 digest
		if j == 0 {
			sum := sha256.Sum256(block)
			block = sum[:]
		}
		u := binary.BigEndian.Uint32(block[j*4 : j*4+4])
		v[i] = float32(u%2000)/1000 - 1 // in [-1, 1)
	}
	return domain.Normalize(v)
}

// EmbedDocument implements the assignment.Embedder / search.Embedder
// contract.
func (e *DeterministicEmbedder) EmbedDocument(_ context.Context, text string, dim int) (embedding.Result, error) {
	return e.embed("doc:"+text, text, dim)
}

// EmbedQuery implements the assignment.Embedder / search.Embedder
// contract with a distinct role prefix, so doc and query vectors for the
// same text differ just like embedding.Provider's real role tokens.
func (e *DeterministicEmbedder) EmbedQuery(_ context.Context, text string, dim int) (embedding.Result, error) {
	return e.embed("query:"+text, text, dim)
}

func (e *DeterministicEmbedder) embed(seed, text string, dim int) (embedding.Result, error) {
	if dim <= 0 {
		dim = e.Dim
	}
	full := hashVector(seed, e.Dim)
	vec := domain.TruncateAndNormalize(full, dim)
	sum := sha256.Sum256([]byte(text))
	return embedding.Result{Vector: vec, Dim: dim, Model: "deterministic-fake", Hash: string(sum[:8])}, nil
}
