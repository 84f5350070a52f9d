package embedding

import (
	"context"
	"fmt"
	"sync"

	"misir/internal/apperrors"
	"misir/internal/config"
	"misir/internal/domain"
)

// Valid Matryoshka output dimensions.
var validDims = map[int]bool{768: true, 384: true, 256: true, 128: true, 64: true}

const (
	docRoleToken   = "search_document: "
	queryRoleToken = "search_query: "
)

// Result is the output of an embed_document/embed_query call.
type Result struct {
	Vector []float32
	Dim    int
	Model  string
	Hash   string
}

// Provider is the process-lifetime embedding service object: model load is
// lazy and guarded by a mutex (init only; inference is re-entrant), and a
// bounded cache holds the full-dimension encoding keyed by role-prefixed
// text. Lower dimensions are produced by truncating and renormalizing.
type Provider struct {
	cfg   config.EmbeddingConfig
	cache *vectorCache

	loadOnce sync.Once
	loadErr  error
}

// NewProvider constructs a Provider. The embedding model is not contacted
// until the first EmbedDocument/EmbedQuery call.
func NewProvider(cfg config.EmbeddingConfig) *Provider {
	return &Provider{cfg: cfg, cache: newVectorCache(DefaultCacheSize, DefaultCacheTTL)}
}

func (p *Provider) ensureReachable(ctx context.Context) error {
	p.loadOnce.Do(func() {
		p.loadErr = CheckReachability(ctx, p.cfg)
	})
	return p.loadErr
}

// EmbedDocument implements embed_document(text, dim).
func (p *Provider) EmbedDocument(ctx context.Context, text string, dim int) (Result, error) {
	return p.embed(ctx, text, dim, docRoleToken)
}

// EmbedQuery implements embed_query(text, dim), using the asymmetric query
// role token.
func (p *Provider) EmbedQuery(ctx context.Context, text string, dim int) (Result, error) {
	return p.embed(ctx, text, dim, queryRoleToken)
}

func (p *Provider) embed(ctx context.Context, text string, dim int, role string) (Result, error) {
	if text == "" {
		return Result{}, apperrors.NewValidation("embedding text must not be empty", nil)
	}
	if !validDims[dim] {
		return Result{}, apperrors.NewValidation("unsupported embedding dimension", map[string]any{"dim": dim})
	}

	prefixed := role + text
	full, ok := p.cache.get(prefixed)
	if !ok {
		if err := p.ensureReachable(ctx); err != nil {
			return Result{}, apperrors.NewEmbedding("model unavailable", err)
		}
		vecs, err := rawEmbed(ctx, p.cfg, []string{prefixed})
		if err != nil {
			return Result{}, apperrors.NewEmbedding("embed", err)
		}
		full = vecs[0]
		full = domain.Normalize(full)
		p.cache.set(prefixed, full)
	}

	vec := domain.TruncateAndNormalize(full, dim)
	if !domain.IsUnitL2(vec, 1e-6) && len(vec) > 0 {
		// Extremely small vectors can fall outside tolerance due to float32
		// rounding; re-normalize once more defensively.
		vec = domain.Normalize(vec)
	}
	return Result{Vector: vec, Dim: dim, Model: p.cfg.Model, Hash: contentHash(text)}, nil
}

// CacheSize reports the number of distinct role-prefixed texts cached.
func (p *Provider) CacheSize() int { return p.cache.size() }

// BatchEmbedDocuments embeds many texts, one EmbedDocument call per text;
// per-item errors do not abort the batch.
func (p *Provider) BatchEmbedDocuments(ctx context.Context, texts []string, dim int) ([]Result, []error) {
	results := make([]Result, len(texts))
	errs := make([]error, len(texts))
	for i, t := range texts {
		r, err := p.EmbedDocument(ctx, t, dim)
		results[i], errs[i] = r, err
	}
	return results, errs
}

// String is useful in logs and error context maps.
func (r Result) String() string {
	return fmt.Sprintf("Result{dim=%d model=%s hash=%s}", r.Dim, r.Model, r.Hash)
}
