package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresIndex implements Index over two pgvector columns on the signals
// table (vec_384, vec_768) and, for margin queries, over the matching
// columns on the subspaces table. Uses the `<=>` cosine-distance operator
// throughout.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex wires a PostgresIndex to an already-open pool. Table
// creation and ivfflat index tuning are the store's migration concern, not
// this type's.
func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

func (p *PostgresIndex) table(f Filters) string {
	if f.ExcludeNullCentroid {
		return "subspaces"
	}
	return "signals"
}

func (p *PostgresIndex) vecColumn(dim int) string {
	if dim <= 384 {
		return "vec_384"
	}
	return "vec_768"
}

func (p *PostgresIndex) buildWhere(f Filters, vecCol string, args *[]any) string {
	conds := []string{"deleted_at IS NULL", "user_id = " + p.arg(args, f.UserID)}
	if f.SpaceID != nil {
		conds = append(conds, "space_id = "+p.arg(args, *f.SpaceID))
	}
	if f.SubspaceID != nil {
		conds = append(conds, "subspace_id = "+p.arg(args, *f.SubspaceID))
	}
	if f.ExcludeNullCentroid {
		conds = append(conds, vecCol+" IS NOT NULL")
	}
	return strings.Join(conds, " AND ")
}

func (p *PostgresIndex) arg(args *[]any, v any) string {
	*args = append(*args, v)
	return fmt.Sprintf("$%d", len(*args))
}

func (p *PostgresIndex) knn(ctx context.Context, f Filters, q []float32, k, dim int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	vecCol := p.vecColumn(dim)
	var args []any
	where := p.buildWhere(f, vecCol, &args)
	qArg := p.arg(&args, pgvector.NewVector(q))
	args = append(args, k)
	kArg := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(
		`SELECT id, %s <=> %s AS distance FROM %s WHERE %s ORDER BY %s <=> %s ASC, id ASC LIMIT %s`,
		vecCol, qArg, p.table(f), where, vecCol, qArg, kArg,
	)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: knn query: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Distance); err != nil {
			return nil, fmt.Errorf("vectorindex: scan knn row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// KNN384 implements Index.
func (p *PostgresIndex) KNN384(ctx context.Context, f Filters, q384 []float32, k int) ([]Hit, error) {
	return p.knn(ctx, f, q384, k, 384)
}

// KNN768 implements Index.
func (p *PostgresIndex) KNN768(ctx context.Context, f Filters, q768 []float32, k int) ([]Hit, error) {
	return p.knn(ctx, f, q768, k, 768)
}

// SearchMatryoshka implements Index: prefilter by the 384-dim column,
// rerank the candidate set by the 768-dim column, then apply the
// similarity threshold.
func (p *PostgresIndex) SearchMatryoshka(ctx context.Context, f Filters, q384, q768 []float32, k, prefilterK int, threshold float64) ([]MatryoshkaHit, error) {
	if prefilterK <= 0 {
		prefilterK = 10 * max(k, 1)
	}
	candidates, err := p.KNN384(ctx, f, q384, prefilterK)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: matryoshka prefilter: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	var args []any
	idsArg := p.arg(&args, ids)
	qArg := p.arg(&args, pgvector.NewVector(q768))
	query := fmt.Sprintf(
		`SELECT id, vec_768 <=> %s AS distance FROM %s WHERE id = ANY(%s) AND deleted_at IS NULL ORDER BY distance ASC, id ASC`,
		qArg, p.table(f), idsArg,
	)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: matryoshka rerank: %w", err)
	}
	defer rows.Close()

	var hits []MatryoshkaHit
	for rows.Next() {
		var h MatryoshkaHit
		if err := rows.Scan(&h.ID, &h.Distance); err != nil {
			return nil, fmt.Errorf("vectorindex: scan rerank row: %w", err)
		}
		h.Similarity = 1 - h.Distance
		if h.Distance <= 1-threshold {
			hits = append(hits, h)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
