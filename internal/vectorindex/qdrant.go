package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex implements Index against two Qdrant collections: one holding
// 384-dim prefilter points and one holding 768-dim rerank points, mirroring
// the two pgvector columns the Postgres backend uses. Point ids are the
// signal/subspace integer ids themselves.
type QdrantIndex struct {
	client   *qdrant.Client
	coll384  string
	coll768  string
}

// NewQdrantIndex wraps an already-dialed client and assumes both
// collections exist (created by the deployment's provisioning step).
func NewQdrantIndex(client *qdrant.Client, coll384, coll768 string) *QdrantIndex {
	return &QdrantIndex{client: client, coll384: coll384, coll768: coll768}
}

func qdrantFilter(f Filters) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch("user_id", f.UserID)}
	if f.SpaceID != nil {
		must = append(must, qdrant.NewMatchInt("space_id", *f.SpaceID))
	}
	if f.SubspaceID != nil {
		must = append(must, qdrant.NewMatchInt("subspace_id", *f.SubspaceID))
	}
	if f.ExcludeNullCentroid {
		must = append(must, qdrant.NewMatchBool("has_centroid", true))
	}
	return &qdrant.Filter{Must: must}
}

func (q *QdrantIndex) search(ctx context.Context, collection string, vec []float32, k int, f Filters) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	limit := uint64(k)
	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qdrantFilter(f),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: qdrant query %s: %w", collection, err)
	}
	out := make([]Hit, 0, len(res))
	for _, hit := range res {
		id, err := strconv.ParseInt(pointIDString(hit.Id), 10, 64)
		if err != nil {
			continue
		}
		// Qdrant scores cosine similarity directly; convert to distance.
		out = append(out, Hit{ID: id, Distance: 1 - float64(hit.Score)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if n := id.GetNum(); n != 0 {
		return strconv.FormatUint(n, 10)
	}
	return id.GetUuid()
}

// KNN384 implements Index.
func (q *QdrantIndex) KNN384(ctx context.Context, f Filters, q384 []float32, k int) ([]Hit, error) {
	return q.search(ctx, q.coll384, q384, k, f)
}

// KNN768 implements Index.
func (q *QdrantIndex) KNN768(ctx context.Context, f Filters, q768 []float32, k int) ([]Hit, error) {
	return q.search(ctx, q.coll768, q768, k, f)
}

// SearchMatryoshka prefilters against the 384-dim collection, then
// re-scores the candidate ids against the 768-dim collection with a
// payload-based id filter, same two-stage shape as the Postgres backend.
func (q *QdrantIndex) SearchMatryoshka(ctx context.Context, f Filters, q384, q768 []float32, k, prefilterK int, threshold float64) ([]MatryoshkaHit, error) {
	if prefilterK <= 0 {
		prefilterK = 10 * max(k, 1)
	}
	prefiltered, err := q.KNN384(ctx, f, q384, prefilterK)
	if err != nil {
		return nil, err
	}
	if len(prefiltered) == 0 {
		return nil, nil
	}
	ids := make([]uint64, len(prefiltered))
	for i, h := range prefiltered {
		ids[i] = uint64(h.ID)
	}
	limit := uint64(len(ids))
	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.coll768,
		Query:          qdrant.NewQueryDense(q768),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewHasID(idsToPointIDs(ids)...)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: qdrant rerank: %w", err)
	}
	var hits []MatryoshkaHit
	for _, hit := range res {
		id, err := strconv.ParseInt(pointIDString(hit.Id), 10, 64)
		if err != nil {
			continue
		}
		dist := 1 - float64(hit.Score)
		if dist <= 1-threshold {
			hits = append(hits, MatryoshkaHit{ID: id, Distance: dist, Similarity: 1 - dist})
		}
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

func idsToPointIDs(ids []uint64) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDNum(id)
	}
	return out
}
