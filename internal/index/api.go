// Package index provides the append-only similarity indexes backing the
// vector store. Indexes never support native deletion: owners delete by
// constructing a fresh index and re-adding what they keep.
package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/viant/vec/search"

	"study-rag/internal/models"
)

// Kind selects the index structure.
type Kind string

const (
	KindFlat Kind = "flat"
	KindIVF  Kind = "ivf"
	KindHNSW Kind = "hnsw"
)

// Metric selects the distance vectors are ranked by. L2 ranks ascending by
// Euclidean distance, IP ranks descending by inner product; callers must not
// conflate the two orderings.
type Metric string

const (
	MetricL2 Metric = "l2"
	MetricIP Metric = "ip"
)

// Sentinel is the id filling search slots with no match. Callers skip these.
const Sentinel int64 = -1

// Index is an append-only similarity index over fixed-width vectors.
type Index interface {
	Kind() Kind
	Metric() Metric
	Dimension() int

	// Trained reports readiness. Flat indexes start trained; clustered ones
	// become trained through exactly one Train call.
	Trained() bool
	// Train prepares the structure from a training sample. Training an
	// already trained index is an error.
	Train(vectors [][]float32) error

	// Add appends vectors, preserving insertion order as their ids.
	Add(vectors [][]float32) error
	// Search returns exactly k id/distance slots ranked by the metric,
	// padded with Sentinel ids when fewer matches exist.
	Search(query []float32, k int) (ids []int64, distances []float32, err error)

	// Ntotal is the number of stored vectors.
	Ntotal() int
	// Vectors returns the stored vectors in insertion order. The returned
	// slices are shared with the index and must not be mutated.
	Vectors() [][]float32

	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// New constructs an empty index: flat and hnsw ones start ready, IVF ones
// untrained.
func New(kind Kind, metric Metric, dim, nlist, nprobe int) (Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index: dimension %d: %w", dim, models.ErrValidation)
	}
	switch metric {
	case MetricL2, MetricIP:
	default:
		return nil, fmt.Errorf("index: unknown metric %q: %w", metric, models.ErrValidation)
	}
	switch kind {
	case KindFlat:
		return NewFlat(dim, metric), nil
	case KindIVF:
		return NewIVFFlat(dim, metric, nlist, nprobe), nil
	case KindHNSW:
		return NewHNSWFlat(dim, metric, hnswM), nil
	default:
		return nil, fmt.Errorf("index: unknown kind %q: %w", kind, models.ErrValidation)
	}
}

type scored struct {
	id   int64
	dist float32
}

// rank scores candidates against query and returns exactly k slots ordered
// by metric, padding with Sentinel. A nil candidate list scans all of vecs.
func rank(query []float32, candidates []int32, vecs [][]float32, metric Metric, k int) ([]int64, []float32) {
	var scoreds []scored
	score := func(pos int32) {
		var d float32
		if metric == MetricIP {
			d = dot(query, vecs[pos])
		} else {
			d = search.Float32s(query).EuclideanDistance(vecs[pos])
		}
		scoreds = append(scoreds, scored{id: int64(pos), dist: d})
	}
	if candidates == nil {
		scoreds = make([]scored, 0, len(vecs))
		for pos := range vecs {
			score(int32(pos))
		}
	} else {
		scoreds = make([]scored, 0, len(candidates))
		for _, pos := range candidates {
			score(pos)
		}
	}
	sort.Slice(scoreds, func(a, b int) bool {
		if metric == MetricIP {
			return scoreds[a].dist > scoreds[b].dist
		}
		return scoreds[a].dist < scoreds[b].dist
	})
	ids := make([]int64, k)
	dists := make([]float32, k)
	for i := 0; i < k; i++ {
		if i < len(scoreds) {
			ids[i] = scoreds[i].id
			dists[i] = scoreds[i].dist
			continue
		}
		ids[i] = Sentinel
		if metric == MetricIP {
			dists[i] = -math.MaxFloat32
		} else {
			dists[i] = math.MaxFloat32
		}
	}
	return ids, dists
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// checkVectors verifies every vector has width dim.
func checkVectors(vectors [][]float32, dim int) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("index: vector %d has dimension %d, expected %d: %w", i, len(v), dim, models.ErrValidation)
		}
	}
	return nil
}

// checkQuery verifies the query width and result count.
func checkQuery(query []float32, dim, k int) error {
	if len(query) != dim {
		return fmt.Errorf("index: query dimension %d, expected %d: %w", len(query), dim, models.ErrValidation)
	}
	if k <= 0 {
		return fmt.Errorf("index: k %d: %w", k, models.ErrValidation)
	}
	return nil
}
