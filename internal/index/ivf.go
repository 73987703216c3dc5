package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/viant/vec/search"

	"study-rag/internal/models"
)

const kmeansIterations = 25

// IVFFlat clusters vectors into inverted lists and probes only the nprobe
// nearest lists at search time. Results are approximate: a probe can return
// fewer than k real hits even when the index holds more vectors. The index
// starts untrained; exactly one Train call readies it.
type IVFFlat struct {
	dim     int
	metric  Metric
	nlist   int
	nprobe  int
	trained bool

	centroids [][]float32
	lists     [][]int32
	assign    []int32
	vecs      [][]float32
}

// NewIVFFlat returns an untrained IVF index. nlist is capped later by the
// training sample size; nprobe below 1 probes one list.
func NewIVFFlat(dim int, metric Metric, nlist, nprobe int) *IVFFlat {
	if nlist < 1 {
		nlist = 1
	}
	return &IVFFlat{dim: dim, metric: metric, nlist: nlist, nprobe: nprobe}
}

func (ix *IVFFlat) Kind() Kind           { return KindIVF }
func (ix *IVFFlat) Metric() Metric       { return ix.metric }
func (ix *IVFFlat) Dimension() int       { return ix.dim }
func (ix *IVFFlat) Trained() bool        { return ix.trained }
func (ix *IVFFlat) Ntotal() int          { return len(ix.vecs) }
func (ix *IVFFlat) Vectors() [][]float32 { return ix.vecs }

// Train clusters the sample with k-means and readies the inverted lists.
func (ix *IVFFlat) Train(vectors [][]float32) error {
	if ix.trained {
		return fmt.Errorf("index: ivf index already trained: %w", models.ErrValidation)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("index: ivf training needs vectors: %w", models.ErrValidation)
	}
	if err := checkVectors(vectors, ix.dim); err != nil {
		return err
	}
	nlist := ix.nlist
	if nlist > len(vectors) {
		nlist = len(vectors)
	}
	ix.nlist = nlist
	ix.centroids = kmeans(vectors, nlist, kmeansIterations)
	ix.lists = make([][]int32, nlist)
	ix.trained = true
	return nil
}

func (ix *IVFFlat) Add(vectors [][]float32) error {
	if !ix.trained {
		return fmt.Errorf("index: adding to untrained ivf index: %w", models.ErrValidation)
	}
	if err := checkVectors(vectors, ix.dim); err != nil {
		return err
	}
	for _, v := range vectors {
		pos := int32(len(ix.vecs))
		c := int32(nearestCentroid(v, ix.centroids))
		ix.lists[c] = append(ix.lists[c], pos)
		ix.assign = append(ix.assign, c)
		ix.vecs = append(ix.vecs, v)
	}
	return nil
}

func (ix *IVFFlat) Search(query []float32, k int) ([]int64, []float32, error) {
	if !ix.trained {
		return nil, nil, fmt.Errorf("index: searching untrained ivf index: %w", models.ErrValidation)
	}
	if err := checkQuery(query, ix.dim, k); err != nil {
		return nil, nil, err
	}
	nprobe := ix.nprobe
	if nprobe < 1 {
		nprobe = 1
	}
	if nprobe > len(ix.centroids) {
		nprobe = len(ix.centroids)
	}
	order := centroidOrder(query, ix.centroids)
	var candidates []int32
	for _, c := range order[:nprobe] {
		candidates = append(candidates, ix.lists[c]...)
	}
	if candidates == nil {
		candidates = []int32{}
	}
	ids, dists := rank(query, candidates, ix.vecs, ix.metric, k)
	return ids, dists, nil
}

// MarshalBinary stores: dim(uint32), n(uint32), trained(uint8),
// ncent(uint32), centroids, assignment(uint32) per vector, then the vectors,
// all little-endian. nprobe is runtime configuration and is not persisted.
func (ix *IVFFlat) MarshalBinary() ([]byte, error) {
	n := len(ix.vecs)
	ncent := len(ix.centroids)
	out := make([]byte, 0, 13+4*ix.dim*(n+ncent)+4*n)
	putU32 := func(v uint32) { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); out = append(out, b...) }
	putF32 := func(v float32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		out = append(out, b...)
	}
	putU32(uint32(ix.dim))
	putU32(uint32(n))
	if ix.trained {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	putU32(uint32(ncent))
	for _, c := range ix.centroids {
		for j := 0; j < ix.dim; j++ {
			putF32(c[j])
		}
	}
	for _, a := range ix.assign {
		putU32(uint32(a))
	}
	for _, vec := range ix.vecs {
		for j := 0; j < ix.dim; j++ {
			putF32(vec[j])
		}
	}
	return out, nil
}

// UnmarshalBinary restores the index from bytes produced by MarshalBinary.
func (ix *IVFFlat) UnmarshalBinary(data []byte) error {
	if len(data) < 13 {
		return errors.New("index: ivf data truncated")
	}
	off := 0
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(data[off : off+4]); off += 4; return v }
	getF32 := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		return v
	}
	dim := int(getU32())
	n := int(getU32())
	trained := data[off] == 1
	off++
	ncent := int(getU32())
	if dim != ix.dim {
		return fmt.Errorf("index: ivf data dimension %d, expected %d: %w", dim, ix.dim, models.ErrValidation)
	}
	if len(data) != 13+4*dim*(n+ncent)+4*n {
		return errors.New("index: ivf data truncated")
	}
	centroids := make([][]float32, ncent)
	for i := range centroids {
		c := make([]float32, dim)
		for j := 0; j < dim; j++ {
			c[j] = getF32()
		}
		centroids[i] = c
	}
	assign := make([]int32, n)
	lists := make([][]int32, ncent)
	for i := 0; i < n; i++ {
		a := int32(getU32())
		if a < 0 || int(a) >= ncent {
			return errors.New("index: ivf assignment out of range")
		}
		assign[i] = a
		lists[a] = append(lists[a], int32(i))
	}
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = getF32()
		}
		vecs[i] = vec
	}
	ix.trained = trained
	if ncent > 0 {
		ix.nlist = ncent
	}
	ix.centroids = centroids
	ix.lists = lists
	ix.assign = assign
	ix.vecs = vecs
	return nil
}

// kmeans runs bounded Lloyd iterations with deterministic, evenly spaced
// seeding. A cluster that empties keeps its previous centroid.
func kmeans(vectors [][]float32, k, iterations int) [][]float32 {
	n := len(vectors)
	dim := len(vectors[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		c := make([]float32, dim)
		copy(c, vectors[i*n/k])
		centroids[i] = c
	}
	assign := make([]int, n)
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assign[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += float64(x)
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			for j := range centroids[i] {
				centroids[i][j] = float32(sums[i][j] / float64(counts[i]))
			}
		}
	}
	return centroids
}

// nearestCentroid picks the closest centroid by Euclidean distance; list
// assignment uses spatial proximity regardless of the search metric.
func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestD := float32(math.MaxFloat32)
	q := search.Float32s(v)
	for i, c := range centroids {
		if d := q.EuclideanDistance(c); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// centroidOrder returns centroid indexes sorted by distance to query.
func centroidOrder(query []float32, centroids [][]float32) []int {
	order := make([]int, len(centroids))
	dists := make([]float32, len(centroids))
	q := search.Float32s(query)
	for i, c := range centroids {
		order[i] = i
		dists[i] = q.EuclideanDistance(c)
	}
	sort.Slice(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })
	return order
}
