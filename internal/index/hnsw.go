package index

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/viant/vec/search"

	"study-rag/internal/models"
)

const (
	// hnswM is the default per-layer link budget; layer 0 keeps up to twice
	// this many links.
	hnswM = 32
	// hnswEfConstruction and hnswEfSearch bound the breadth of the best-first
	// sweep during insertion and search.
	hnswEfConstruction = 40
	hnswEfSearch       = 16
	// hnswLevelSeed fixes the layer draws so the same inputs build the same
	// graph.
	hnswLevelSeed = 12345
)

// HNSWFlat is a navigable small-world graph index: nodes link to near
// neighbors across stacked layers, and a search descends the layers greedily
// before sweeping layer 0 best-first. Results are approximate once the swept
// neighborhood no longer covers the whole graph. Like Flat it starts trained;
// the graph builds incrementally as vectors arrive.
type HNSWFlat struct {
	dim    int
	metric Metric
	m      int

	efConstruction int
	efSearch       int

	entry int32 // node holding the top layer, -1 while empty
	links [][][]int32
	vecs  [][]float32
	rng   *rand.Rand
}

// NewHNSWFlat returns an empty graph index, ready for use. m is the per-layer
// link budget; values below 2 are raised to 2.
func NewHNSWFlat(dim int, metric Metric, m int) *HNSWFlat {
	if m < 2 {
		m = 2
	}
	return &HNSWFlat{
		dim:            dim,
		metric:         metric,
		m:              m,
		efConstruction: hnswEfConstruction,
		efSearch:       hnswEfSearch,
		entry:          -1,
		rng:            rand.New(rand.NewSource(hnswLevelSeed)),
	}
}

func (h *HNSWFlat) Kind() Kind           { return KindHNSW }
func (h *HNSWFlat) Metric() Metric       { return h.metric }
func (h *HNSWFlat) Dimension() int       { return h.dim }
func (h *HNSWFlat) Trained() bool        { return true }
func (h *HNSWFlat) Ntotal() int          { return len(h.vecs) }
func (h *HNSWFlat) Vectors() [][]float32 { return h.vecs }

// Train is a no-op; the graph builds incrementally on Add.
func (h *HNSWFlat) Train(vectors [][]float32) error {
	return checkVectors(vectors, h.dim)
}

func (h *HNSWFlat) Add(vectors [][]float32) error {
	if err := checkVectors(vectors, h.dim); err != nil {
		return err
	}
	for _, v := range vectors {
		h.insert(v)
	}
	return nil
}

// Search descends the upper layers greedily, sweeps layer 0 with breadth
// max(efSearch, k) and ranks the swept candidates by the metric.
func (h *HNSWFlat) Search(query []float32, k int) ([]int64, []float32, error) {
	if err := checkQuery(query, h.dim, k); err != nil {
		return nil, nil, err
	}
	if h.entry < 0 {
		ids, dists := rank(query, nil, h.vecs, h.metric, k)
		return ids, dists, nil
	}
	ep := h.entry
	for l := h.topLayer(); l > 0; l-- {
		ep = h.greedyClosest(query, ep, l)
	}
	ef := h.efSearch
	if ef < k {
		ef = k
	}
	swept := h.searchLayer(query, ep, ef, 0)
	found := make([]int32, len(swept))
	for i, c := range swept {
		found[i] = c.id
	}
	ids, dists := rank(query, found, h.vecs, h.metric, k)
	return ids, dists, nil
}

// topLayer is the highest layer in the graph, -1 while empty. The entry node
// always owns it.
func (h *HNSWFlat) topLayer() int {
	if h.entry < 0 {
		return -1
	}
	return len(h.links[h.entry]) - 1
}

func (h *HNSWFlat) insert(v []float32) {
	pos := int32(len(h.vecs))
	level := h.randomLevel()
	h.vecs = append(h.vecs, v)
	h.links = append(h.links, make([][]int32, level+1))
	if h.entry < 0 {
		h.entry = pos
		return
	}
	top := h.topLayer()
	ep := h.entry
	for l := top; l > level; l-- {
		ep = h.greedyClosest(v, ep, l)
	}
	start := level
	if start > top {
		start = top
	}
	for l := start; l >= 0; l-- {
		cands := h.searchLayer(v, ep, h.efConstruction, l)
		ep = cands[0].id
		if len(cands) > h.m {
			cands = cands[:h.m]
		}
		for _, nb := range cands {
			h.link(pos, nb.id, l)
			h.link(nb.id, pos, l)
		}
	}
	if level > top {
		h.entry = pos
	}
}

// randomLevel draws a node's top layer from the exponential distribution
// keyed to m.
func (h *HNSWFlat) randomLevel() int {
	r := h.rng.Float64()
	for r == 0 {
		r = h.rng.Float64()
	}
	return int(-math.Log(r) / math.Log(float64(h.m)))
}

// closeness scores a pair so that smaller always means closer; IP negates
// the dot product to fit.
func (h *HNSWFlat) closeness(a, b []float32) float32 {
	if h.metric == MetricIP {
		return -dot(a, b)
	}
	return search.Float32s(a).EuclideanDistance(b)
}

func (h *HNSWFlat) neighbors(node int32, layer int) []int32 {
	if layer >= len(h.links[node]) {
		return nil
	}
	return h.links[node][layer]
}

// greedyClosest walks one layer toward the query until no neighbor improves.
func (h *HNSWFlat) greedyClosest(query []float32, from int32, layer int) int32 {
	cur := from
	curD := h.closeness(query, h.vecs[cur])
	for {
		improved := false
		for _, nb := range h.neighbors(cur, layer) {
			if d := h.closeness(query, h.vecs[nb]); d < curD {
				cur, curD = nb, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer is the best-first sweep over one layer: it expands the closest
// unvisited candidate until the frontier falls behind the worst of the ef
// results kept so far, and returns those results closest first.
func (h *HNSWFlat) searchLayer(query []float32, ep int32, ef int, layer int) []hcand {
	seed := hcand{id: ep, dist: h.closeness(query, h.vecs[ep])}
	visited := map[int32]bool{ep: true}
	frontier := &candHeap{seed}
	results := &farHeap{seed}
	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(hcand)
		if cur.dist > (*results)[0].dist && results.Len() >= ef {
			break
		}
		for _, nb := range h.neighbors(cur.id, layer) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := h.closeness(query, h.vecs[nb])
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(frontier, hcand{id: nb, dist: d})
				heap.Push(results, hcand{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}
	out := make([]hcand, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(hcand)
	}
	return out
}

// link records an edge, then trims the list back to capacity keeping the
// closest neighbors. Layer 0 carries up to 2m links, upper layers m.
func (h *HNSWFlat) link(from, to int32, layer int) {
	list := h.links[from][layer]
	for _, nb := range list {
		if nb == to {
			return
		}
	}
	list = append(list, to)
	limit := h.m
	if layer == 0 {
		limit = 2 * h.m
	}
	if len(list) > limit {
		sort.Slice(list, func(a, b int) bool {
			return h.closeness(h.vecs[from], h.vecs[list[a]]) < h.closeness(h.vecs[from], h.vecs[list[b]])
		})
		list = list[:limit]
	}
	h.links[from][layer] = list
}

type hcand struct {
	id   int32
	dist float32
}

// candHeap pops the closest candidate first.
type candHeap []hcand

func (q candHeap) Len() int           { return len(q) }
func (q candHeap) Less(a, b int) bool { return q[a].dist < q[b].dist }
func (q candHeap) Swap(a, b int)      { q[a], q[b] = q[b], q[a] }
func (q *candHeap) Push(x any)        { *q = append(*q, x.(hcand)) }
func (q *candHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// farHeap keeps the working result set with the farthest member on top.
type farHeap []hcand

func (q farHeap) Len() int           { return len(q) }
func (q farHeap) Less(a, b int) bool { return q[a].dist > q[b].dist }
func (q farHeap) Swap(a, b int)      { q[a], q[b] = q[b], q[a] }
func (q *farHeap) Push(x any)        { *q = append(*q, x.(hcand)) }
func (q *farHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// MarshalBinary stores: dim(uint32), n(uint32), m(uint32), entry(int32), then
// each node's count-prefixed layer lists, then the vectors, all little-endian.
// efConstruction and efSearch are runtime configuration and are not persisted.
func (h *HNSWFlat) MarshalBinary() ([]byte, error) {
	n := len(h.vecs)
	out := make([]byte, 0, 16+4*h.dim*n)
	putU32 := func(v uint32) { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); out = append(out, b...) }
	putF32 := func(v float32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		out = append(out, b...)
	}
	putU32(uint32(h.dim))
	putU32(uint32(n))
	putU32(uint32(h.m))
	putU32(uint32(h.entry))
	for _, node := range h.links {
		putU32(uint32(len(node)))
		for _, list := range node {
			putU32(uint32(len(list)))
			for _, nb := range list {
				putU32(uint32(nb))
			}
		}
	}
	for _, vec := range h.vecs {
		for j := 0; j < h.dim; j++ {
			putF32(vec[j])
		}
	}
	return out, nil
}

// UnmarshalBinary restores the index from bytes produced by MarshalBinary.
// The entry point and every neighbor position are range-checked, so a
// corrupted blob fails with an error instead of a malformed graph.
func (h *HNSWFlat) UnmarshalBinary(data []byte) error {
	off := 0
	short := false
	getU32 := func() uint32 {
		if off+4 > len(data) {
			short = true
			return 0
		}
		v := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		return v
	}
	dim := int(getU32())
	n := int(int32(getU32()))
	m := int(int32(getU32()))
	entry := int32(getU32())
	if short {
		return errors.New("index: hnsw data truncated")
	}
	if dim != h.dim {
		return fmt.Errorf("index: hnsw data dimension %d, expected %d: %w", dim, h.dim, models.ErrValidation)
	}
	if n < 0 || n > len(data)/4 || m < 2 {
		return errors.New("index: hnsw header out of range")
	}
	if (n == 0 && entry != -1) || (n > 0 && (entry < 0 || int(entry) >= n)) {
		return errors.New("index: hnsw entry out of range")
	}
	links := make([][][]int32, n)
	for i := 0; i < n; i++ {
		layers := int(int32(getU32()))
		if short || layers < 1 || layers > (len(data)-off)/4 {
			return errors.New("index: hnsw data truncated")
		}
		node := make([][]int32, layers)
		for l := range node {
			cnt := int(int32(getU32()))
			if short || cnt < 0 || cnt > (len(data)-off)/4 {
				return errors.New("index: hnsw data truncated")
			}
			list := make([]int32, cnt)
			for j := range list {
				nb := int32(getU32())
				if nb < 0 || int(nb) >= n {
					return errors.New("index: hnsw neighbor out of range")
				}
				list[j] = nb
			}
			node[l] = list
		}
		links[i] = node
	}
	if len(data)-off != 4*dim*n {
		return errors.New("index: hnsw data truncated")
	}
	getF32 := func() float32 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		return v
	}
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = getF32()
		}
		vecs[i] = vec
	}
	h.m = m
	h.entry = entry
	h.links = links
	h.vecs = vecs
	return nil
}
