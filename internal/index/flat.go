package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"study-rag/internal/models"
)

// Flat is the exhaustive-scan index: exact results, no training phase.
type Flat struct {
	dim    int
	metric Metric
	vecs   [][]float32
}

// NewFlat returns an empty flat index, ready for use.
func NewFlat(dim int, metric Metric) *Flat {
	return &Flat{dim: dim, metric: metric}
}

func (f *Flat) Kind() Kind          { return KindFlat }
func (f *Flat) Metric() Metric      { return f.metric }
func (f *Flat) Dimension() int      { return f.dim }
func (f *Flat) Trained() bool       { return true }
func (f *Flat) Ntotal() int         { return len(f.vecs) }
func (f *Flat) Vectors() [][]float32 { return f.vecs }

// Train is a no-op; flat indexes need none.
func (f *Flat) Train(vectors [][]float32) error {
	return checkVectors(vectors, f.dim)
}

func (f *Flat) Add(vectors [][]float32) error {
	if err := checkVectors(vectors, f.dim); err != nil {
		return err
	}
	f.vecs = append(f.vecs, vectors...)
	return nil
}

func (f *Flat) Search(query []float32, k int) ([]int64, []float32, error) {
	if err := checkQuery(query, f.dim, k); err != nil {
		return nil, nil, err
	}
	ids, dists := rank(query, nil, f.vecs, f.metric, k)
	return ids, dists, nil
}

// MarshalBinary stores: dim(uint32), n(uint32), then float32[dim] per vector
// in insertion order, all little-endian.
func (f *Flat) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 8+4*f.dim*len(f.vecs))
	putU32 := func(v uint32) { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); out = append(out, b...) }
	putF32 := func(v float32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		out = append(out, b...)
	}
	putU32(uint32(f.dim))
	putU32(uint32(len(f.vecs)))
	for _, vec := range f.vecs {
		for j := 0; j < f.dim; j++ {
			putF32(vec[j])
		}
	}
	return out, nil
}

// UnmarshalBinary restores the index from bytes produced by MarshalBinary.
func (f *Flat) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return errors.New("index: flat data truncated")
	}
	off := 0
	getU32 := func() uint32 { v := binary.LittleEndian.Uint32(data[off : off+4]); off += 4; return v }
	dim := int(getU32())
	n := int(getU32())
	if dim != f.dim {
		return fmt.Errorf("index: flat data dimension %d, expected %d: %w", dim, f.dim, models.ErrValidation)
	}
	if len(data) != 8+4*dim*n {
		return errors.New("index: flat data truncated")
	}
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(getU32())
		}
		vecs[i] = vec
	}
	f.vecs = vecs
	return nil
}
