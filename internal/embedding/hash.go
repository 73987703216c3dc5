package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// HashClient is the deterministic offline embedding backend: a feature-hashed
// bag of words over FNV-1a. It implements langchaingo's EmbedderClient so it
// rides the same batching pipeline as the remote backends. Vectors are raw
// term counts; the Generator owns normalization. Texts sharing words land
// near each other, which is all local runs and tests need.
type HashClient struct {
	Dim int
}

// CreateEmbedding hashes each text's lowercased words into Dim buckets.
func (h HashClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultDimension
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			f := fnv.New32a()
			f.Write([]byte(w))
			v[f.Sum32()%uint32(dim)]++
		}
		out[i] = v
	}
	return out, nil
}
