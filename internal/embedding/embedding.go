package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"study-rag/internal/config"
	"study-rag/internal/models"
)

// DefaultDimension is used when neither config nor backend pin a width.
const DefaultDimension = 768

// Generator maps text to fixed-dimension dense vectors through a langchaingo
// embedder. Normalization is a fixed per-instance mode: when on, every vector
// is L2-normalized after encoding and similarity is exactly the dot product.
type Generator struct {
	embedder  embeddings.Embedder
	normalize bool

	mu  sync.Mutex
	dim int
}

// New wraps client in the batching embedder pipeline. dim 0 learns the width
// from the first encode; batchSize 0 keeps the embedder's default.
func New(client embeddings.EmbedderClient, dim, batchSize int, normalize bool) (*Generator, error) {
	var opts []embeddings.Option
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedding: creating embedder: %v: %w", err, models.ErrResourceExhausted)
	}
	return &Generator{embedder: embedder, dim: dim, normalize: normalize}, nil
}

// FromConfig picks the embedding backend by provider name.
func FromConfig(cfg *config.EmbedConfig) (*Generator, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Int("dimension", cfg.Dimension).
		Bool("normalize", cfg.Normalized()).
		Msg("initializing embedding backend")

	switch cfg.Provider {
	case "ollama":
		return NewOllamaGenerator(cfg)
	case "openai", "openrouter":
		return NewOpenAIGenerator(cfg)
	case "", "local":
		return NewLocalGenerator(cfg)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q: %w", cfg.Provider, models.ErrValidation)
	}
}

// NewOpenAIGenerator builds a Generator over an OpenAI-compatible embeddings
// endpoint (OpenAI itself or any server speaking its API).
func NewOpenAIGenerator(cfg *config.EmbedConfig) (*Generator, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key(), "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("embedding: initializing openai client: %v: %w", err, models.ErrResourceExhausted)
	}
	return New(llm, cfg.Dimension, cfg.BatchSize, cfg.Normalized())
}

// NewOllamaGenerator builds a Generator over a local ollama server.
func NewOllamaGenerator(cfg *config.EmbedConfig) (*Generator, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding: initializing ollama client: %v: %w", err, models.ErrResourceExhausted)
	}
	return New(llm, cfg.Dimension, cfg.BatchSize, cfg.Normalized())
}

// NewLocalGenerator builds a Generator over the deterministic offline hash
// backend.
func NewLocalGenerator(cfg *config.EmbedConfig) (*Generator, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	return New(HashClient{Dim: dim}, dim, cfg.BatchSize, cfg.Normalized())
}

// Encode embeds texts in order. Batching happens inside the embedder and is
// a throughput knob only: one call with N texts and N single-text calls are
// numerically equivalent.
func (g *Generator) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := g.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: encoding %d texts: %v: %w", len(texts), err, models.ErrResourceExhausted)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts: %w", len(vecs), len(texts), models.ErrResourceExhausted)
	}
	if err := g.adoptDimension(vecs); err != nil {
		return nil, err
	}
	if g.normalize {
		for _, v := range vecs {
			normalizeInPlace(v)
		}
	}
	return vecs, nil
}

// EncodeQuery embeds a single query string.
func (g *Generator) EncodeQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeChunks embeds chunk texts, one vector per chunk, order preserved.
func (g *Generator) EncodeChunks(ctx context.Context, chunks []models.TextChunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	return g.Encode(ctx, texts)
}

// Dimension returns the vector width, or 0 before the first encode when the
// width was not configured.
func (g *Generator) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}

// Normalized reports whether vectors leave this generator unit length.
func (g *Generator) Normalized() bool { return g.normalize }

// ComputeSimilarity returns the similarity of a and b. With normalization on
// this is the dot product itself; with it off, dot(a,b)/(|a||b|), failing on
// zero-norm input rather than returning NaN.
func (g *Generator) ComputeSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: similarity of %d-dim and %d-dim vectors: %w", len(a), len(b), models.ErrValidation)
	}
	d := dot(a, b)
	if g.normalize {
		return d, nil
	}
	na, nb := magnitude(a), magnitude(b)
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("embedding: zero-norm vector in similarity: %w", models.ErrValidation)
	}
	return d / (na * nb), nil
}

// adoptDimension learns the width from the first encode and rejects drift.
func (g *Generator) adoptDimension(vecs [][]float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range vecs {
		if g.dim == 0 {
			g.dim = len(v)
		}
		if len(v) != g.dim {
			return fmt.Errorf("embedding: backend returned %d-dim vector, expected %d: %w", len(v), g.dim, models.ErrValidation)
		}
	}
	return nil
}

// normalizeInPlace scales v to unit length. Zero vectors stay zero.
func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

func magnitude(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
