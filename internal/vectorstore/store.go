// Package vectorstore pairs an append-only similarity index with parallel
// per-vector metadata and implements deletion as a rebuild, since the index
// itself never deletes.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"study-rag/internal/embedding"
	"study-rag/internal/index"
	"study-rag/internal/models"
)

// Config fixes a store's index construction parameters. Kind and Metric
// default to flat/l2 when empty.
type Config struct {
	Dimension int
	Kind      index.Kind
	Metric    index.Metric
	NList     int
	NProbe    int
}

// Metadata is the per-vector record stored alongside the index.
type Metadata struct {
	ChunkID    string `json:"chunk_id"`
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	TokenCount int    `json:"token_count"`
}

// Result is one search hit: the entry's metadata plus its distance under the
// store's metric.
type Result struct {
	Metadata
	Distance float32 `json:"distance"`
}

// Stats describes a store at a point in time.
type Stats struct {
	TotalVectors    int    `json:"total_vectors"`
	Dimension       int    `json:"dimension"`
	Kind            string `json:"index_kind"`
	Metric          string `json:"metric"`
	UniqueDocuments int    `json:"unique_documents"`
	Trained         bool   `json:"trained"`
}

// Store owns one similarity index plus two parallel arrays: metadata[i] and
// documentIDs[i] describe the vector at index position i. The invariant
// len(metadata) == len(documentIDs) == index.Ntotal() holds whenever the
// lock is released. Vectors are cached inside the index, reconstructable in
// insertion order, so deletion rebuilds never re-embed anything.
//
// Searches take the read lock and run concurrently with each other;
// AddVectors and DeleteDocument take the write lock, so no reader ever
// observes a half-rebuilt store.
type Store struct {
	mu          sync.RWMutex
	cfg         Config
	idx         index.Index
	metadata    []Metadata
	documentIDs []string
}

// New constructs an empty store. A store over an index kind that needs
// training starts untrained and trains on its first AddVectors call.
func New(cfg Config) (*Store, error) {
	if cfg.Kind == "" {
		cfg.Kind = index.KindFlat
	}
	if cfg.Metric == "" {
		cfg.Metric = index.MetricL2
	}
	idx, err := index.New(cfg.Kind, cfg.Metric, cfg.Dimension, cfg.NList, cfg.NProbe)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, idx: idx}, nil
}

// AddVectors appends embeddings with their parallel metadata and document
// ids. Length and width mismatches fail before anything mutates. The first
// call on an untrained index trains it with this call's vectors, exactly
// once; later calls never retrain.
func (s *Store) AddVectors(embeddings [][]float32, metadata []Metadata, documentIDs []string) error {
	if len(embeddings) != len(metadata) || len(embeddings) != len(documentIDs) {
		return fmt.Errorf("vectorstore: %d embeddings, %d metadata, %d document ids: %w",
			len(embeddings), len(metadata), len(documentIDs), models.ErrValidation)
	}
	if len(embeddings) == 0 {
		return nil
	}
	for i, v := range embeddings {
		if len(v) != s.cfg.Dimension {
			return fmt.Errorf("vectorstore: embedding %d has dimension %d, expected %d: %w",
				i, len(v), s.cfg.Dimension, models.ErrValidation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.idx.Trained() {
		if err := s.idx.Train(embeddings); err != nil {
			return err
		}
		log.Info().Int("vectors", len(embeddings)).Msg("trained index on first add")
	}
	if err := s.idx.Add(embeddings); err != nil {
		return err
	}
	s.metadata = append(s.metadata, metadata...)
	s.documentIDs = append(s.documentIDs, documentIDs...)
	log.Debug().Int("added", len(embeddings)).Int("total", s.idx.Ntotal()).Msg("added vectors")
	return nil
}

// AddChunks stores chunk embeddings with metadata derived from the chunks.
// Chunks without a document id inherit documentID.
func (s *Store) AddChunks(chunks []models.TextChunk, embeddings [][]float32, documentID string) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("vectorstore: %d chunks, %d embeddings: %w", len(chunks), len(embeddings), models.ErrValidation)
	}
	metadata := make([]Metadata, len(chunks))
	documentIDs := make([]string, len(chunks))
	for i, ch := range chunks {
		docID := ch.DocumentID
		if docID == "" {
			docID = documentID
		}
		metadata[i] = Metadata{
			ChunkID:    ch.ChunkID,
			Text:       ch.Text,
			DocumentID: docID,
			ChunkIndex: ch.ChunkIndex,
			TokenCount: ch.TokenCount,
		}
		documentIDs[i] = docID
	}
	return s.AddVectors(embeddings, metadata, documentIDs)
}

// Search returns up to topK entries nearest to query, ascending by distance
// for l2 and descending by score for ip. documentID "" searches every
// document; otherwise entries of other documents are dropped after
// retrieval, so the result may hold fewer than topK entries or none. That
// is expected, not an error. An empty store returns an empty result.
func (s *Store) Search(query []float32, topK int, documentID string) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("vectorstore: top_k %d: %w", topK, models.ErrValidation)
	}
	if len(query) != s.cfg.Dimension {
		return nil, fmt.Errorf("vectorstore: query dimension %d, expected %d: %w",
			len(query), s.cfg.Dimension, models.ErrValidation)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.metadata) == 0 {
		return nil, nil
	}
	ids, dists, err := s.idx.Search(query, topK)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, topK)
	for i, id := range ids {
		if id == index.Sentinel {
			continue
		}
		if documentID != "" && s.documentIDs[id] != documentID {
			continue
		}
		results = append(results, Result{Metadata: s.metadata[id], Distance: dists[i]})
	}
	return results, nil
}

// SearchText embeds query with gen, then searches.
func (s *Store) SearchText(ctx context.Context, gen *embedding.Generator, query string, topK int, documentID string) ([]Result, error) {
	vec, err := gen.EncodeQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.Search(vec, topK, documentID)
}

// AllForDocument returns the document's metadata in index position order.
func (s *Store) AllForDocument(documentID string) []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Metadata
	for i, d := range s.documentIDs {
		if d == documentID {
			out = append(out, s.metadata[i])
		}
	}
	return out
}

// DeleteDocument removes every entry of documentID. The index supports no
// native deletion, so this rebuilds: kept vectors come out of the old index,
// a fresh index of the same configuration is filled through the normal add
// path (an IVF store therefore retrains on the kept set), and the swap
// happens under the write lock. Returns the removed count. Cost is O(total
// vectors); callers must not assume deletion is cheap.
func (s *Store) DeleteDocument(documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vectors := s.idx.Vectors()
	keptVecs := make([][]float32, 0, len(vectors))
	keptMeta := make([]Metadata, 0, len(s.metadata))
	keptDocs := make([]string, 0, len(s.documentIDs))
	removed := 0
	for i, d := range s.documentIDs {
		if d == documentID {
			removed++
			continue
		}
		keptVecs = append(keptVecs, vectors[i])
		keptMeta = append(keptMeta, s.metadata[i])
		keptDocs = append(keptDocs, s.documentIDs[i])
	}
	if removed == 0 {
		return 0, nil
	}

	fresh, err := index.New(s.cfg.Kind, s.cfg.Metric, s.cfg.Dimension, s.cfg.NList, s.cfg.NProbe)
	if err != nil {
		return 0, err
	}
	if len(keptVecs) > 0 {
		if !fresh.Trained() {
			if err := fresh.Train(keptVecs); err != nil {
				return 0, err
			}
		}
		if err := fresh.Add(keptVecs); err != nil {
			return 0, err
		}
	}
	s.idx = fresh
	s.metadata = keptMeta
	s.documentIDs = keptDocs
	log.Info().
		Str("document_id", documentID).
		Int("removed", removed).
		Int("kept", len(keptMeta)).
		Msg("rebuilt index after document delete")
	return removed, nil
}

// Metric reports the distance metric the store was constructed with.
func (s *Store) Metric() index.Metric {
	return s.cfg.Metric
}

// Stats reports the store's current shape.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unique := make(map[string]struct{}, len(s.documentIDs))
	for _, d := range s.documentIDs {
		unique[d] = struct{}{}
	}
	return Stats{
		TotalVectors:    s.idx.Ntotal(),
		Dimension:       s.cfg.Dimension,
		Kind:            string(s.cfg.Kind),
		Metric:          string(s.cfg.Metric),
		UniqueDocuments: len(unique),
		Trained:         s.idx.Trained(),
	}
}
