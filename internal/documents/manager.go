// Package documents owns document lifecycle: ingesting full text into a
// per-document vector store, handing stores out for querying, and removing
// them from memory and disk.
package documents

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"study-rag/internal/chunker"
	"study-rag/internal/embedding"
	"study-rag/internal/helper"
	"study-rag/internal/models"
	"study-rag/internal/vectorstore"
)

// IngestStats summarizes one ingested document.
type IngestStats struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Tokens     int    `json:"tokens"`
}

// Manager keeps one vector store per document, cached in memory and
// persisted under dir keyed by document id. It guards only its own cache;
// each store serializes its own readers and writers.
type Manager struct {
	chk      *chunker.Chunker
	gen      *embedding.Generator
	storeCfg vectorstore.Config
	dir      string

	mu     sync.RWMutex
	stores map[string]*vectorstore.Store
}

// New wires a manager over dir. Stores it creates use storeCfg.
func New(chk *chunker.Chunker, gen *embedding.Generator, storeCfg vectorstore.Config, dir string) *Manager {
	return &Manager{
		chk:      chk,
		gen:      gen,
		storeCfg: storeCfg,
		dir:      dir,
		stores:   make(map[string]*vectorstore.Store),
	}
}

// Ingest chunks fullText, embeds the chunks and persists them as documentID.
// An empty documentID mints a fresh doc_<hex> id. Re-ingesting an existing id
// replaces its store. Text that produces no chunks is ErrValidation.
func (m *Manager) Ingest(ctx context.Context, documentID, fullText string) (*IngestStats, error) {
	if documentID == "" {
		id, err := helper.NewDocumentID()
		if err != nil {
			return nil, err
		}
		documentID = id
	}

	chunks := m.chk.ChunkDocument(fullText, documentID)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("documents: %q has no chunkable text: %w", documentID, models.ErrValidation)
	}
	embeds, err := m.gen.EncodeChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	cfg := m.storeCfg
	if cfg.Dimension == 0 {
		cfg.Dimension = m.gen.Dimension()
	}
	st, err := vectorstore.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := st.AddChunks(chunks, embeds, documentID); err != nil {
		return nil, err
	}
	if err := st.Save(m.dir, documentID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stores[documentID] = st
	m.mu.Unlock()

	tokens := 0
	for _, ch := range chunks {
		tokens += ch.TokenCount
	}
	log.Info().
		Str("document_id", documentID).
		Int("chunks", len(chunks)).
		Int("tokens", tokens).
		Msg("ingested document")
	return &IngestStats{DocumentID: documentID, Chunks: len(chunks), Tokens: tokens}, nil
}

// Store returns the document's vector store, loading it from disk when it
// is not cached. Unknown ids are ErrNotFound.
func (m *Manager) Store(documentID string) (*vectorstore.Store, error) {
	m.mu.RLock()
	st, ok := m.stores[documentID]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}

	st, err := vectorstore.Load(m.dir, documentID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.stores[documentID]; ok {
		return cached, nil
	}
	m.stores[documentID] = st
	return st, nil
}

// Stats reports the document's store statistics.
func (m *Manager) Stats(documentID string) (vectorstore.Stats, error) {
	st, err := m.Store(documentID)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	return st.Stats(), nil
}

// Delete removes the document from its store, from the cache and from disk,
// returning how many vectors were dropped. Unknown ids are ErrNotFound.
func (m *Manager) Delete(documentID string) (int, error) {
	st, err := m.Store(documentID)
	if err != nil {
		return 0, err
	}
	removed, err := st.DeleteDocument(documentID)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	delete(m.stores, documentID)
	m.mu.Unlock()

	if err := vectorstore.Remove(m.dir, documentID); err != nil {
		return removed, err
	}
	log.Info().Str("document_id", documentID).Int("removed", removed).Msg("deleted document")
	return removed, nil
}

// List returns the known document ids, cached and persisted, sorted.
func (m *Manager) List() ([]string, error) {
	ids := make(map[string]struct{})
	m.mu.RLock()
	for id := range m.stores {
		ids[id] = struct{}{}
	}
	m.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(m.dir, "*.meta.json"))
	if err != nil {
		return nil, fmt.Errorf("documents: scanning %s: %w", m.dir, err)
	}
	for _, match := range matches {
		ids[strings.TrimSuffix(filepath.Base(match), ".meta.json")] = struct{}{}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
