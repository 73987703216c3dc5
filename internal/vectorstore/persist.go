package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"study-rag/internal/index"
	"study-rag/internal/models"
)

const (
	indexSuffix = ".index"
	metaSuffix  = ".meta.json"
)

// metaFile is the on-disk companion of the index binary: the construction
// parameters plus both parallel arrays.
type metaFile struct {
	Dimension   int        `json:"dimension"`
	Kind        string     `json:"kind"`
	Metric      string     `json:"metric"`
	NList       int        `json:"nlist"`
	NProbe      int        `json:"nprobe"`
	Metadata    []Metadata `json:"metadata"`
	DocumentIDs []string   `json:"document_ids"`
}

// Save writes the store under dir as <key>.index and <key>.meta.json,
// creating dir if needed.
func (s *Store) Save(dir, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vectorstore: creating %s: %w", dir, err)
	}
	blob, err := s.idx.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, key+indexSuffix), blob, 0o644); err != nil {
		return fmt.Errorf("vectorstore: writing index: %w", err)
	}
	meta := metaFile{
		Dimension:   s.cfg.Dimension,
		Kind:        string(s.cfg.Kind),
		Metric:      string(s.cfg.Metric),
		NList:       s.cfg.NList,
		NProbe:      s.cfg.NProbe,
		Metadata:    s.metadata,
		DocumentIDs: s.documentIDs,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("vectorstore: encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key+metaSuffix), data, 0o644); err != nil {
		return fmt.Errorf("vectorstore: writing metadata: %w", err)
	}
	log.Debug().Str("key", key).Str("dir", dir).Int("vectors", s.idx.Ntotal()).Msg("saved store")
	return nil
}

// Remove deletes the persisted files for key under dir. Files that are
// already gone are not an error.
func Remove(dir, key string) error {
	for _, name := range []string{key + indexSuffix, key + metaSuffix} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("vectorstore: removing %s: %w", name, err)
		}
	}
	return nil
}

// Load restores a store previously saved under dir with key. Missing files
// map to ErrNotFound. The restored store answers searches identically to the
// one that was saved.
func Load(dir, key string) (*Store, error) {
	metaData, err := os.ReadFile(filepath.Join(dir, key+metaSuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("vectorstore: no saved store %q in %s: %w", key, dir, models.ErrNotFound)
		}
		return nil, fmt.Errorf("vectorstore: reading metadata: %w", err)
	}
	var meta metaFile
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("vectorstore: decoding metadata: %w", err)
	}

	st, err := New(Config{
		Dimension: meta.Dimension,
		Kind:      index.Kind(meta.Kind),
		Metric:    index.Metric(meta.Metric),
		NList:     meta.NList,
		NProbe:    meta.NProbe,
	})
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(filepath.Join(dir, key+indexSuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("vectorstore: no saved index %q in %s: %w", key, dir, models.ErrNotFound)
		}
		return nil, fmt.Errorf("vectorstore: reading index: %w", err)
	}
	if err := st.idx.UnmarshalBinary(blob); err != nil {
		return nil, err
	}
	st.metadata = meta.Metadata
	st.documentIDs = meta.DocumentIDs
	if st.idx.Ntotal() != len(st.metadata) || len(st.metadata) != len(st.documentIDs) {
		return nil, fmt.Errorf("vectorstore: restored store inconsistent: %d vectors, %d metadata, %d document ids: %w",
			st.idx.Ntotal(), len(st.metadata), len(st.documentIDs), models.ErrValidation)
	}
	log.Debug().Str("key", key).Int("vectors", st.idx.Ntotal()).Msg("loaded store")
	return st, nil
}
