package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"study-rag/internal/embedding"
	"study-rag/internal/index"
	"study-rag/internal/models"
)

func newFlatStore(t *testing.T, dim int) *Store {
	t.Helper()
	st, err := New(Config{Dimension: dim, Kind: index.KindFlat, Metric: index.MetricL2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return st
}

func meta(doc string, i int) Metadata {
	return Metadata{
		ChunkID:    models.FormatChunkID(doc, i),
		Text:       fmt.Sprintf("%s text %d", doc, i),
		DocumentID: doc,
		ChunkIndex: i,
		TokenCount: 3,
	}
}

// seedTwoDocs fills a dim-3 store with doc "a" at positions 0-2 and doc "b"
// at positions 3-4.
func seedTwoDocs(t *testing.T, st *Store) {
	t.Helper()
	vecs := [][]float32{
		{1, 0, 0}, {2, 0, 0}, {3, 0, 0},
		{10, 0, 0}, {11, 0, 0},
	}
	metas := []Metadata{meta("a", 0), meta("a", 1), meta("a", 2), meta("b", 0), meta("b", 1)}
	docs := []string{"a", "a", "a", "b", "b"}
	if err := st.AddVectors(vecs, metas, docs); err != nil {
		t.Fatalf("AddVectors() error = %v", err)
	}
}

func TestSearchOrdersByDistance(t *testing.T) {
	st := newFlatStore(t, 3)
	seedTwoDocs(t, st)

	got, err := st.Search([]float32{10.2, 0, 0}, 2, "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(got))
	}
	if got[0].ChunkID != "b_chunk_0" || got[1].ChunkID != "b_chunk_1" {
		t.Fatalf("Search() order = [%s %s], want [b_chunk_0 b_chunk_1]", got[0].ChunkID, got[1].ChunkID)
	}
	if got[0].Distance > got[1].Distance {
		t.Fatalf("distances not ascending: %v then %v", got[0].Distance, got[1].Distance)
	}
}

func TestSearchEmptyStore(t *testing.T) {
	st := newFlatStore(t, 3)
	got, err := st.Search([]float32{1, 0, 0}, 5, "")
	if err != nil {
		t.Fatalf("Search() on empty store error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Search() on empty store returned %d results, want 0", len(got))
	}
}

func TestSearchValidation(t *testing.T) {
	st := newFlatStore(t, 3)
	if _, err := st.Search([]float32{1, 0, 0}, 0, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Search(top_k=0) error = %v, want ErrValidation", err)
	}
	if _, err := st.Search([]float32{1, 0}, 3, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Search(narrow query) error = %v, want ErrValidation", err)
	}
}

func TestDocumentFilterMayShortenResults(t *testing.T) {
	st := newFlatStore(t, 3)
	seedTwoDocs(t, st)

	got, err := st.Search([]float32{10.2, 0, 0}, 4, "b")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) > 2 {
		t.Fatalf("filtered search returned %d results, doc b has only 2 entries", len(got))
	}
	for _, r := range got {
		if r.DocumentID != "b" {
			t.Fatalf("filtered search leaked %q from document %q", r.ChunkID, r.DocumentID)
		}
	}
}

func TestAddVectorsMismatchLeavesStateUntouched(t *testing.T) {
	st := newFlatStore(t, 3)
	seedTwoDocs(t, st)
	before := st.Stats()

	err := st.AddVectors(
		[][]float32{{1, 2, 3}, {1, 2}},
		[]Metadata{meta("c", 0), meta("c", 1)},
		[]string{"c", "c"},
	)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("AddVectors(bad width) error = %v, want ErrValidation", err)
	}
	err = st.AddVectors([][]float32{{1, 2, 3}}, nil, []string{"c"})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("AddVectors(mismatched arrays) error = %v, want ErrValidation", err)
	}

	after := st.Stats()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("failed add mutated store: before %+v, after %+v", before, after)
	}
	if got := st.AllForDocument("c"); len(got) != 0 {
		t.Fatalf("failed add left %d entries for document c", len(got))
	}
}

func TestDeleteDocumentRebuilds(t *testing.T) {
	st := newFlatStore(t, 3)
	seedTwoDocs(t, st)
	query := []float32{10.2, 0, 0}

	before, err := st.Search(query, 2, "b")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	removed, err := st.DeleteDocument("a")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("DeleteDocument() removed %d, want 3", removed)
	}

	if got, _ := st.Search(query, 5, "a"); len(got) != 0 {
		t.Fatalf("deleted document still searchable: %d results", len(got))
	}
	after, err := st.Search(query, 2, "b")
	if err != nil {
		t.Fatalf("Search() after delete error = %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("surviving document changed after delete:\nbefore %+v\nafter  %+v", before, after)
	}

	stats := st.Stats()
	if stats.TotalVectors != 2 || stats.UniqueDocuments != 1 {
		t.Fatalf("Stats() after delete = %+v, want 2 vectors in 1 document", stats)
	}
}

func TestDeleteUnknownDocument(t *testing.T) {
	st := newFlatStore(t, 3)
	seedTwoDocs(t, st)
	removed, err := st.DeleteDocument("nope")
	if err != nil {
		t.Fatalf("DeleteDocument(unknown) error = %v", err)
	}
	if removed != 0 {
		t.Fatalf("DeleteDocument(unknown) removed %d, want 0", removed)
	}
	if got := st.Stats().TotalVectors; got != 5 {
		t.Fatalf("Stats().TotalVectors = %d after no-op delete, want 5", got)
	}
}

func TestAddChunksDerivesMetadata(t *testing.T) {
	st := newFlatStore(t, 2)
	chunks := []models.TextChunk{
		{ChunkID: "doc1_chunk_0", Text: "first", ChunkIndex: 0, TokenCount: 1},
		{ChunkID: "doc1_chunk_1", Text: "second", ChunkIndex: 1, TokenCount: 1},
	}
	embeds := [][]float32{{1, 0}, {0, 1}}
	if err := st.AddChunks(chunks, embeds, "doc1"); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	got := st.AllForDocument("doc1")
	if len(got) != 2 {
		t.Fatalf("AllForDocument() returned %d entries, want 2", len(got))
	}
	for i, m := range got {
		if m.DocumentID != "doc1" {
			t.Fatalf("entry %d document id = %q, want doc1", i, m.DocumentID)
		}
		if m.ChunkIndex != i {
			t.Fatalf("entry %d chunk index = %d, want %d", i, m.ChunkIndex, i)
		}
	}
	if got[0].Text != "first" || got[1].Text != "second" {
		t.Fatalf("AllForDocument() texts = [%s %s], want insertion order", got[0].Text, got[1].Text)
	}

	if err := st.AddChunks(chunks, embeds[:1], "doc1"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("AddChunks(mismatch) error = %v, want ErrValidation", err)
	}
}

func TestSearchTextEmbedsAndSearches(t *testing.T) {
	gen, err := embedding.New(embedding.HashClient{Dim: 32}, 32, 0, true)
	if err != nil {
		t.Fatalf("embedding.New() error = %v", err)
	}
	st := newFlatStore(t, 32)

	chunks := []models.TextChunk{
		{ChunkID: "d_chunk_0", Text: "apples grow on trees", ChunkIndex: 0, TokenCount: 4},
		{ChunkID: "d_chunk_1", Text: "ships sail across oceans", ChunkIndex: 1, TokenCount: 4},
	}
	embeds, err := gen.EncodeChunks(context.Background(), chunks)
	if err != nil {
		t.Fatalf("EncodeChunks() error = %v", err)
	}
	if err := st.AddChunks(chunks, embeds, "d"); err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	got, err := st.SearchText(context.Background(), gen, "ships sail across the sea", 1, "")
	if err != nil {
		t.Fatalf("SearchText() error = %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "d_chunk_1" {
		t.Fatalf("SearchText() = %+v, want the ships chunk", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newFlatStore(t, 3)
	seedTwoDocs(t, st)
	dir := t.TempDir()

	if err := st.Save(dir, "main"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(dir, "main")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	query := []float32{2.4, 0, 0}
	want, err := st.Search(query, 4, "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	got, err := loaded.Search(query, 4, "")
	if err != nil {
		t.Fatalf("loaded Search() error = %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("loaded store diverges:\nwant %+v\ngot  %+v", want, got)
	}
	if !reflect.DeepEqual(st.Stats(), loaded.Stats()) {
		t.Fatalf("loaded Stats() = %+v, want %+v", loaded.Stats(), st.Stats())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir(), "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}
}

func TestIVFStoreLifecycle(t *testing.T) {
	st, err := New(Config{Dimension: 2, Kind: index.KindIVF, Metric: index.MetricL2, NList: 2, NProbe: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if st.Stats().Trained {
		t.Fatal("fresh IVF store reports trained")
	}

	vecs := [][]float32{{0, 0}, {0.3, 0}, {0, 0.3}, {10, 10}, {10.3, 10}, {10, 10.3}}
	metas := make([]Metadata, len(vecs))
	docs := make([]string, len(vecs))
	for i := range vecs {
		metas[i] = meta("x", i)
		docs[i] = "x"
	}
	if err := st.AddVectors(vecs, metas, docs); err != nil {
		t.Fatalf("first AddVectors() error = %v", err)
	}
	if !st.Stats().Trained {
		t.Fatal("store not trained after first add")
	}

	if err := st.AddVectors([][]float32{{5, 5}}, []Metadata{meta("y", 0)}, []string{"y"}); err != nil {
		t.Fatalf("second AddVectors() error = %v", err)
	}

	got, err := st.Search([]float32{10.1, 10.1}, 2, "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(got))
	}
	for _, r := range got {
		if r.DocumentID != "x" {
			t.Fatalf("nearest neighbours of (10.1,10.1) include %q, want document x only", r.ChunkID)
		}
	}

	// Rebuild on the kept set retrains; deleting everything leaves a fresh
	// untrained index that still answers searches as empty.
	if _, err := st.DeleteDocument("x"); err != nil {
		t.Fatalf("DeleteDocument(x) error = %v", err)
	}
	if !st.Stats().Trained {
		t.Fatal("store with remaining vectors lost training after rebuild")
	}
	if _, err := st.DeleteDocument("y"); err != nil {
		t.Fatalf("DeleteDocument(y) error = %v", err)
	}
	stats := st.Stats()
	if stats.TotalVectors != 0 || stats.Trained {
		t.Fatalf("emptied IVF store Stats() = %+v, want 0 vectors untrained", stats)
	}
	res, err := st.Search([]float32{1, 1}, 3, "")
	if err != nil {
		t.Fatalf("Search() on emptied store error = %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("Search() on emptied store returned %d results, want 0", len(res))
	}
}

func TestHNSWStoreLifecycle(t *testing.T) {
	st, err := New(Config{Dimension: 2, Kind: index.KindHNSW, Metric: index.MetricL2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !st.Stats().Trained {
		t.Fatal("fresh graph store reports untrained; it needs no training phase")
	}

	vecs := [][]float32{{0, 0}, {0.5, 0}, {10, 10}, {10.5, 10}}
	metas := make([]Metadata, len(vecs))
	docs := make([]string, len(vecs))
	for i := range vecs {
		metas[i] = meta("x", i)
		docs[i] = "x"
	}
	if err := st.AddVectors(vecs, metas, docs); err != nil {
		t.Fatalf("AddVectors() error = %v", err)
	}
	if err := st.AddVectors([][]float32{{5, 5}}, []Metadata{meta("y", 0)}, []string{"y"}); err != nil {
		t.Fatalf("AddVectors() error = %v", err)
	}
	stats := st.Stats()
	if stats.Kind != "hnsw" || stats.TotalVectors != 5 || stats.UniqueDocuments != 2 {
		t.Fatalf("Stats() = %+v, want 5 hnsw vectors in 2 documents", stats)
	}

	query := []float32{10.2, 10.1}
	got, err := st.Search(query, 2, "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || got[0].ChunkID != "x_chunk_2" || got[1].ChunkID != "x_chunk_3" {
		t.Fatalf("Search() = %+v, want [x_chunk_2 x_chunk_3]", got)
	}

	dir := t.TempDir()
	if err := st.Save(dir, "graph"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(dir, "graph")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	reloaded, err := loaded.Search(query, 2, "")
	if err != nil {
		t.Fatalf("loaded Search() error = %v", err)
	}
	if !reflect.DeepEqual(got, reloaded) {
		t.Fatalf("loaded store diverges:\nwant %+v\ngot  %+v", got, reloaded)
	}

	removed, err := st.DeleteDocument("x")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if removed != 4 {
		t.Fatalf("DeleteDocument() removed %d, want 4", removed)
	}
	left, err := st.Search(query, 3, "")
	if err != nil {
		t.Fatalf("Search() after delete error = %v", err)
	}
	if len(left) != 1 || left[0].ChunkID != "y_chunk_0" {
		t.Fatalf("Search() after delete = %+v, want only y_chunk_0", left)
	}
}

func TestConcurrentSearchDuringAdds(t *testing.T) {
	st := newFlatStore(t, 3)
	seedTwoDocs(t, st)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := st.Search([]float32{5, 0, 0}, 3, ""); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			v := float32(i)
			err := st.AddVectors(
				[][]float32{{v, v, v}},
				[]Metadata{meta("w", i)},
				[]string{"w"},
			)
			if err != nil {
				errs <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation error = %v", err)
	}

	stats := st.Stats()
	if stats.TotalVectors != 25 {
		t.Fatalf("Stats().TotalVectors = %d after concurrent adds, want 25", stats.TotalVectors)
	}
	if got := len(st.AllForDocument("w")); got != 20 {
		t.Fatalf("AllForDocument(w) = %d entries, want 20", got)
	}
}
