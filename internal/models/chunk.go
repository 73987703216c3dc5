package models

import "fmt"

// ChunkMethod selects the chunking strategy.
type ChunkMethod string

const (
	MethodFixed     ChunkMethod = "fixed"
	MethodSemantic  ChunkMethod = "semantic"
	MethodRecursive ChunkMethod = "recursive"
)

// TextChunk is one retrieval unit cut from a document. Immutable once created.
type TextChunk struct {
	ChunkID    string      `json:"chunk_id"`
	Text       string      `json:"text"`
	StartChar  int         `json:"start_char"`
	EndChar    int         `json:"end_char"`
	TokenCount int         `json:"token_count"`
	DocumentID string      `json:"document_id"`
	ChunkIndex int         `json:"chunk_index"`
	Method     ChunkMethod `json:"method"`
}

// FormatChunkID builds the canonical chunk identifier, unique within a document.
func FormatChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}
