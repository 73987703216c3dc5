package chunker

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"study-rag/internal/models"
	"study-rag/internal/tokenizer"
)

// Config controls how document text is cut into chunks. ChunkSize is a token
// budget for the semantic and recursive methods and a word-window width for
// the fixed method; ChunkOverlap is the budget carried between neighbouring
// chunks, in the same unit.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Method       models.ChunkMethod
}

// Chunker cuts a document's full text into an ordered sequence of bounded,
// overlapping chunks. The input is treated as an opaque string; whatever
// extracted it is responsible for the text being sensible.
type Chunker struct {
	cfg     Config
	counter *tokenizer.Counter
}

// New validates cfg and returns a Chunker counting tokens with counter.
// A nil counter selects the offline word counter.
func New(cfg Config, counter *tokenizer.Counter) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size %d: %w", cfg.ChunkSize, models.ErrValidation)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunker: overlap %d outside [0, chunk size): %w", cfg.ChunkOverlap, models.ErrValidation)
	}
	switch cfg.Method {
	case models.MethodFixed, models.MethodSemantic, models.MethodRecursive:
	default:
		return nil, fmt.Errorf("chunker: unknown method %q: %w", cfg.Method, models.ErrValidation)
	}
	if counter == nil {
		counter = tokenizer.NewWordCounter()
	}
	return &Chunker{cfg: cfg, counter: counter}, nil
}

// ChunkDocument cuts text into chunks belonging to documentID. Empty or
// whitespace-only input yields no chunks; well-formed text never fails.
func (c *Chunker) ChunkDocument(text, documentID string) []models.TextChunk {
	if isBlank(text) {
		return nil
	}
	var chunks []models.TextChunk
	switch c.cfg.Method {
	case models.MethodFixed:
		chunks = c.chunkFixed(text, documentID)
	case models.MethodRecursive:
		chunks = c.chunkRecursive(text, documentID)
	default:
		chunks = c.chunkSemantic(text, documentID)
	}
	log.Debug().
		Str("document_id", documentID).
		Str("method", string(c.cfg.Method)).
		Int("chunks", len(chunks)).
		Msg("chunked document")
	return chunks
}

// chunkSemantic greedily accumulates whole sentences up to the token budget.
// Each successive chunk is seeded with the freshest sentences of the closed
// chunk that fit the overlap budget. A sentence that alone exceeds the budget
// becomes its own oversized chunk, never dropped or truncated.
func (c *Chunker) chunkSemantic(text, documentID string) []models.TextChunk {
	sentences := splitSentences(text)
	for i := range sentences {
		sentences[i].tokens = c.counter.Count(sentences[i].text)
	}

	var chunks []models.TextChunk
	emit := func(group []span) {
		chunks = append(chunks, c.newChunk(joinSpans(group), group[0].start, group[len(group)-1].end, documentID, len(chunks)))
	}

	var current []span
	tokens := 0
	for _, s := range sentences {
		if s.tokens > c.cfg.ChunkSize {
			if len(current) > 0 {
				emit(current)
			}
			emit([]span{s})
			current, tokens = nil, 0
			continue
		}
		if tokens+s.tokens > c.cfg.ChunkSize && len(current) > 0 {
			emit(current)
			current, tokens = overlapSeed(current, c.cfg.ChunkOverlap)
			// the seed shrinks further when the incoming sentence would
			// still blow the budget
			for len(current) > 0 && tokens+s.tokens > c.cfg.ChunkSize {
				tokens -= current[0].tokens
				current = current[1:]
			}
		}
		current = append(current, s)
		tokens += s.tokens
	}
	if len(current) > 0 {
		emit(current)
	}
	return chunks
}

// overlapSeed walks backward from the end of group, keeping the newest
// sentences whose combined token count fits the overlap budget. The walk
// stops at the first sentence that would exceed it.
func overlapSeed(group []span, budget int) ([]span, int) {
	var seed []span
	tokens := 0
	for i := len(group) - 1; i >= 0; i-- {
		if tokens+group[i].tokens > budget {
			break
		}
		seed = append([]span{group[i]}, seed...)
		tokens += group[i].tokens
	}
	return seed, tokens
}

// chunkFixed slides a window of ChunkSize words with step
// ChunkSize-ChunkOverlap. The constructor guarantees a positive step.
func (c *Chunker) chunkFixed(text, documentID string) []models.TextChunk {
	words := fieldsWithOffsets(text)
	if len(words) == 0 {
		return nil
	}
	step := c.cfg.ChunkSize - c.cfg.ChunkOverlap
	var chunks []models.TextChunk
	for start := 0; start < len(words); start += step {
		end := start + c.cfg.ChunkSize
		if end > len(words) {
			end = len(words)
		}
		group := words[start:end]
		chunks = append(chunks, c.newChunk(joinSpans(group), group[0].start, group[len(group)-1].end, documentID, len(chunks)))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// recursiveSeparators are tried highest priority first; the empty separator
// is the character-level terminal guarantee.
var recursiveSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}

// chunkRecursive splits on the separator hierarchy, re-splitting any piece
// still over budget with the remaining separators, then accumulates pieces
// greedily like the semantic method but without overlap seeding. Pieces keep
// their trailing separator, so a chunk's text is an exact source substring
// before trimming.
func (c *Chunker) chunkRecursive(text, documentID string) []models.TextChunk {
	pieces := c.splitRecursive(span{text: text, start: 0, end: len(text)}, recursiveSeparators)

	var chunks []models.TextChunk
	emit := func(group []span) {
		if ch, ok := c.sourceChunk(text, group, documentID, len(chunks)); ok {
			chunks = append(chunks, ch)
		}
	}

	var current []span
	tokens := 0
	for _, p := range pieces {
		pt := c.counter.Count(p.text)
		if tokens+pt > c.cfg.ChunkSize && len(current) > 0 {
			emit(current)
			current, tokens = nil, 0
		}
		current = append(current, p)
		tokens += pt
	}
	if len(current) > 0 {
		emit(current)
	}
	return chunks
}

// splitRecursive cuts s into pieces within the token budget, descending the
// separator hierarchy only for pieces that are still too large.
func (c *Chunker) splitRecursive(s span, seps []string) []span {
	if len(seps) == 0 || c.counter.Count(s.text) <= c.cfg.ChunkSize {
		return []span{s}
	}
	parts := splitWithSep(s, seps[0])
	if len(parts) <= 1 && seps[0] != "" {
		return c.splitRecursive(s, seps[1:])
	}
	var out []span
	for _, p := range parts {
		if c.counter.Count(p.text) > c.cfg.ChunkSize {
			out = append(out, c.splitRecursive(p, seps[1:])...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// sourceChunk builds a chunk from the source substring spanned by group with
// surrounding whitespace shaved off. Blank spans produce nothing.
func (c *Chunker) sourceChunk(text string, group []span, documentID string, index int) (models.TextChunk, bool) {
	start, end := group[0].start, group[len(group)-1].end
	s := text[start:end]
	trimmed := trimLeftSpace(s)
	start += len(s) - len(trimmed)
	trimmed = trimRightSpace(trimmed)
	if trimmed == "" {
		return models.TextChunk{}, false
	}
	return c.newChunk(trimmed, start, start+len(trimmed), documentID, index), true
}

func (c *Chunker) newChunk(text string, start, end int, documentID string, index int) models.TextChunk {
	return models.TextChunk{
		ChunkID:    models.FormatChunkID(documentID, index),
		Text:       text,
		StartChar:  start,
		EndChar:    end,
		TokenCount: c.counter.Count(text),
		DocumentID: documentID,
		ChunkIndex: index,
		Method:     c.cfg.Method,
	}
}
