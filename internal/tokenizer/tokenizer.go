package tokenizer

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// DefaultEncoding is the BPE encoding used by the embedding and chat models.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens the way the models see them. When the configured
// tiktoken encoding cannot be loaded it falls back to whitespace word
// counting. Counts from the two modes are not comparable with each other;
// this is a known imprecision of the fallback, not an error.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter loads the named encoding, falling back to word counting when
// the encoding is unavailable. An empty name selects DefaultEncoding.
func NewCounter(encoding string) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("token encoding unavailable, using word counts")
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// NewWordCounter returns a Counter that always counts whitespace-separated
// words. Used when running fully offline.
func NewWordCounter() *Counter {
	return &Counter{}
}

// Count returns the token count of text. Deterministic within one mode, and
// cheap enough to call once per sentence while chunking.
func (c *Counter) Count(text string) int {
	if c.enc == nil {
		return len(strings.Fields(text))
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Exact reports whether counts come from the real encoding rather than the
// word-count fallback.
func (c *Counter) Exact() bool { return c.enc != nil }
