package chunker

import (
	"strings"
	"unicode"
)

// span is a piece of source text with its byte offsets and, where the caller
// fills it in, its token count.
type span struct {
	text       string
	start, end int
	tokens     int
}

// splitSentences segments text into trimmed sentences with source offsets.
// A sentence ends after a run of terminators followed by whitespace or the
// end of text, so every non-space byte belongs to exactly one sentence.
func splitSentences(text string) []span {
	var out []span
	start := 0
	for i := 0; i < len(text); {
		if !isTerminator(text[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(text) && isTerminator(text[j]) {
			j++
		}
		if j >= len(text) || isSpaceByte(text[j]) {
			out = appendTrimmed(out, text, start, j)
			start = j
		}
		i = j
	}
	if start < len(text) {
		out = appendTrimmed(out, text, start, len(text))
	}
	return out
}

func isTerminator(b byte) bool { return b == '.' || b == '!' || b == '?' }

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// appendTrimmed appends text[start:end] with surrounding whitespace shaved
// off the span, dropping blank spans entirely.
func appendTrimmed(spans []span, text string, start, end int) []span {
	s := text[start:end]
	trimmed := trimLeftSpace(s)
	start += len(s) - len(trimmed)
	trimmed = trimRightSpace(trimmed)
	if trimmed == "" {
		return spans
	}
	return append(spans, span{text: trimmed, start: start, end: start + len(trimmed)})
}

// fieldsWithOffsets splits text on whitespace keeping each word's offsets.
func fieldsWithOffsets(text string) []span {
	var out []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{text: text[start:i], start: start, end: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, span{text: text[start:], start: start, end: len(text)})
	}
	return out
}

// splitWithSep cuts s on sep, each piece keeping its trailing separator and
// source offsets. The empty separator splits into single runes.
func splitWithSep(s span, sep string) []span {
	if sep == "" {
		out := make([]span, 0, len(s.text))
		for i, r := range s.text {
			w := len(string(r))
			out = append(out, span{text: s.text[i : i+w], start: s.start + i, end: s.start + i + w})
		}
		return out
	}
	var out []span
	pos := 0
	for {
		idx := strings.Index(s.text[pos:], sep)
		if idx < 0 {
			break
		}
		end := pos + idx + len(sep)
		out = append(out, span{text: s.text[pos:end], start: s.start + pos, end: s.start + end})
		pos = end
	}
	if pos < len(s.text) {
		out = append(out, span{text: s.text[pos:], start: s.start + pos, end: s.start + len(s.text)})
	}
	return out
}

// joinSpans joins span texts with single spaces, normalizing the whitespace
// that separated them in the source.
func joinSpans(spans []span) string {
	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func trimLeftSpace(s string) string  { return strings.TrimLeftFunc(s, unicode.IsSpace) }
func trimRightSpace(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }
