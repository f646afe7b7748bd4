// Package chunk splits oversized replies into transport-sized pieces at
// semantic boundaries: paragraph breaks first, then line breaks, then
// sentence ends, then spaces, with a hard cut as the last resort. Each
// boundary class is only accepted past a minimum fraction of the limit so
// chunks never get pathologically tiny.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Minimum fill fractions per boundary class, expressed as percent of limit.
const (
	paragraphMinPct = 70
	newlineMinPct   = 80
	sentenceMinPct  = 60
	spaceMinPct     = 50
)

var sentenceEnders = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// Split breaks s into ordered chunks of at most limit bytes each. Chunks are
// trimmed; trimming the concatenation reproduces the original content except
// for whitespace collapsed at chunk boundaries. Non-empty input never yields
// an empty result.
func Split(s string, limit int) []string {
	if limit <= 0 {
		return []string{strings.TrimSpace(s)}
	}

	var chunks []string
	rest := s
	for len(rest) > limit {
		cut := findCut(rest, limit)
		piece := strings.TrimSpace(rest[:cut])
		if piece != "" {
			chunks = append(chunks, piece)
		}
		rest = strings.TrimLeft(rest[cut:], " \t\r\n")
	}

	final := strings.TrimSpace(rest)
	if final != "" {
		chunks = append(chunks, final)
	}
	if len(chunks) == 0 && strings.TrimSpace(s) != "" {
		chunks = append(chunks, strings.TrimSpace(s))
	}
	return chunks
}

// findCut picks the split index for window[:limit], in boundary priority
// order. Every candidate must land past its class's minimum fill.
func findCut(s string, limit int) int {
	window := s[:limit]

	// 1. Paragraph break.
	if idx := strings.LastIndex(window, "\n\n"); idx >= limit*paragraphMinPct/100 {
		return idx
	}
	// 2. Single newline.
	if idx := strings.LastIndex(window, "\n"); idx >= limit*newlineMinPct/100 {
		return idx
	}
	// 3. Sentence end closest to (but not exceeding) the limit.
	best := -1
	for _, end := range sentenceEnders {
		if idx := strings.LastIndex(window, end); idx > best {
			best = idx
		}
	}
	if best >= 0 {
		cut := best + 1 // keep the punctuation, drop into the separator
		if cut >= limit*sentenceMinPct/100 {
			return cut
		}
	}
	// 4. Last space.
	if idx := strings.LastIndex(window, " "); idx >= limit*spaceMinPct/100 {
		return idx
	}
	// 5. Hard cut, backed off to a rune boundary so multi-byte characters
	// never get severed.
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return cut
}
