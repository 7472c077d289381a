// Package chunker packs selected file entries into token-bounded groups, one
// group per model call, preserving selection priority order.
package chunker

import (
	"errors"

	"github.com/scribeworks/scribe/internal/selector"
)

// ErrNoContent means zero entries survived selection.
var ErrNoContent = errors.New("no analyzable content selected")

// Chunk is one token-bounded group of entries. Index is the stable position
// in the call sequence.
type Chunk struct {
	Index   int
	Entries []selector.Entry
	Tokens  int
}

// Build greedily packs entries, in order, into chunks whose estimated token
// sum stays at or below maxTokens. An entry that alone exceeds the ceiling is
// placed in its own chunk and truncated down to fit rather than dropped.
func Build(entries []selector.Entry, maxTokens int) ([]Chunk, error) {
	if len(entries) == 0 {
		return nil, ErrNoContent
	}

	var chunks []Chunk
	var current []selector.Entry
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Entries: current, Tokens: currentTokens})
		current = nil
		currentTokens = 0
	}

	for _, e := range entries {
		tokens := EstimateTokens(string(e.Content))

		if tokens > maxTokens {
			// Oversized entry: gets its own chunk, truncated to the ceiling.
			flush()
			e.Content = truncateToTokens(e.Content, maxTokens)
			e.Size = int64(len(e.Content))
			e.Truncated = true
			tokens = EstimateTokens(string(e.Content))
			chunks = append(chunks, Chunk{Index: len(chunks), Entries: []selector.Entry{e}, Tokens: tokens})
			continue
		}

		if currentTokens+tokens > maxTokens {
			flush()
		}
		current = append(current, e)
		currentTokens += tokens
	}
	flush()

	return chunks, nil
}

// truncateToTokens cuts content until its estimate fits max. Each pass cuts
// proportionally to the overshoot, so it terminates quickly.
func truncateToTokens(content []byte, max int) []byte {
	if max <= 0 {
		return nil
	}
	for {
		est := EstimateTokens(string(content))
		if est <= max {
			return content
		}
		keep := len(content) * max / est
		if keep >= len(content) {
			keep = len(content) - 1
		}
		content = content[:keep]
	}
}
