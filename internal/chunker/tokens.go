package chunker

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token cost of text using the cl100k_base
// encoding. If the encoding cannot be loaded it falls back to len/4, the
// conventional chars-per-token ratio. Either way the result is deterministic
// for a given input and grows with input length.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if enc == nil {
		n := len(text) / 4
		if n < 1 {
			n = 1
		}
		return n
	}
	n := len(enc.Encode(text, nil, nil))
	if n < 1 {
		n = 1
	}
	return n
}
