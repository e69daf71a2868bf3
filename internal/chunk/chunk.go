// Package chunk splits document text into fixed-size overlapping chunks
// for embedding.
package chunk

import "strings"

// Split divides text into chunks of at most size characters, where
// consecutive chunks share overlap characters. The window advances by
// size-overlap each step, so every chunk except possibly the last has
// exactly size characters. Chunks that are empty or whitespace-only
// after extraction are dropped.
//
// size must be positive and overlap must be in [0, size); callers are
// expected to validate (config.Validate enforces this for configured
// values).
func Split(text string, size, overlap int) []string {
	if text == "" || size <= 0 || overlap < 0 || overlap >= size {
		return nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		c := text[start:end]
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
		if end == len(text) {
			break
		}
	}
	return chunks
}

// Count returns the number of chunks Split produces for text.
func Count(text string, size, overlap int) int {
	return len(Split(text, size, overlap))
}
