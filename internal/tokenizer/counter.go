// Package tokenizer counts tokens for a fixed reference encoding, used by
// the semantic chunker to budget chunk sizes without re-embedding every
// candidate split.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// referenceEncoding is the single encoding the chunker budgets against; the
// gateway has no per-model routing concern, unlike a billing-facing proxy.
const referenceEncoding = "cl100k_base"

// Counter provides token counting against the reference encoding, falling
// back to a len/4 heuristic if the encoding cannot be loaded.
type Counter struct {
	mu  sync.RWMutex
	enc *tiktoken.Tiktoken
}

// NewCounter creates a new token counter. Encoding load is lazy and cached.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoding() *tiktoken.Tiktoken {
	c.mu.RLock()
	enc := c.enc
	c.mu.RUnlock()
	if enc != nil {
		return enc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		return c.enc
	}

	enc, err := tiktoken.GetEncoding(referenceEncoding)
	if err != nil {
		return nil
	}
	c.enc = enc
	return enc
}

// CountText estimates the token count of text. Uses tiktoken when the
// reference encoding is available, falls back to len(text)/4 otherwise.
func (c *Counter) CountText(text string) int {
	enc := c.encoding()
	if enc == nil {
		return c.fallbackCount(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// QuickEstimate returns a fast token estimate using the len/4 heuristic,
// skipping tiktoken entirely. For callers that need a cheap approximation
// rather than CountText's exact reference-encoding count.
func (c *Counter) QuickEstimate(text string) int {
	return c.fallbackCount(text)
}

func (c *Counter) fallbackCount(text string) int {
	return len(text) / 4
}
