// Package chunker implements the recursive minimum-excision decontaminator:
// when a whole input fails a top-level audit but is expected to be only
// partially contaminated (a pasted document with one injected sentence), it
// splits the input into progressively finer chunks, keeps whatever passes
// the audit, and redacts only what never does.
package chunker

import (
	"regexp"
	"strings"

	"github.com/swarmguard/gateway/internal/tokenizer"
)

// MaxDepth bounds the recursion: paragraph split is depth 0, sentence split
// is depth 1+; at depth >= MaxDepth the whole chunk is redacted outright.
const MaxDepth = 4

const redactedPlaceholder = "[REDACTED:CHUNK]"

// AuditFunc decides whether a chunk of text is clean. It must be a pure
// function of its input for the chunker's result to be deterministic.
type AuditFunc func(chunk string) bool

// ManifestEntry records one chunk that was redacted, and the depth at which
// the decision to redact it was made.
type ManifestEntry struct {
	RedactedChunk string
	Reason        string
	Depth         int
	TokenCount    int
}

// Result is the outcome of decontaminating an input.
type Result struct {
	IsClean   bool
	CleanText string
	Manifest  []ManifestEntry
}

var sentenceBoundary = regexp.MustCompile(`(?:[.?!])\s+`)

// Chunker holds the shared token counter used to annotate manifest entries.
type Chunker struct {
	counter *tokenizer.Counter
}

// New constructs a Chunker.
func New(counter *tokenizer.Counter) *Chunker {
	if counter == nil {
		counter = tokenizer.NewCounter()
	}
	return &Chunker{counter: counter}
}

// Decontaminate runs the recursive minimum-excision algorithm against text
// using audit. If the whole text passes audit, it is returned unchanged.
func (c *Chunker) Decontaminate(text string, audit AuditFunc) Result {
	if audit(text) {
		return Result{IsClean: true, CleanText: text, Manifest: nil}
	}

	var manifest []ManifestEntry
	cleanText := c.decontaminateChunk(text, 0, audit, &manifest)
	return Result{
		IsClean:   len(manifest) == 0,
		CleanText: cleanText,
		Manifest:  manifest,
	}
}

func (c *Chunker) decontaminateChunk(chunk string, depth int, audit AuditFunc, manifest *[]ManifestEntry) string {
	if depth >= MaxDepth {
		*manifest = append(*manifest, ManifestEntry{
			RedactedChunk: chunk,
			Reason:        "max recursion depth reached",
			Depth:         depth,
			TokenCount:    c.counter.CountText(chunk),
		})
		return redactedPlaceholder
	}

	pieces := split(chunk, depth)
	if len(pieces) <= 1 {
		// Nothing finer to split into at this depth: recurse with sentence
		// splitting if we haven't tried it yet, otherwise redact outright.
		if depth == 0 {
			return c.decontaminateChunk(chunk, depth+1, audit, manifest)
		}
		*manifest = append(*manifest, ManifestEntry{
			RedactedChunk: chunk,
			Reason:        "failed audit, no further split available",
			Depth:         depth,
			TokenCount:    c.counter.CountText(chunk),
		})
		return redactedPlaceholder
	}

	kept := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if audit(piece) {
			kept = append(kept, piece)
			continue
		}
		kept = append(kept, c.decontaminateChunk(piece, depth+1, audit, manifest))
	}

	return strings.Join(kept, separatorFor(depth))
}

// split divides chunk into pieces per the spec's per-depth splitting rule:
// paragraph boundaries at depth 0, sentence boundaries afterward.
func split(chunk string, depth int) []string {
	if depth == 0 {
		return splitParagraphs(chunk)
	}
	return splitSentences(chunk)
}

func splitParagraphs(text string) []string {
	var raw []string
	if strings.Contains(text, "\n\n") {
		raw = strings.Split(text, "\n\n")
	} else {
		raw = strings.Split(text, "\n")
	}
	return trimAndDropEmpty(raw)
}

func splitSentences(text string) []string {
	raw := sentenceBoundary.Split(text, -1)
	return trimAndDropEmpty(raw)
}

func trimAndDropEmpty(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func separatorFor(depth int) string {
	if depth == 0 {
		return "\n\n"
	}
	return ". "
}
