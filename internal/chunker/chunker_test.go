package chunker

import (
	"strings"
	"testing"
)

func auditRejecting(banned string) AuditFunc {
	return func(chunk string) bool {
		return !strings.Contains(chunk, banned)
	}
}

func TestDecontaminate_WholeInputPassesAuditUnchanged(t *testing.T) {
	c := New(nil)
	text := "This is a perfectly clean paragraph of text."
	result := c.Decontaminate(text, auditRejecting("malicious"))

	if !result.IsClean {
		t.Fatalf("expected IsClean=true, got %+v", result)
	}
	if result.CleanText != text {
		t.Errorf("CleanText = %q, want unchanged %q", result.CleanText, text)
	}
	if len(result.Manifest) != 0 {
		t.Errorf("expected empty manifest, got %v", result.Manifest)
	}
}

func TestDecontaminate_RemovesSingleInjectedParagraph(t *testing.T) {
	c := New(nil)
	text := "First clean paragraph about the weather.\n\nmalicious instructions go here\n\nThird clean paragraph about cooking."

	result := c.Decontaminate(text, auditRejecting("malicious"))

	if result.IsClean {
		t.Fatalf("expected IsClean=false, got %+v", result)
	}
	if strings.Contains(result.CleanText, "malicious") {
		t.Errorf("CleanText still contains the injected text: %q", result.CleanText)
	}
	if !strings.Contains(result.CleanText, "weather") || !strings.Contains(result.CleanText, "cooking") {
		t.Errorf("CleanText dropped surviving paragraphs: %q", result.CleanText)
	}
	if len(result.Manifest) != 1 {
		t.Fatalf("expected exactly one manifest entry, got %d: %+v", len(result.Manifest), result.Manifest)
	}
}

func TestDecontaminate_RemovesSingleInjectedSentence(t *testing.T) {
	c := New(nil)
	text := "This paragraph is fine. malicious instructions follow here. This sentence is also fine."

	result := c.Decontaminate(text, auditRejecting("malicious"))

	if strings.Contains(result.CleanText, "malicious") {
		t.Errorf("CleanText still contains the injected sentence: %q", result.CleanText)
	}
	if !strings.Contains(result.CleanText, "fine") {
		t.Errorf("CleanText dropped surviving sentences: %q", result.CleanText)
	}
}

func TestDecontaminate_UnsplittableContaminatedChunkIsRedacted(t *testing.T) {
	c := New(nil)
	// A single "sentence" with no paragraph/sentence boundaries at all, that
	// never passes audit: there's no finer split available, so it is
	// redacted once recursion bottoms out.
	text := "malicious"

	result := c.Decontaminate(text, auditRejecting("malicious"))

	if result.IsClean {
		t.Fatal("expected IsClean=false for an entirely contaminated, unsplittable input")
	}
	if strings.Contains(result.CleanText, "malicious") {
		t.Errorf("CleanText still contains the banned token: %q", result.CleanText)
	}
	if len(result.Manifest) != 1 {
		t.Fatalf("expected exactly one manifest entry, got %d", len(result.Manifest))
	}
}

func TestDecontaminate_AllCleanChunksPreserveOrder(t *testing.T) {
	c := New(nil)
	text := "alpha paragraph.\n\nbeta paragraph.\n\ngamma paragraph."

	result := c.Decontaminate(text, auditRejecting("nonexistent"))

	if !result.IsClean {
		t.Fatalf("expected IsClean=true, got %+v", result)
	}
}

func TestDecontaminate_Idempotent(t *testing.T) {
	c := New(nil)
	text := "Clean opener.\n\nmalicious payload here\n\nClean closer."
	audit := auditRejecting("malicious")

	once := c.Decontaminate(text, audit)
	twice := c.Decontaminate(once.CleanText, audit)

	if !twice.IsClean {
		t.Errorf("expected re-running Decontaminate on already-clean output to report IsClean=true, got %+v", twice)
	}
	if twice.CleanText != once.CleanText {
		t.Errorf("Decontaminate not idempotent: %q != %q", twice.CleanText, once.CleanText)
	}
}
