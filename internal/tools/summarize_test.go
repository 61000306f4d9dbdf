package tools

import (
	"strings"
	"testing"
)

func TestHeuristicSummarize(t *testing.T) {
	t.Parallel()
	text := "The study found that regular exercise improves memory in older adults. " +
		"Researchers followed two hundred participants over eighteen months of training. " +
		"Click here to subscribe to our newsletter for more health updates. " +
		"Short one. " +
		"The key result shows a significant improvement in recall accuracy after six months."

	bullets := heuristicSummarize(text, 3)
	if len(bullets) == 0 || len(bullets) > 3 {
		t.Fatalf("got %d bullets: %v", len(bullets), bullets)
	}
	for _, b := range bullets {
		lower := strings.ToLower(b)
		if strings.Contains(lower, "subscribe") || strings.Contains(lower, "click here") {
			t.Fatalf("boilerplate survived: %q", b)
		}
		if b == "Short one." {
			t.Fatalf("undersized sentence selected")
		}
	}
	// The keyword-heavy opening sentence must rank first.
	if !strings.Contains(bullets[0], "exercise improves memory") {
		t.Fatalf("top bullet = %q", bullets[0])
	}
}

func TestHeuristicSummarizeDeduplicates(t *testing.T) {
	t.Parallel()
	text := "The quick brown fox jumps over the lazy sleeping dog today. " +
		"The quick brown fox jumps over the lazy sleeping dog yesterday. " +
		"Meanwhile a completely different topic concerns deep sea exploration vessels."

	bullets := heuristicSummarize(text, 5)
	if len(bullets) != 2 {
		t.Fatalf("got %d bullets, want 2: %v", len(bullets), bullets)
	}
}

func TestHeuristicSummarizeEmptyInput(t *testing.T) {
	t.Parallel()
	if bullets := heuristicSummarize("", 5); len(bullets) != 0 {
		t.Fatalf("bullets from empty text: %v", bullets)
	}
	if bullets := heuristicSummarize("Tiny.", 5); len(bullets) != 0 {
		t.Fatalf("bullets from undersized text: %v", bullets)
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()
	got := splitSentences("First sentence. Second one! Third?")
	want := []string{"First sentence.", "Second one!", "Third?"}
	if len(got) != len(want) {
		t.Fatalf("splitSentences() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
