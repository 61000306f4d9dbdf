package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"agentgate/internal/capability"
	"agentgate/internal/llm"
)

type webSummarizeTool struct {
	kit *Toolkit
}

func (w *webSummarizeTool) Name() string { return "web_summarize" }

func (w *webSummarizeTool) Description() string {
	return "Summarizes plain text into bullet points, via the LLM when configured, heuristics otherwise."
}

func (w *webSummarizeTool) InputSchema() string {
	return `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string", "minLength": 1},
    "max_bullets": {"type": "integer", "minimum": 1, "maximum": 15}
  }
}`
}

func (w *webSummarizeTool) Execute(ctx context.Context, input map[string]interface{}) (capability.Result, error) {
	text, _ := input["text"].(string)
	if text == "" {
		return capability.Result{}, fmt.Errorf("missing 'text' in input")
	}
	maxBullets := intArg(input, "max_bullets", defaultMaxBullets)
	if maxBullets > 15 {
		maxBullets = 15
	}

	bullets, method := w.llmSummarize(ctx, text, maxBullets)
	output := map[string]interface{}{
		"bullets": toInterfaceSlice(bullets),
		"method":  method,
	}
	if method == "heuristic" {
		output["notes"] = "Summary generated using text extraction heuristics."
	}
	w.kit.logger.Printf("web_summarize text_len=%d bullets=%d method=%s", len(text), len(bullets), method)
	return capability.Result{Output: output}, nil
}

func (w *webSummarizeTool) llmSummarize(ctx context.Context, text string, maxBullets int) ([]string, string) {
	if w.kit.llm == nil || !w.kit.llm.Configured() {
		return heuristicSummarize(text, maxBullets), "heuristic"
	}
	truncated := text
	if len(truncated) > 8000 {
		truncated = truncated[:8000]
	}
	prompt := fmt.Sprintf(`Summarize the following text in exactly %d bullet points.
Each bullet should be a complete, informative sentence.
Return ONLY a JSON array of strings, nothing else.

Text:
%s

JSON array:`, maxBullets, truncated)

	reply, err := w.kit.llm.Complete(ctx, "You are a precise summarization assistant.", prompt)
	if err != nil {
		w.kit.logger.Printf("llm_summarize_failed err=%v", err)
		return heuristicSummarize(text, maxBullets), "heuristic"
	}
	var bullets []string
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &bullets); err != nil || len(bullets) == 0 {
		return heuristicSummarize(text, maxBullets), "heuristic"
	}
	if len(bullets) > maxBullets {
		bullets = bullets[:maxBullets]
	}
	return bullets, "llm"
}

var sentenceSplit = regexp.MustCompile(`(?s)[.!?]\s+`)

var boilerplateMarkers = []string{"click here", "read more", "subscribe", "cookie", "privacy policy"}

var summaryKeywords = []string{"important", "key", "main", "significant", "research", "study", "found", "shows", "according"}

// heuristicSummarize scores sentences by position, length and keyword
// hits, then picks the best non-duplicate ones.
func heuristicSummarize(text string, maxBullets int) []string {
	sentences := splitSentences(text)

	type scored struct {
		score int
		sent  string
	}
	var candidates []scored
	for i, sent := range sentences {
		sent = strings.TrimSpace(sent)
		if len(sent) < 20 || len(sent) > 300 {
			continue
		}
		lower := strings.ToLower(sent)
		if containsAny(lower, boilerplateMarkers) {
			continue
		}
		score := 0
		if i < 5 {
			score += 5 - i
		}
		if len(sent) > 50 && len(sent) < 200 {
			score += 2
		}
		for _, kw := range summaryKeywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		candidates = append(candidates, scored{score: score, sent: sent})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var selected []string
	for _, c := range candidates {
		if len(selected) >= maxBullets {
			break
		}
		if !tooSimilar(c.sent, selected) {
			selected = append(selected, c.sent)
		}
	}
	return selected
}

func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		loc := sentenceSplit.FindStringIndex(rest)
		if loc == nil {
			out = append(out, rest)
			return out
		}
		// Keep the terminating punctuation with its sentence.
		out = append(out, rest[:loc[0]+1])
		rest = rest[loc[1]:]
	}
}

// tooSimilar rejects a sentence whose word set overlaps an already
// selected one by more than 70%.
func tooSimilar(sent string, selected []string) bool {
	words := wordSet(sent)
	if len(words) == 0 {
		return false
	}
	for _, existing := range selected {
		overlap := 0
		for w := range wordSet(existing) {
			if words[w] {
				overlap++
			}
		}
		if float64(overlap)/float64(len(words)) > 0.7 {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}
