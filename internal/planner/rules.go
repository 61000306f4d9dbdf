package planner

import (
	"fmt"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"')\]]+`)

// extractURLs pulls URLs out of free text, trimming trailing
// punctuation the regexp cannot exclude. Plain http URLs are kept so
// the fetch tool's security check rejects them explicitly instead of
// the prompt silently degrading to a clarification step.
func extractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimRight(m, ".,!?;:"))
	}
	return out
}

var fetchKeywords = []string{
	"fetch", "get", "retrieve", "download", "read", "load",
	"scrape", "crawl", "access", "visit", "open", "check",
	"what is at", "what's at", "content of", "contents of",
	"summarize", "summary of",
}

var echoKeywords = []string{
	"echo", "repeat", "say", "return", "format", "transform",
	"convert", "rephrase", "reword",
}

var searchKeywords = []string{
	"search", "find", "look up", "lookup", "research", "discover",
	"what is", "what are", "who is", "when did", "where is", "how to",
	"latest", "recent", "news about", "information about", "info about",
	"tell me about", "learn about",
}

var summarizeKeywords = []string{
	"summarize", "summary", "summarise", "brief", "tldr", "tl;dr",
	"key points", "main points", "overview", "digest",
}

var queryPrefixes = []string{
	"search for", "find", "look up", "research", "tell me about", "what is", "what are",
}

func matchesAny(prompt string, keywords []string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncatePrompt(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// createRulePlan builds a plan from keyword heuristics. It always
// returns at least one step when echo is allowed, so clarification
// requests still produce output.
func (p *Planner) createRulePlan(prompt string, maxSteps int) Plan {
	urls := extractURLs(prompt)
	wantSummary := matchesAny(prompt, summarizeKeywords)
	wantSearch := matchesAny(prompt, searchKeywords)
	wantFetch := matchesAny(prompt, fetchKeywords)

	var steps []Step
	var goal string

	switch {
	// Web research: search, read the top result, optionally summarize.
	case wantSearch && p.allowed("web_search") && len(urls) == 0:
		query := prompt
		lower := strings.ToLower(query)
		for _, prefix := range queryPrefixes {
			if strings.HasPrefix(lower, prefix) {
				query = strings.TrimSpace(query[len(prefix):])
				break
			}
		}
		steps = append(steps, Step{
			Tool:        "web_search",
			Input:       map[string]interface{}{"query": query, "max_results": 3},
			Description: "Search the web for: " + truncatePrompt(query, 50),
		})
		if p.allowed("web_page_text") && len(steps) < maxSteps {
			steps = append(steps, Step{
				Tool:        "web_page_text",
				Input:       map[string]interface{}{"url": "{{search_result_0_url}}", "max_chars": 15000},
				Description: "Fetch and extract text from top search result",
			})
		}
		if wantSummary && p.allowed("web_summarize") && len(steps) < maxSteps {
			steps = append(steps, summarizeStep())
		}
		goal = "Web research plan for query: " + truncatePrompt(query, 50)

	// A URL plus an explicit action: fetch it, optionally summarize.
	case len(urls) > 0 && (wantFetch || wantSummary):
		url := urls[0]
		if p.allowed("web_page_text") {
			steps = append(steps, pageTextStep(url))
		} else if p.allowed("http_fetch") {
			steps = append(steps, fetchStep(url))
		}
		if wantSummary && p.allowed("web_summarize") && len(steps) < maxSteps {
			steps = append(steps, summarizeStep())
		}
		goal = "Fetch and process URL: " + url

	// A URL with no explicit verb still gets fetched.
	case len(urls) > 0:
		url := urls[0]
		if p.allowed("web_page_text") {
			steps = append(steps, pageTextStep(url))
		} else if p.allowed("http_fetch") {
			steps = append(steps, fetchStep(url))
		}
		goal = "Found URL in prompt, fetching: " + url

	case matchesAny(prompt, echoKeywords) && p.allowed("echo"):
		steps = append(steps, Step{
			Tool:        "echo",
			Input:       map[string]interface{}{"prompt": prompt, "action": "process"},
			Description: "Process and return the requested content",
		})
		goal = "Detected echo/format request"

	case wantSearch && p.allowed("web_search"):
		steps = append(steps, Step{
			Tool:        "web_search",
			Input:       map[string]interface{}{"query": prompt, "max_results": 5},
			Description: "Search the web for: " + truncatePrompt(prompt, 50),
		})
		goal = "General web search for: " + truncatePrompt(prompt, 50)

	default:
		if p.allowed("echo") {
			steps = append(steps, Step{
				Tool: "echo",
				Input: map[string]interface{}{
					"prompt":     prompt,
					"note":       "Unable to determine specific action from prompt",
					"suggestion": "Try: 'search for X', 'summarize URL', or include a URL",
				},
				Description: "Return clarification with the prompt",
			})
		}
		goal = "Could not determine specific action, returning clarification"
	}

	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	return Plan{Goal: goal, Steps: steps, Mode: ModeRules}
}

func pageTextStep(url string) Step {
	return Step{
		Tool:        "web_page_text",
		Input:       map[string]interface{}{"url": url, "max_chars": 20000},
		Description: fmt.Sprintf("Fetch and extract text from %s", url),
	}
}

func fetchStep(url string) Step {
	return Step{
		Tool:        "http_fetch",
		Input:       map[string]interface{}{"url": url},
		Description: fmt.Sprintf("Fetch content from %s", url),
	}
}

func summarizeStep() Step {
	return Step{
		Tool:        "web_summarize",
		Input:       map[string]interface{}{"text": "{{previous_text}}", "max_bullets": 5},
		Description: "Summarize the fetched content",
	}
}
