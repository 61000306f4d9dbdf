package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"agentgate/internal/planner"
)

type citation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// resolveTemplates substitutes {{search_result_N_url}} and
// {{previous_text}} references with values from earlier step results.
// Unresolvable references are left as-is so the tool reports a clear
// validation error.
func resolveTemplates(input map[string]interface{}, results []map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(input))
	for k, v := range input {
		out[k] = v
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
			continue
		}
		ref := s[2 : len(s)-2]
		switch {
		case strings.HasPrefix(ref, "search_result_") && strings.HasSuffix(ref, "_url"):
			var idx int
			if _, err := fmt.Sscanf(ref, "search_result_%d_url", &idx); err != nil {
				continue
			}
			if url := searchResultURL(results, idx); url != "" {
				out[k] = url
			}
		case ref == "previous_text":
			if text := previousText(results); text != "" {
				out[k] = text
			}
		}
	}
	return out
}

func searchResultURL(results []map[string]interface{}, idx int) string {
	if len(results) == 0 {
		return ""
	}
	last := results[len(results)-1]
	items, ok := last["results"].([]interface{})
	if !ok || idx < 0 || idx >= len(items) {
		return ""
	}
	item, ok := items[idx].(map[string]interface{})
	if !ok {
		return ""
	}
	url, _ := item["url"].(string)
	return url
}

func previousText(results []map[string]interface{}) string {
	if len(results) == 0 {
		return ""
	}
	last := results[len(results)-1]
	if text, ok := last["text"].(string); ok && text != "" {
		return text
	}
	if body, ok := last["body"].(string); ok {
		return body
	}
	return ""
}

// outputSummary builds the compact per-step digest that is stored
// instead of raw tool output.
func outputSummary(tool string, result map[string]interface{}) string {
	var summary map[string]interface{}
	switch tool {
	case "http_fetch":
		body, _ := result["body"].(string)
		summary = map[string]interface{}{
			"status_code": result["status_code"],
			"body_length": len(body),
		}
	case "echo":
		keys := []string{}
		if echoed, ok := result["result"].(map[string]interface{}); ok {
			for k := range echoed {
				keys = append(keys, k)
			}
		}
		summary = map[string]interface{}{"echoed": true, "keys": keys}
	case "web_search":
		items, _ := result["results"].([]interface{})
		urls := []string{}
		for i, it := range items {
			if i >= 5 {
				break
			}
			if m, ok := it.(map[string]interface{}); ok {
				if u, ok := m["url"].(string); ok {
					urls = append(urls, u)
				}
			}
		}
		summary = map[string]interface{}{"result_count": len(items), "urls": urls}
	case "web_page_text":
		text, _ := result["text"].(string)
		title, _ := result["title"].(string)
		if len(title) > 100 {
			title = title[:100]
		}
		summary = map[string]interface{}{
			"url":         result["url"],
			"title":       title,
			"text_length": len(text),
			"truncated":   result["truncated"],
		}
	case "web_summarize":
		bullets, _ := result["bullets"].([]interface{})
		summary = map[string]interface{}{
			"bullet_count": len(bullets),
			"method":       result["method"],
		}
	default:
		summary = map[string]interface{}{"completed": true}
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return `{"completed":true}`
	}
	return string(data)
}

// extractCitations tracks https URLs used by web tools.
func extractCitations(tool string, result map[string]interface{}, citations []citation) []citation {
	switch tool {
	case "web_search":
		items, _ := result["results"].([]interface{})
		for _, it := range items {
			m, ok := it.(map[string]interface{})
			if !ok {
				continue
			}
			url, _ := m["url"].(string)
			title, _ := m["title"].(string)
			if strings.HasPrefix(url, "https://") {
				citations = append(citations, citation{URL: url, Title: title})
			}
		}
	case "web_page_text":
		url, _ := result["url"].(string)
		title, _ := result["title"].(string)
		if strings.HasPrefix(url, "https://") {
			citations = append(citations, citation{URL: url, Title: title})
		}
	case "http_fetch":
		if url, ok := result["url"].(string); ok && strings.HasPrefix(url, "https://") {
			citations = append(citations, citation{URL: url})
		}
	}
	return citations
}

// finalOutput aggregates step results into the job's structured output:
// a summary line per step, bullets from any summarization step, and up
// to 10 deduplicated citations.
func finalOutput(plan planner.Plan, results []map[string]interface{}, citations []citation) (json.RawMessage, error) {
	if len(results) == 0 {
		return json.Marshal(map[string]interface{}{
			"summary":   "No results generated.",
			"citations": []citation{},
		})
	}

	var parts []string
	bullets := []interface{}{}
	for i, step := range plan.Steps {
		if i >= len(results) {
			break
		}
		result := results[i]
		switch step.Tool {
		case "http_fetch":
			body, _ := result["body"].(string)
			if len(body) > 400 {
				body = body[:400]
			}
			parts = append(parts, fmt.Sprintf("Fetched URL (status %v): %s", result["status_code"], body))
		case "echo":
			if echoed, ok := result["result"]; ok {
				data, _ := json.Marshal(echoed)
				if len(data) > 300 {
					data = data[:300]
				}
				parts = append(parts, "Echo result: "+string(data))
			} else {
				parts = append(parts, fmt.Sprintf("Step %d completed", i+1))
			}
		case "web_search":
			items, _ := result["results"].([]interface{})
			if len(items) > 0 {
				parts = append(parts, fmt.Sprintf("Found %d search results", len(items)))
			}
		case "web_page_text":
			title, _ := result["title"].(string)
			text, _ := result["text"].(string)
			parts = append(parts, fmt.Sprintf("Extracted text from '%s' (%d chars)", title, len(text)))
		case "web_summarize":
			if b, ok := result["bullets"].([]interface{}); ok {
				bullets = b
			}
			parts = append(parts, fmt.Sprintf("Generated %d summary bullets (%v)", len(bullets), result["method"]))
		}
	}

	seen := map[string]bool{}
	unique := []citation{}
	for _, c := range citations {
		if !seen[c.URL] {
			seen[c.URL] = true
			unique = append(unique, c)
		}
	}
	if len(unique) > 10 {
		unique = unique[:10]
	}

	summary := "Execution completed."
	if len(parts) > 0 {
		summary = strings.Join(parts, "\n")
	}
	return json.Marshal(map[string]interface{}{
		"summary":   summary,
		"bullets":   bullets,
		"citations": unique,
	})
}
