package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"agentgate/internal/capability"
)

type webSearchTool struct {
	kit *Toolkit
}

func (w *webSearchTool) Name() string { return "web_search" }

func (w *webSearchTool) Description() string {
	return "Searches the web via the DuckDuckGo HTML interface and returns title/url/snippet results."
}

func (w *webSearchTool) MaxReadBytes() int64 { return maxDownloadSize }

func (w *webSearchTool) InputSchema() string {
	return `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "max_results": {"type": "integer", "minimum": 1, "maximum": 10}
  }
}`
}

// SearchResult is one parsed search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (w *webSearchTool) Execute(ctx context.Context, input map[string]interface{}) (capability.Result, error) {
	query, _ := input["query"].(string)
	if query == "" {
		return capability.Result{}, fmt.Errorf("missing 'query' in input")
	}
	maxResults := intArg(input, "max_results", defaultMaxResults)
	if maxResults > 10 {
		maxResults = 10
	}

	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return capability.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.kit.pageClient.Do(req)
	if err != nil {
		return capability.Result{}, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return capability.Result{}, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return capability.Result{}, fmt.Errorf("read search response: %w", err)
	}

	results := parseSearchResults(string(content), maxResults)
	w.kit.logger.Printf("web_search query_len=%d results=%d", len(query), len(results))

	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}
	return capability.Result{
		Output:       map[string]interface{}{"results": out},
		BytesFetched: int64(len(content)),
	}, nil
}

// parseSearchResults extracts results from the DuckDuckGo HTML page.
// Result links carry class result__a, snippets class result__snippet.
func parseSearchResults(page string, maxResults int) []SearchResult {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if r, ok := extractResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func extractResult(div *html.Node) (SearchResult, bool) {
	var r SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a") && r.URL == "":
				r.Title = clip(nodeText(n), 200)
				r.URL = unwrapRedirect(attr(n, "href"))
			case hasClass(n, "result__snippet") && r.Snippet == "":
				r.Snippet = clip(nodeText(n), 500)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(div)
	if r.URL == "" || !strings.HasPrefix(r.URL, "https://") {
		return SearchResult{}, false
	}
	return r, true
}

// unwrapRedirect resolves DuckDuckGo's //duckduckgo.com/l/?uddg=...
// redirect wrapper to the target URL.
func unwrapRedirect(raw string) string {
	if !strings.Contains(raw, "duckduckgo.com/l/") || !strings.Contains(raw, "uddg=") {
		return raw
	}
	full := raw
	if strings.HasPrefix(full, "//") {
		full = "https:" + full
	}
	parsed, err := url.Parse(full)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func intArg(input map[string]interface{}, key string, fallback int) int {
	v, ok := input[key]
	if !ok {
		return fallback
	}
	// JSON numbers decode as float64.
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return fallback
}
