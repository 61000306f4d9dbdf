package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"agentgate/internal/capability"
)

type webPageTextTool struct {
	kit *Toolkit
}

func (w *webPageTextTool) Name() string { return "web_page_text" }

func (w *webPageTextTool) Description() string {
	return "Fetches an HTTPS page and extracts its readable text."
}

// MaxReadBytes is the most one invocation can pull off the wire, used
// to size the byte-quota reservation before the fetch happens.
func (w *webPageTextTool) MaxReadBytes() int64 { return maxDownloadSize }

func (w *webPageTextTool) InputSchema() string {
	return `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "max_chars": {"type": "integer", "minimum": 1}
  }
}`
}

func (w *webPageTextTool) Execute(ctx context.Context, input map[string]interface{}) (capability.Result, error) {
	rawURL, _ := input["url"].(string)
	if rawURL == "" {
		return capability.Result{}, fmt.Errorf("missing 'url' in input")
	}
	maxChars := intArg(input, "max_chars", defaultMaxChars)
	if maxChars > maxTextExtract {
		maxChars = maxTextExtract
	}
	if err := w.kit.guard.Validate(ctx, rawURL); err != nil {
		return capability.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return capability.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.kit.pageClient.Do(req)
	if err != nil {
		return capability.Result{}, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return capability.Result{}, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	isHTML := strings.Contains(contentType, "text/html")
	if !isHTML && !strings.Contains(contentType, "text/plain") {
		return capability.Result{}, fmt.Errorf("unsupported content type: %s", contentType)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return capability.Result{}, fmt.Errorf("read page: %w", err)
	}

	var title, text string
	if isHTML {
		pageURL, parseErr := url.Parse(rawURL)
		if parseErr != nil {
			return capability.Result{}, fmt.Errorf("invalid url: %w", parseErr)
		}
		article, extractErr := readability.FromReader(strings.NewReader(string(content)), pageURL)
		if extractErr != nil {
			return capability.Result{}, fmt.Errorf("extract text: %w", extractErr)
		}
		title = article.Title
		text = strings.TrimSpace(article.TextContent)
	} else {
		text = strings.TrimSpace(string(content))
	}

	truncated := len(text) > maxChars
	if truncated {
		text = text[:maxChars]
	}
	w.kit.logger.Printf("web_page_text url=%s text_len=%d truncated=%v", rawURL, len(text), truncated)

	return capability.Result{
		Output: map[string]interface{}{
			"url":       rawURL,
			"title":     clip(title, 200),
			"text":      text,
			"truncated": truncated,
		},
		BytesFetched: int64(len(content)),
	}, nil
}
