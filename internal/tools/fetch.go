package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"agentgate/internal/capability"
)

type httpFetchTool struct {
	kit *Toolkit
}

func (f *httpFetchTool) Name() string { return "http_fetch" }

func (f *httpFetchTool) Description() string {
	return "Fetches an HTTPS URL and returns status, content type and body (truncated to the response cap)."
}

func (f *httpFetchTool) MaxReadBytes() int64 { return f.kit.maxResponseBytes() }

func (f *httpFetchTool) InputSchema() string {
	return `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1}
  }
}`
}

func (f *httpFetchTool) Execute(ctx context.Context, input map[string]interface{}) (capability.Result, error) {
	rawURL, _ := input["url"].(string)
	if rawURL == "" {
		return capability.Result{}, fmt.Errorf("missing 'url' in input")
	}
	if err := f.kit.guard.Validate(ctx, rawURL); err != nil {
		return capability.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return capability.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.kit.fetchClient.Do(req)
	if err != nil {
		return capability.Result{}, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	limit := f.kit.maxResponseBytes()
	content, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return capability.Result{}, fmt.Errorf("read response: %w", err)
	}
	truncated := int64(len(content)) > limit
	if truncated {
		content = content[:limit]
	}

	body := string(content)
	if !utf8.ValidString(body) {
		body = fmt.Sprintf("<binary data, %d bytes>", len(content))
	}

	return capability.Result{
		Output: map[string]interface{}{
			"status_code":  resp.StatusCode,
			"content_type": headerOr(resp, "Content-Type", "unknown"),
			"body":         body,
			"truncated":    truncated,
		},
		BytesFetched: int64(len(content)),
	}, nil
}

func headerOr(resp *http.Response, key, fallback string) string {
	if v := resp.Header.Get(key); v != "" {
		return v
	}
	return fallback
}
