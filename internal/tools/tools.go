// Package tools implements the built-in capabilities: echo, http_fetch,
// web_search, web_page_text and web_summarize.
package tools

import (
	"errors"
	"log"
	"net/http"
	"time"

	"agentgate/config"
	"agentgate/internal/capability"
	"agentgate/internal/llm"
	"agentgate/internal/policy"
)

const (
	userAgent = "Mozilla/5.0 (compatible; AgentGate/1.0; +https://github.com/agentgate)"

	maxDownloadSize   = 1 * 1024 * 1024
	maxTextExtract    = 50000
	defaultMaxResults = 5
	defaultMaxChars   = 20000
	defaultMaxBullets = 8
)

// Toolkit carries the shared plumbing every tool needs.
type Toolkit struct {
	cfg    config.ToolsConfig
	guard  *policy.URLGuard
	llm    llm.Client
	logger *log.Logger

	// fetchClient never follows redirects: a redirect could point at a
	// blocked address the guard already cleared the original URL for.
	fetchClient *http.Client
	// pageClient follows up to 3 redirects for browsing-style tools.
	pageClient *http.Client
}

func NewToolkit(cfg config.ToolsConfig, guard *policy.URLGuard, llmClient llm.Client) *Toolkit {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Toolkit{
		cfg:    cfg,
		guard:  guard,
		llm:    llmClient,
		logger: log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
		fetchClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		pageClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
	}
}

// RegisterAll adds every built-in tool to the registry.
func (t *Toolkit) RegisterAll(reg *capability.Registry) error {
	for _, tool := range []capability.Tool{
		&echoTool{},
		&httpFetchTool{kit: t},
		&webSearchTool{kit: t},
		&webPageTextTool{kit: t},
		&webSummarizeTool{kit: t},
	} {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (t *Toolkit) maxResponseBytes() int64 {
	if t.cfg.MaxResponseBytes > 0 {
		return t.cfg.MaxResponseBytes
	}
	return 64 * 1024
}
