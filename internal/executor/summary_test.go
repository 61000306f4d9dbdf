package executor

import (
	"encoding/json"
	"testing"

	"agentgate/internal/planner"
)

func TestResolveTemplates(t *testing.T) {
	t.Parallel()
	results := []map[string]interface{}{
		{
			"results": []interface{}{
				map[string]interface{}{"url": "https://first.example.com", "title": "First"},
				map[string]interface{}{"url": "https://second.example.com", "title": "Second"},
			},
		},
	}

	input := map[string]interface{}{
		"url":   "{{search_result_0_url}}",
		"other": "{{search_result_1_url}}",
		"plain": "untouched",
		"count": float64(3),
	}
	got := resolveTemplates(input, results)
	if got["url"] != "https://first.example.com" {
		t.Fatalf("url = %v", got["url"])
	}
	if got["other"] != "https://second.example.com" {
		t.Fatalf("other = %v", got["other"])
	}
	if got["plain"] != "untouched" || got["count"] != float64(3) {
		t.Fatalf("non-template values changed: %v", got)
	}
}

func TestResolveTemplatesPreviousText(t *testing.T) {
	t.Parallel()
	results := []map[string]interface{}{
		{"text": "extracted page text"},
	}
	got := resolveTemplates(map[string]interface{}{"text": "{{previous_text}}"}, results)
	if got["text"] != "extracted page text" {
		t.Fatalf("text = %v", got["text"])
	}

	// A fetch result exposes body instead of text.
	results = []map[string]interface{}{
		{"body": "raw body"},
	}
	got = resolveTemplates(map[string]interface{}{"text": "{{previous_text}}"}, results)
	if got["text"] != "raw body" {
		t.Fatalf("text from body = %v", got["text"])
	}
}

func TestResolveTemplatesUnresolvable(t *testing.T) {
	t.Parallel()
	// No prior results: the template string survives so the tool can
	// report a meaningful error.
	got := resolveTemplates(map[string]interface{}{"url": "{{search_result_0_url}}"}, nil)
	if got["url"] != "{{search_result_0_url}}" {
		t.Fatalf("url = %v, want template untouched", got["url"])
	}
	got = resolveTemplates(map[string]interface{}{"x": "{{unknown_ref}}"}, nil)
	if got["x"] != "{{unknown_ref}}" {
		t.Fatalf("x = %v, want template untouched", got["x"])
	}
}

func TestOutputSummaryPerTool(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tool   string
		result map[string]interface{}
		want   map[string]interface{}
	}{
		{
			tool:   "http_fetch",
			result: map[string]interface{}{"status_code": float64(200), "body": "hello"},
			want:   map[string]interface{}{"status_code": float64(200), "body_length": float64(5)},
		},
		{
			tool: "web_search",
			result: map[string]interface{}{"results": []interface{}{
				map[string]interface{}{"url": "https://a.example.com"},
			}},
			want: map[string]interface{}{"result_count": float64(1), "urls": []interface{}{"https://a.example.com"}},
		},
		{
			tool:   "web_summarize",
			result: map[string]interface{}{"bullets": []interface{}{"one", "two"}, "method": "heuristic"},
			want:   map[string]interface{}{"bullet_count": float64(2), "method": "heuristic"},
		},
		{
			tool:   "something_else",
			result: map[string]interface{}{"whatever": true},
			want:   map[string]interface{}{"completed": true},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.tool, func(t *testing.T) {
			var got map[string]interface{}
			if err := json.Unmarshal([]byte(outputSummary(tt.tool, tt.result)), &got); err != nil {
				t.Fatalf("summary is not JSON: %v", err)
			}
			for k, want := range tt.want {
				gb, _ := json.Marshal(got[k])
				wb, _ := json.Marshal(want)
				if string(gb) != string(wb) {
					t.Fatalf("%s: summary[%q] = %s, want %s", tt.tool, k, gb, wb)
				}
			}
		})
	}
}

func TestExtractCitationsHTTPSOnly(t *testing.T) {
	t.Parallel()
	var citations []citation
	citations = extractCitations("web_search", map[string]interface{}{
		"results": []interface{}{
			map[string]interface{}{"url": "https://ok.example.com", "title": "OK"},
			map[string]interface{}{"url": "http://nope.example.com", "title": "Nope"},
		},
	}, citations)
	citations = extractCitations("web_page_text", map[string]interface{}{
		"url": "https://page.example.com", "title": "Page",
	}, citations)
	citations = extractCitations("echo", map[string]interface{}{"result": "x"}, citations)

	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2: %+v", len(citations), citations)
	}
	if citations[0].URL != "https://ok.example.com" || citations[1].URL != "https://page.example.com" {
		t.Fatalf("citations = %+v", citations)
	}
}

func TestFinalOutput(t *testing.T) {
	t.Parallel()
	plan := planner.Plan{Steps: []planner.Step{
		{Tool: "web_page_text"},
		{Tool: "web_summarize"},
	}}
	results := []map[string]interface{}{
		{"title": "An Article", "text": "body text"},
		{"bullets": []interface{}{"point one", "point two"}, "method": "heuristic"},
	}
	citations := []citation{
		{URL: "https://a.example.com", Title: "A"},
		{URL: "https://a.example.com", Title: "A again"},
		{URL: "https://b.example.com", Title: "B"},
	}

	raw, err := finalOutput(plan, results, citations)
	if err != nil {
		t.Fatalf("finalOutput() error = %v", err)
	}
	var out struct {
		Summary   string     `json:"summary"`
		Bullets   []string   `json:"bullets"`
		Citations []citation `json:"citations"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if out.Summary == "" {
		t.Fatalf("empty summary")
	}
	if len(out.Bullets) != 2 {
		t.Fatalf("bullets = %v", out.Bullets)
	}
	if len(out.Citations) != 2 {
		t.Fatalf("citations not deduplicated: %+v", out.Citations)
	}
}

func TestFinalOutputEmpty(t *testing.T) {
	t.Parallel()
	raw, err := finalOutput(planner.Plan{}, nil, nil)
	if err != nil {
		t.Fatalf("finalOutput() error = %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if out["summary"] != "No results generated." {
		t.Fatalf("summary = %v", out["summary"])
	}
}
