package tools

import (
	"testing"
)

const searchPage = `<html><body>
<div class="results">
  <div class="result results_links">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc">Go Documentation</a>
    <a class="result__snippet" href="#">Official Go documentation and tutorials.</a>
  </div>
  <div class="result results_links">
    <a class="result__a" href="https://pkg.go.dev/std">Standard library</a>
    <a class="result__snippet" href="#">Package index for the standard library.</a>
  </div>
  <div class="result results_links">
    <a class="result__a" href="http://insecure.example.com/page">Insecure result</a>
  </div>
  <div class="result results_links">
    <a class="result__a" href="https://blog.golang.org/">The Go Blog</a>
  </div>
</div>
</body></html>`

func TestParseSearchResults(t *testing.T) {
	t.Parallel()
	results := parseSearchResults(searchPage, 5)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3 (http result dropped): %+v", len(results), results)
	}
	if results[0].URL != "https://go.dev/doc/" {
		t.Fatalf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Go Documentation" {
		t.Fatalf("title = %q", results[0].Title)
	}
	if results[0].Snippet != "Official Go documentation and tutorials." {
		t.Fatalf("snippet = %q", results[0].Snippet)
	}
	if results[1].URL != "https://pkg.go.dev/std" {
		t.Fatalf("direct url = %q", results[1].URL)
	}
}

func TestParseSearchResultsMaxResults(t *testing.T) {
	t.Parallel()
	results := parseSearchResults(searchPage, 1)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestUnwrapRedirect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "protocol relative redirect",
			in:   "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%20b&rut=xyz",
			want: "https://example.com/a b",
		},
		{
			name: "absolute redirect",
			in:   "https://duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2F",
			want: "https://example.org/",
		},
		{
			name: "plain url passes through",
			in:   "https://example.com/direct",
			want: "https://example.com/direct",
		},
		{
			name: "redirect without target",
			in:   "//duckduckgo.com/l/?uddg=&other=1",
			want: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := unwrapRedirect(tt.in); got != tt.want {
				t.Fatalf("unwrapRedirect(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClip(t *testing.T) {
	t.Parallel()
	if got := clip("short", 10); got != "short" {
		t.Fatalf("clip() = %q", got)
	}
	if got := clip("a long string here", 6); got != "a long" {
		t.Fatalf("clip() = %q", got)
	}
}

func TestIntArg(t *testing.T) {
	t.Parallel()
	input := map[string]interface{}{"max_results": float64(7), "bad": "three"}
	if got := intArg(input, "max_results", 5); got != 7 {
		t.Fatalf("intArg() = %d, want 7", got)
	}
	if got := intArg(input, "missing", 5); got != 5 {
		t.Fatalf("intArg(missing) = %d, want fallback", got)
	}
	if got := intArg(input, "bad", 5); got != 5 {
		t.Fatalf("intArg(bad) = %d, want fallback", got)
	}
}
