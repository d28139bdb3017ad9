// Package websearch implements the web search tool over Google Custom Search and Brave.
package websearch

import "strings"

const (
	ProviderGoogle   = "google"
	ProviderBrave    = "brave"
	ProviderDisabled = "disabled"
)

// DefaultSiteFilters restricts searches to the scholarly sources papers are looked up on.
var DefaultSiteFilters = []string{"arxiv.org", "springer.com"}

type SearchRequest struct {
	Query string
	Count int
}

func (r SearchRequest) Normalize() SearchRequest {
	out := r
	out.Query = strings.TrimSpace(out.Query)
	if out.Count <= 0 {
		out.Count = 5
	}
	if out.Count > 10 {
		out.Count = 10
	}
	return out
}

// WithSites appends a "site:a OR site:b" clause to the query.
func (r SearchRequest) WithSites(sites []string) SearchRequest {
	clauses := make([]string, 0, len(sites))
	for _, s := range sites {
		if s = strings.TrimSpace(s); s != "" {
			clauses = append(clauses, "site:"+s)
		}
	}
	if len(clauses) == 0 || strings.TrimSpace(r.Query) == "" {
		return r
	}
	r.Query = strings.TrimSpace(r.Query) + " " + strings.Join(clauses, " OR ")
	return r
}

type ResultItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type SearchResult struct {
	Provider string       `json:"provider"`
	Query    string       `json:"query"`
	Results  []ResultItem `json:"results"`
}

// Text renders the result the way the model reads it.
func (r SearchResult) Text() string {
	if len(r.Results) == 0 {
		return "No good search result was found"
	}
	var b strings.Builder
	for i, it := range r.Results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(it.Title)
		b.WriteString("\n")
		b.WriteString(it.URL)
		if it.Snippet != "" {
			b.WriteString("\n")
			b.WriteString(it.Snippet)
		}
	}
	return b.String()
}
