package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const braveWebSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

type braveWebSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (c *Client) braveWebSearch(ctx context.Context, req SearchRequest) (SearchResult, error) {
	endpoint, err := url.Parse(c.endpoint(braveWebSearchEndpoint))
	if err != nil || endpoint == nil {
		return SearchResult{}, errors.New("invalid brave search endpoint")
	}
	q := endpoint.Query()
	q.Set("q", req.Query)
	q.Set("count", strconv.Itoa(req.Count))
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return SearchResult{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", c.opts.APIKey)

	body, err := c.do(httpReq, "brave web search")
	if err != nil {
		return SearchResult{}, err
	}

	var decoded braveWebSearchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return SearchResult{}, errors.New("invalid brave web search response")
	}

	results := make([]ResultItem, 0, len(decoded.Web.Results))
	for _, item := range decoded.Web.Results {
		if it, ok := newItem(item.Title, item.URL, item.Description); ok {
			results = append(results, it)
		}
	}
	return SearchResult{Provider: ProviderBrave, Query: req.Query, Results: results}, nil
}

func newItem(title, link, snippet string) (ResultItem, bool) {
	u := strings.TrimSpace(link)
	if u == "" {
		return ResultItem{}, false
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = u
	}
	return ResultItem{Title: title, URL: u, Snippet: strings.TrimSpace(snippet)}, true
}
