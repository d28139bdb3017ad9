package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

const googleCustomSearchEndpoint = "https://www.googleapis.com/customsearch/v1"

type googleSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (c *Client) googleSearch(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if c.opts.EngineID == "" {
		return SearchResult{}, errors.New("missing google search engine id")
	}
	endpoint, err := url.Parse(c.endpoint(googleCustomSearchEndpoint))
	if err != nil || endpoint == nil {
		return SearchResult{}, errors.New("invalid google search endpoint")
	}
	q := endpoint.Query()
	q.Set("key", c.opts.APIKey)
	q.Set("cx", c.opts.EngineID)
	q.Set("q", req.Query)
	q.Set("num", strconv.Itoa(req.Count))
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return SearchResult{}, err
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq, "google search")
	if err != nil {
		return SearchResult{}, err
	}

	var decoded googleSearchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return SearchResult{}, errors.New("invalid google search response")
	}

	results := make([]ResultItem, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		if it, ok := newItem(item.Title, item.Link, item.Snippet); ok {
			results = append(results, it)
		}
	}
	return SearchResult{Provider: ProviderGoogle, Query: req.Query, Results: results}, nil
}
