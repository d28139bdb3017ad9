package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

const maxBodyBytes = 2 << 20 // 2 MiB

type Options struct {
	Provider string
	APIKey   string
	// EngineID is the Google programmable search engine id (cx).
	EngineID string
	// Endpoint overrides the provider's API URL.
	Endpoint    string
	SiteFilters []string
	Count       int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Client struct {
	opts Options
}

func New(opts Options) (*Client, error) {
	opts.Provider = strings.TrimSpace(strings.ToLower(opts.Provider))
	if opts.Provider == "" {
		opts.Provider = ProviderGoogle
	}
	switch opts.Provider {
	case ProviderGoogle, ProviderBrave:
	default:
		return nil, fmt.Errorf("unsupported web search provider %q", opts.Provider)
	}
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	if opts.APIKey == "" {
		return nil, errors.New("missing web search api key")
	}
	opts.EngineID = strings.TrimSpace(opts.EngineID)
	opts.SiteFilters = slices.Clone(opts.SiteFilters)
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{opts: opts}, nil
}

// Search runs the query with the configured site filters applied.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Count <= 0 {
		req.Count = c.opts.Count
	}
	req = req.Normalize()
	if req.Query == "" {
		return SearchResult{}, errors.New("missing query")
	}
	req = req.WithSites(c.opts.SiteFilters)

	var (
		out SearchResult
		err error
	)
	switch c.opts.Provider {
	case ProviderBrave:
		out, err = c.braveWebSearch(ctx, req)
	default:
		out, err = c.googleSearch(ctx, req)
	}
	if err != nil {
		return SearchResult{}, err
	}
	c.opts.Logger.Debug("web search", "provider", out.Provider, "query", out.Query, "results", len(out.Results))
	return out, nil
}

func (c *Client) endpoint(def string) string {
	if e := strings.TrimSpace(c.opts.Endpoint); e != "" {
		return e
	}
	return def
}

func (c *Client) do(req *http.Request, what string) ([]byte, error) {
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			return nil, fmt.Errorf("%s failed (status %d)", what, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s failed (status %d): %s", what, resp.StatusCode, msg)
	}
	return body, nil
}
