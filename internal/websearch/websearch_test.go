package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	aitools "github.com/floegence/imagent/internal/ai/tools"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Provider: "bing", APIKey: "k"})
	require.Error(t, err)
	_, err = New(Options{Provider: ProviderBrave})
	require.Error(t, err)

	c, err := New(Options{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, ProviderGoogle, c.opts.Provider)
}

func TestSearchRequest_WithSites(t *testing.T) {
	t.Parallel()

	got := SearchRequest{Query: " attention is all you need "}.WithSites(DefaultSiteFilters)
	require.Equal(t, "attention is all you need site:arxiv.org OR site:springer.com", got.Query)

	require.Equal(t, "x", SearchRequest{Query: "x"}.WithSites([]string{" "}).Query)
}

func TestGoogleSearch(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		gotQuery map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		defer mu.Unlock()
		gotQuery = map[string]string{"key": q.Get("key"), "cx": q.Get("cx"), "q": q.Get("q"), "num": q.Get("num")}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{
				{"title": "Attention Is All You Need", "link": "https://arxiv.org/abs/1706.03762", "snippet": "The dominant sequence transduction models..."},
				{"title": "", "link": ""},
			},
		})
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{Provider: ProviderGoogle, APIKey: "gk", EngineID: "cx1", Endpoint: srv.URL, SiteFilters: DefaultSiteFilters, Count: 3})
	require.NoError(t, err)

	res, err := c.Search(context.Background(), SearchRequest{Query: "transformer"})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]string{
		"key": "gk",
		"cx":  "cx1",
		"q":   "transformer site:arxiv.org OR site:springer.com",
		"num": "3",
	}, gotQuery)
	require.Len(t, res.Results, 1)
	require.Equal(t, "Attention Is All You Need\nhttps://arxiv.org/abs/1706.03762\nThe dominant sequence transduction models...", res.Text())
}

func TestGoogleSearch_RequiresEngineID(t *testing.T) {
	t.Parallel()

	c, err := New(Options{APIKey: "gk", Endpoint: "http://127.0.0.1:0"})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), SearchRequest{Query: "x"})
	require.ErrorContains(t, err, "engine id")
}

func TestBraveSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "bk" || r.URL.Query().Get("count") != "5" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"","url":"https://example.com/a","description":" d "}]}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{Provider: ProviderBrave, APIKey: "bk", Endpoint: srv.URL})
	require.NoError(t, err)

	res, err := c.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	require.Equal(t, []ResultItem{{Title: "https://example.com/a", URL: "https://example.com/a", Snippet: "d"}}, res.Results)
}

func TestSearch_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{Provider: ProviderBrave, APIKey: "bk", Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), SearchRequest{Query: "q"})
	require.ErrorContains(t, err, "status 429")
	require.Equal(t, aitools.ErrorCodeRateLimited, aitools.ClassifyError(aitools.Invocation{ToolName: ToolName}, err).Code)
}

func TestTool_Outcomes(t *testing.T) {
	t.Parallel()

	var empty atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if empty.Load() {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"title":"T","link":"https://arxiv.org/abs/1"}]}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{APIKey: "gk", EngineID: "cx", Endpoint: srv.URL})
	require.NoError(t, err)
	tool := c.Tool()

	res, err := tool.Invoke(context.Background(), json.RawMessage(`{"query":"T"}`))
	require.NoError(t, err)
	require.Equal(t, aitools.OK("T\nhttps://arxiv.org/abs/1"), res)

	empty.Store(true)
	res, err = tool.Invoke(context.Background(), json.RawMessage(`{"query":"T"}`))
	require.NoError(t, err)
	require.Equal(t, aitools.SoftFailure("No good search result was found"), res)

	_, err = tool.Invoke(context.Background(), json.RawMessage(`{}`))
	require.ErrorIs(t, err, aitools.ErrInvalidArguments)
}
