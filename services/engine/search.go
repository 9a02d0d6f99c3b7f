package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearchResult is one hit returned by a web search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchClient performs web_search node queries.
type SearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// DuckDuckGoClient queries the DuckDuckGo instant answer API.
type DuckDuckGoClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewDuckDuckGoClient() *DuckDuckGoClient {
	return &DuckDuckGoClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.duckduckgo.com",
	}
}

func (c *DuckDuckGoClient) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1&skip_disambig=1", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed with status %d", resp.StatusCode)
	}

	var decoded duckDuckGoResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]SearchResult, 0, maxResults)
	if decoded.AbstractText != "" {
		results = append(results, SearchResult{
			Title:   decoded.Heading,
			URL:     decoded.AbstractURL,
			Snippet: decoded.AbstractText,
		})
	}
	for _, topic := range decoded.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		results = topic.collect(results, maxResults)
	}
	return results, nil
}

type duckDuckGoResponse struct {
	Heading       string            `json:"Heading"`
	AbstractText  string            `json:"AbstractText"`
	AbstractURL   string            `json:"AbstractURL"`
	RelatedTopics []duckDuckGoTopic `json:"RelatedTopics"`
}

type duckDuckGoTopic struct {
	Text     string            `json:"Text"`
	FirstURL string            `json:"FirstURL"`
	Topics   []duckDuckGoTopic `json:"Topics"`
}

func (t duckDuckGoTopic) collect(out []SearchResult, max int) []SearchResult {
	if len(out) >= max {
		return out
	}
	if t.FirstURL != "" && t.Text != "" {
		title := t.Text
		if i := strings.Index(title, " - "); i > 0 {
			title = title[:i]
		}
		out = append(out, SearchResult{Title: title, URL: t.FirstURL, Snippet: t.Text})
	}
	for _, sub := range t.Topics {
		if len(out) >= max {
			break
		}
		out = sub.collect(out, max)
	}
	return out
}

// WebSearchRunner queries the configured search client. Search failures
// come back on the "error" port.
type WebSearchRunner struct {
	client SearchClient
}

func (r *WebSearchRunner) Run(ctx context.Context, node Node, inputs map[string]any, ec *ExecutionContext) (any, error) {
	query := ""
	if v, ok := inputs[DefaultInputPort]; ok {
		query = stringify(v)
	} else {
		query = substituteVariables(configString(node.Config, "query"), ec)
	}
	if query == "" {
		return nil, fmt.Errorf("web_search node requires a query")
	}
	if r.client == nil {
		return map[string]any{"results": nil, "error": "web search is not configured"}, nil
	}

	maxResults := int(configFloat(node.Config, "maxResults", 5))
	if maxResults < 1 {
		maxResults = 1
	}

	results, err := r.client.Search(ctx, query, maxResults)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("search for %q timed out", query)
		}
		ec.AddLog(LevelWarning, fmt.Sprintf("Web search failed: %s", msg), node.ID, nil)
		return map[string]any{"results": nil, "error": msg}, nil
	}

	out := make([]any, len(results))
	for i, res := range results {
		out[i] = map[string]any{"title": res.Title, "url": res.URL, "snippet": res.Snippet}
	}
	return map[string]any{"results": out}, nil
}
