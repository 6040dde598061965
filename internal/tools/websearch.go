package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/finch/internal/model"
)

const (
	defaultSearchBaseURL = "https://api.tavily.com"
	searchTimeout        = 10 * time.Second
	defaultNumResults    = 5
	maxNumResults        = 10
)

// WebResult is one ranked web search hit.
type WebResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// WebSearch searches the web via the Tavily API.
type WebSearch struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewWebSearch creates the web search tool with the given API key.
func NewWebSearch(apiKey string) *WebSearch {
	return &WebSearch{
		apiKey:     apiKey,
		baseURL:    defaultSearchBaseURL,
		httpClient: &http.Client{Timeout: searchTimeout},
	}
}

// NewWebSearchWithBaseURL points the tool at a custom endpoint (for testing).
func NewWebSearchWithBaseURL(apiKey, baseURL string) *WebSearch {
	w := NewWebSearch(apiKey)
	w.baseURL = strings.TrimRight(baseURL, "/")
	return w
}

func (w *WebSearch) Name() string { return "web_search" }

func (w *WebSearch) Definition() model.ToolDef {
	return model.NewToolDef(
		"web_search",
		"Search the web for current information. Returns ranked results with title, link, and snippet.",
		map[string]any{
			"query":       map[string]any{"type": "string", "description": "The search query to execute"},
			"num_results": map[string]any{"type": "integer", "description": "Number of results to return (default 5)"},
		},
		[]string{"query"},
	)
}

type webSearchArgs struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
}

// Call executes a search. Any failure — bad arguments, transport error,
// upstream rejection — degrades to an empty result.
func (w *WebSearch) Call(ctx context.Context, argsJSON string) Result {
	var args webSearchArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.Query == "" {
		slog.Warn("web search: invalid arguments", "args", argsJSON, "error", err)
		return EmptyResult()
	}
	if args.NumResults <= 0 || args.NumResults > maxNumResults {
		args.NumResults = defaultNumResults
	}

	results, err := w.search(ctx, args.Query, args.NumResults)
	if err != nil {
		slog.Warn("web search failed, continuing ungrounded", "query", args.Query, "error", err)
		return EmptyResult()
	}
	if len(results) == 0 {
		return EmptyResult()
	}

	content, err := json.Marshal(results)
	if err != nil {
		slog.Warn("web search: marshaling results", "error", err)
		return EmptyResult()
	}
	return Result{Content: string(content)}
}

// tavilyRequest is the JSON body for POST /search.
type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	APIKey     string `json:"api_key"`
}

// tavilyResponse mirrors the subset of the response we consume.
type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (w *WebSearch) search(ctx context.Context, query string, k int) ([]WebResult, error) {
	if w.apiKey == "" {
		return nil, fmt.Errorf("search API key not configured")
	}

	body, err := json.Marshal(tavilyRequest{Query: query, MaxResults: k, APIKey: w.apiKey})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]WebResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, WebResult{
			Title:   r.Title,
			Link:    r.URL,
			Snippet: r.Content,
		})
	}
	return results, nil
}
