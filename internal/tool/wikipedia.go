package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// No Wikipedia client exists in the example corpus that is actually
// importable here (trpc-agent-go/tool/wikipedia is its own go.mod in a
// much larger, unrelated module graph, and ships no implementation
// files in the retrieved pack — only its tests). This calls the
// public MediaWiki action API directly, grounded on the request/
// response shape documented by that package's own client_test.go
// (action=query&list=search, JSON SearchResponse with a Query.Search
// slice).
const wikipediaTimeout = 15 * time.Second

// WikipediaTool implements spec §4.7's wikipedia_search.
type WikipediaTool struct {
	client          *http.Client
	defaultLanguage string
}

// NewWikipediaTool builds a wikipedia tool defaulting to
// defaultLanguage when the call omits one.
func NewWikipediaTool(defaultLanguage string) *WikipediaTool {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &WikipediaTool{
		client:          &http.Client{Timeout: wikipediaTimeout},
		defaultLanguage: defaultLanguage,
	}
}

func (t *WikipediaTool) Name() string { return "wikipedia_search" }

func (t *WikipediaTool) Definition() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "wikipedia_search",
		Desc: "Search Wikipedia and return the top summary entries.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query":    stringParam("The search query.", true),
			"language": stringParam("Wikipedia language code, e.g. en, zh. Defaults to en.", false),
		}),
	}
}

type wikipediaInput struct {
	Query    string `json:"query"`
	Language string `json:"language"`
}

type wikipediaSearchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			PageID  int    `json:"pageid"`
		} `json:"search"`
	} `json:"query"`
}

func (t *WikipediaTool) Execute(ctx context.Context, userID int64, argumentsJSON string) (string, bool, error) {
	var in wikipediaInput
	if err := json.Unmarshal([]byte(argumentsJSON), &in); err != nil {
		return "invalid wikipedia_search arguments", true, nil
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return "query must not be empty", true, nil
	}
	lang := in.Language
	if lang == "" {
		lang = t.defaultLanguage
	}

	endpoint := fmt.Sprintf("https://%s.wikipedia.org/w/api.php", url.PathEscape(lang))
	q := url.Values{}
	q.Set("action", "query")
	q.Set("list", "search")
	q.Set("format", "json")
	q.Set("srlimit", "5")
	q.Set("srsearch", in.Query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", true, err
	}
	req.Header.Set("User-Agent", "chatengine-wikipedia-search/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "wikipedia search failed", true, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Sprintf("wikipedia search failed with status %d", resp.StatusCode), true, nil
	}

	var parsed wikipediaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "wikipedia returned an unreadable response", true, nil
	}

	if len(parsed.Query.Search) == 0 {
		return "no results", true, nil
	}

	var b strings.Builder
	for i, r := range parsed.Query.Search {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n")
		b.WriteString(stripSearchHighlightTags(r.Snippet))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), true, nil
}

// stripSearchHighlightTags removes the <span class="searchmatch">
// wrapper MediaWiki's search API puts around matched terms.
var searchHighlightTagPattern = regexp.MustCompile(`</?span[^>]*>`)

func stripSearchHighlightTags(s string) string {
	return searchHighlightTagPattern.ReplaceAllString(s, "")
}
