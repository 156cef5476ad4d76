package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/cloudwego/eino/schema"

	"github.com/telebot-agent/chatengine/internal/errs"
)

// The HTTP scaffolding here (timeout handling, Accept-header
// negotiation, goquery-based extraction, html-to-markdown conversion)
// is grounded on the teacher's internal/tool/webfetch.go. The SSRF
// gate is new: the teacher validates only `strings.HasPrefix(url,
// "http")`, which spec §4.7's mandatory gate requires replacing
// outright, not extending.
const (
	fetchTimeout          = 30 * time.Second
	fetchMaxBodySize      = 5 * 1024 * 1024
	fetchMaxRedirects     = 5
	fetchDefaultMaxLength = 5000
)

var fetchHostBlocklist = map[string]bool{
	"metadata.google.internal": true,
}

// FetchTool implements spec §4.7's url_fetch with a mandatory SSRF
// gate applied to the initial URL and to every redirect hop.
type FetchTool struct {
	client         *http.Client
	readerEndpoint string // "jina" method: a configured reader-mode proxy
}

// NewFetchTool builds a fetch tool. readerEndpoint is the base URL of
// a Jina-reader-compatible proxy used when method="jina"; empty
// disables that method (falls back to a direct fetch).
func NewFetchTool(readerEndpoint string) *FetchTool {
	return &FetchTool{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		readerEndpoint: readerEndpoint,
	}
}

func (t *FetchTool) Name() string { return "url_fetch" }

func (t *FetchTool) Definition() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "url_fetch",
		Desc: "Fetch the contents of a URL (HTTP/HTTPS only; private and internal addresses are rejected).",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"url":        stringParam("The URL to fetch.", true),
			"method":     stringParam("One of: default, jina. Defaults to default.", false),
			"max_length": integerParam("Maximum characters to return, default 5000.", false),
		}),
	}
}

type urlFetchInput struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	MaxLength int    `json:"max_length"`
}

func (t *FetchTool) Execute(ctx context.Context, userID int64, argumentsJSON string) (string, bool, error) {
	var in urlFetchInput
	if err := json.Unmarshal([]byte(argumentsJSON), &in); err != nil {
		return "invalid url_fetch arguments", true, nil
	}
	maxLength := in.MaxLength
	if maxLength <= 0 {
		maxLength = fetchDefaultMaxLength
	}

	target := in.URL
	if in.Method == "jina" && t.readerEndpoint != "" {
		target = strings.TrimSuffix(t.readerEndpoint, "/") + "/" + in.URL
	}

	body, contentType, err := t.fetchWithRedirects(ctx, target)
	if err != nil {
		if errs.IsURLRejected(err) {
			return err.Error(), true, nil
		}
		return "", true, err
	}

	output := extractContent(body, contentType)
	return truncate(output, maxLength), true, nil
}

// fetchWithRedirects performs the request, re-validating every
// redirect hop against validateURL before following it.
func (t *FetchTool) fetchWithRedirects(ctx context.Context, rawURL string) (string, string, error) {
	current := rawURL
	for hop := 0; hop <= fetchMaxRedirects; hop++ {
		u, err := validateURL(ctx, current)
		if err != nil {
			return "", "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return "", "", fmt.Errorf("fetch: build request: %w", err)
		}
		req.Header.Set("User-Agent", "chatengine-url-fetch/1.0")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,application/json;q=0.9,*/*;q=0.1")

		resp, err := t.client.Do(req)
		if err != nil {
			return "", "", fmt.Errorf("fetch: request failed: %w", err)
		}

		if loc := resp.Header.Get("Location"); resp.StatusCode >= 300 && resp.StatusCode < 400 && loc != "" {
			resp.Body.Close()
			next, err := u.Parse(loc)
			if err != nil {
				return "", "", fmt.Errorf("fetch: invalid redirect location: %w", err)
			}
			current = next.String()
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", "", fmt.Errorf("fetch: status %d", resp.StatusCode)
		}

		limited := io.LimitReader(resp.Body, fetchMaxBodySize+1)
		raw, err := io.ReadAll(limited)
		if err != nil {
			return "", "", fmt.Errorf("fetch: read body: %w", err)
		}
		if len(raw) > fetchMaxBodySize {
			return "", "", fmt.Errorf("fetch: response exceeds size limit")
		}
		return string(raw), resp.Header.Get("Content-Type"), nil
	}
	return "", "", fmt.Errorf("fetch: too many redirects")
}

// validateURL is the mandatory SSRF gate from spec §4.7: every clause
// below is an independent rejection reason.
func validateURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.URLRejected("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.URLRejected("url scheme must be http or https")
	}

	host := u.Hostname()
	if host == "" {
		return nil, errs.URLRejected("url has no host")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") {
		return nil, errs.URLRejected("url host is not allowed")
	}
	if fetchHostBlocklist[lower] {
		return nil, errs.URLRejected("url host is blocked")
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if err := rejectUnsafeIP(ip); err != nil {
			return nil, err
		}
		return u, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, errs.URLRejected("url host did not resolve")
	}
	for _, ip := range ips {
		if err := rejectUnsafeIP(ip); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// rejectUnsafeIP blocks loopback, link-local, multicast, RFC1918
// private, and the cloud metadata address.
func rejectUnsafeIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsPrivate() || ip.Equal(net.IPv4(169, 254, 169, 254)) {
		return errs.URLRejected("url resolves to a disallowed address")
	}
	return nil
}

func extractContent(body, contentType string) string {
	if strings.Contains(contentType, "html") {
		if article, err := extractArticle(body); err == nil {
			return article
		}
	}
	return body
}

// extractArticle strips chrome (scripts, nav, headers) and converts
// the remaining HTML to Markdown, the same two-step pipeline the
// teacher's webfetch.go uses for its own text/markdown formats.
func extractArticle(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, nav, header, footer, aside, iframe").Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", err
	}

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")

	return converter.ConvertString(cleaned)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
