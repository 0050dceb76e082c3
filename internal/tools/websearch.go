package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	searchDefaultCount = 5
	searchMaxCount     = 10
	searchCacheTTL     = 5 * time.Minute
	braveEndpoint      = "https://api.search.brave.com/res/v1/web/search"
	ddgEndpoint        = "https://html.duckduckgo.com/html/"
)

// SearchHit is one web search result.
type SearchHit struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// SearchBackend is a web search provider. Backends are tried in order until
// one returns results.
type SearchBackend interface {
	Search(ctx context.Context, query string, count int) ([]SearchHit, error)
	Name() string
}

// WebSearchTool searches the web through the configured backends with a short
// in-memory cache.
type WebSearchTool struct {
	backends     []SearchBackend
	defaultCount int

	mu    sync.Mutex
	cache map[string]cachedSearch
}

type cachedSearch struct {
	formatted string
	at        time.Time
}

// NewWebSearchTool prefers Brave when an API key is configured and always
// keeps DuckDuckGo as the keyless fallback. defaultCount is the result count
// used when the model does not ask for one; zero means searchDefaultCount.
func NewWebSearchTool(braveAPIKey string, defaultCount int) *WebSearchTool {
	var backends []SearchBackend
	if braveAPIKey != "" {
		backends = append(backends, &braveBackend{apiKey: braveAPIKey, http: searchHTTPClient()})
	}
	backends = append(backends, &ddgBackend{http: searchHTTPClient()})
	if defaultCount < 1 || defaultCount > searchMaxCount {
		defaultCount = searchDefaultCount
	}
	return &WebSearchTool{backends: backends, defaultCount: defaultCount, cache: make(map[string]cachedSearch)}
}

func searchHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return objParams([]string{"query"}, map[string]any{
		"query": strProp("Search query."),
		"count": numProp(fmt.Sprintf("Number of results (1-%d).", searchMaxCount)),
	})
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("query is required")
	}
	count := t.defaultCount
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= searchMaxCount {
		count = int(c)
	}

	cacheKey := fmt.Sprintf("%s|%d", strings.ToLower(query), count)
	t.mu.Lock()
	if hit, ok := t.cache[cacheKey]; ok && time.Since(hit.at) < searchCacheTTL {
		t.mu.Unlock()
		return NewResult(hit.formatted)
	}
	t.mu.Unlock()

	var lastErr error
	for _, backend := range t.backends {
		hits, err := backend.Search(ctx, query, count)
		if err != nil {
			lastErr = err
			slog.Warn("web search backend failed", "backend", backend.Name(), "error", err)
			continue
		}
		if len(hits) == 0 {
			continue
		}
		formatted := formatSearchHits(query, hits, backend.Name())
		t.mu.Lock()
		t.cache[cacheKey] = cachedSearch{formatted: formatted, at: time.Now()}
		t.mu.Unlock()
		return NewResult(formatted)
	}
	if lastErr != nil {
		return ErrorResult("web search failed: " + lastErr.Error()).WithError(lastErr)
	}
	return NewResult("No results found for: " + query)
}

func formatSearchHits(query string, hits []SearchHit, backend string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q (via %s):\n", query, backend)
	for i, h := range hits {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s\n", i+1, h.Title, h.URL)
		if h.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", h.Description)
		}
	}
	return sb.String()
}

// --- Brave ---

type braveBackend struct {
	apiKey string
	http   *http.Client
}

func (b *braveBackend) Name() string { return "brave" }

func (b *braveBackend) Search(ctx context.Context, query string, count int) ([]SearchHit, error) {
	u, _ := url.Parse(braveEndpoint)
	q := u.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprint(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search: status %d", resp.StatusCode)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("brave search: decode: %w", err)
	}
	hits := make([]SearchHit, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	if len(hits) > count {
		hits = hits[:count]
	}
	return hits, nil
}

// --- DuckDuckGo HTML fallback ---

type ddgBackend struct {
	http *http.Client
}

func (d *ddgBackend) Name() string { return "duckduckgo" }

func (d *ddgBackend) Search(ctx context.Context, query string, count int) ([]SearchHit, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ddgEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ddg search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ddg search: status %d", resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("ddg search: read: %w", err)
	}
	hits := parseDDGResults(string(page), count)
	return hits, nil
}

// parseDDGResults pulls result anchors out of the DDG HTML page. The markup
// is stable enough for a fallback path; Brave is the primary backend.
func parseDDGResults(page string, count int) []SearchHit {
	var hits []SearchHit
	rest := page
	for len(hits) < count {
		i := strings.Index(rest, `class="result__a"`)
		if i < 0 {
			break
		}
		chunk := rest[i:]
		href := extractAttr(chunk, "href")
		title := extractInner(chunk)
		rest = chunk[len(`class="result__a"`):]
		if href == "" || title == "" {
			continue
		}
		hits = append(hits, SearchHit{Title: title, URL: cleanDDGURL(href)})
	}
	return hits
}

func extractAttr(chunk, attr string) string {
	marker := attr + `="`
	i := strings.Index(chunk, marker)
	if i < 0 {
		return ""
	}
	rest := chunk[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

func extractInner(chunk string) string {
	i := strings.IndexByte(chunk, '>')
	if i < 0 {
		return ""
	}
	rest := chunk[i+1:]
	j := strings.Index(rest, "</a>")
	if j < 0 {
		return ""
	}
	text := rest[:j]
	text = strings.NewReplacer("<b>", "", "</b>", "", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&#x27;", "'", "&quot;", `"`).Replace(text)
	return strings.TrimSpace(text)
}

// cleanDDGURL unwraps DDG's redirect links (//duckduckgo.com/l/?uddg=...).
func cleanDDGURL(href string) string {
	if strings.Contains(href, "uddg=") {
		if u, err := url.Parse(href); err == nil {
			if target := u.Query().Get("uddg"); target != "" {
				if decoded, err := url.QueryUnescape(target); err == nil {
					return decoded
				}
			}
		}
	}
	return href
}
