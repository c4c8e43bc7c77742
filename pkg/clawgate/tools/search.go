// Package tools provides the orchestrator's side effects: web search and
// deferred background tasks handed off to an external agent wrapper.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	searchTimeout    = 15 * time.Second
	maxSearchResults = 5
	searchUserAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// SearchResult is one hit from a web search.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher performs a web search and returns formatted context for the
// model.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// DuckDuckGoSearcher scrapes the DuckDuckGo HTML endpoint. No API key is
// required, which keeps search available in default deployments.
type DuckDuckGoSearcher struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// NewDuckDuckGoSearcher returns a searcher against the public HTML
// endpoint.
func NewDuckDuckGoSearcher(logger *slog.Logger) *DuckDuckGoSearcher {
	return &DuckDuckGoSearcher{
		client:  &http.Client{Timeout: searchTimeout},
		baseURL: "https://html.duckduckgo.com/html/",
		logger:  logger.With("component", "search"),
	}
}

// Search runs the query and renders the top results as a plain-text block
// suitable for prompt injection.
func (s *DuckDuckGoSearcher) Search(ctx context.Context, query string) (string, error) {
	results, err := s.fetch(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimSpace(b.String()), nil
}

func (s *DuckDuckGoSearcher) fetch(ctx context.Context, query string) ([]SearchResult, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing search page: %w", err)
	}
	return parseResults(doc), nil
}

// parseResults extracts results from the DuckDuckGo HTML layout. Redirect
// links carry the real target in the uddg query parameter.
func parseResults(doc *goquery.Document) []SearchResult {
	var results []SearchResult
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find("a.result__snippet").First().Text())
		if title == "" || href == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     resolveRedirect(href),
			Snippet: snippet,
		})
		return len(results) < maxSearchResults
	})
	return results
}

func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
