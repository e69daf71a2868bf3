// Package wiki provides the auxiliary Wikipedia search used when the
// corpus has no answer for a question.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pubrag/pubrag/internal/log"
)

// maxResponseSize caps the API response body at 4 MB.
const maxResponseSize = 4 * 1024 * 1024

// Hit is one Wikipedia search result. Snippet has the API's HTML
// highlighting markup stripped.
type Hit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	PageID  int    `json:"page_id"`
	URL     string `json:"url"`
}

// Client searches Wikipedia through the MediaWiki Action API.
type Client struct {
	baseURL string
	limit   int
	http    *http.Client
	logger  log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Test use mainly.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLimit sets the number of results per search (default 3).
func WithLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

// New creates a Client against baseURL, the full api.php endpoint
// (for example https://en.wikipedia.org/w/api.php).
func New(baseURL string, logger log.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		limit:   3,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchResponse mirrors the list=search API response shape.
type searchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			PageID  int    `json:"pageid"`
		} `json:"search"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// Search runs a full-text search and returns up to the configured
// number of hits. A query with no matches returns an empty slice.
func (c *Client) Search(ctx context.Context, query string) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}

	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(c.limit)},
		"format":   {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "pubrag/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("wikipedia API error %s: %s", parsed.Error.Code, parsed.Error.Info)
	}

	hits := make([]Hit, 0, len(parsed.Query.Search))
	for _, s := range parsed.Query.Search {
		hits = append(hits, Hit{
			Title:   s.Title,
			Snippet: stripHTML(s.Snippet),
			PageID:  s.PageID,
			URL:     pageURL(c.baseURL, s.Title),
		})
	}

	c.logger.Debug("wikipedia search", "query", query, "hits", len(hits))
	return hits, nil
}

// stripHTML removes the <span class="searchmatch"> markup the API wraps
// around matched terms. Unparseable input falls back to the raw string.
func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// pageURL derives the article URL from the api.php endpoint and title.
func pageURL(apiURL, title string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return ""
	}
	u.Path = "/wiki/" + strings.ReplaceAll(title, " ", "_")
	u.RawQuery = ""
	return u.String()
}
