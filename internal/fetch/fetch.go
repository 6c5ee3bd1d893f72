// Package fetch downloads web pages and extracts their readable text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// maxPageBytes bounds how much of a page is read before extraction.
const maxPageBytes = 5 << 20

// Page is the readable content of a fetched page.
type Page struct {
	URL   string
	Title string
	Text  string
}

// HTTPError is a non-success HTTP status from the fetched site.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, http.StatusText(e.Code))
}

// ContentFetcher fetches page text via HTTP + readability extraction.
type ContentFetcher struct {
	client  *http.Client
	minText int
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		minText: 100,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Fetch downloads pageURL and returns its main text. Pages whose extracted
// text is shorter than 100 characters are reported as errors.
func (f *ContentFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "hfi/1.0 (style importer)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pageURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("extracting content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < f.minText {
		return nil, fmt.Errorf("no extractable content at %s", pageURL)
	}
	return &Page{URL: pageURL, Title: strings.TrimSpace(article.Title), Text: text}, nil
}
