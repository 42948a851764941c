package summarize

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

var skipPrefixes = []string{"about:", "moz-extension:", "chrome-extension:", "file:", "chrome:", "resource:", "data:"}

// minReadableLen is the least amount of extracted text worth summarizing.
const minReadableLen = 50

// Page is the readable part of a fetched web page.
type Page struct {
	URL   string
	Title string
	Text  string
}

// FetchReadable fetches a URL and extracts readable text content.
// Returns an error for non-HTTP URLs, failed fetches, or pages with too
// little text to summarize.
func FetchReadable(ctx context.Context, url string) (*Page, error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return nil, fmt.Errorf("skipping non-HTTP URL: %s", url)
		}
	}

	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("extract readable content from %s: %w", url, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minReadableLen {
		return nil, fmt.Errorf("not enough readable content at %s", url)
	}

	return &Page{URL: url, Title: article.Title, Text: text}, nil
}
