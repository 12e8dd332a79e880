package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	maxPageBytes   = 2 << 20 // 2 MB per page
	maxContentRune = 20000   // extracted text cap per page
	userAgent      = "Mozilla/5.0 (compatible; ResearchFlow/1.0)"
)

// scraper fetches web pages and extracts their visible text.
type scraper struct {
	httpClient *http.Client
}

func newScraper(timeout time.Duration) *scraper {
	return &scraper{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// fetch downloads a page and returns its extracted text.
func (s *scraper) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text/plain") {
		return "", fmt.Errorf("fetch %s: unsupported content type %s", pageURL, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}

	text := extractText(string(body))
	if len(text) > maxContentRune {
		text = text[:maxContentRune]
	}
	return text, nil
}

// extractText tokenizes an HTML document and returns its visible text with
// whitespace collapsed. Script, style, head and noscript subtrees are dropped;
// entities are decoded by the tokenizer.
func extractText(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	var b strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed markup past the point of recovery;
			// either way we keep what was extracted so far.
			return collapseWhitespace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func skippedTag(name string) bool {
	switch name {
	case "script", "style", "head", "noscript":
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
