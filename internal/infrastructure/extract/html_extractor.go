// Package extract pulls readable article text out of competitor pages.
package extract

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"BlogPublisher/internal/ports"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"

// contentSelectors are tried in order; the first match wins, then <body>.
var contentSelectors = []string{
	"article",
	".article-content",
	".post-content",
	".entry-content",
	"main",
	".content",
}

var (
	emailExpr    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneExpr    = regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	emojiExpr    = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}]`)
	bylineExpr   = regexp.MustCompile(`(?i)(post author:|comment by|author\s*-)\s*[A-Za-z ]+`)
	navExpr      = regexp.MustCompile(`(?i)enquire now|table of contents|toggle|read more|leave a reply|cancel reply`)
	commentsExpr = regexp.MustCompile(`(?i)this post has \d+ comments`)
	spaceExpr    = regexp.MustCompile(`\s+`)
)

// HTMLExtractor implements ports.Extractor with goquery.
type HTMLExtractor struct {
	client *http.Client
}

var _ ports.Extractor = (*HTMLExtractor)(nil)

// NewHTMLExtractor wires an HTTP client; nil uses a 10s timeout client.
func NewHTMLExtractor(client *http.Client) *HTMLExtractor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTMLExtractor{client: client}
}

// Extract downloads pageURL and returns its cleaned main text.
func (e *HTMLExtractor) Extract(ctx context.Context, pageURL string) (string, error) {
	doc, err := e.fetchDocument(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return Clean(mainText(doc)), nil
}

func (e *HTMLExtractor) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func mainText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return doc.Find("body").First().Text()
}

// Clean strips contact details, bylines, navigation chrome and comment
// threads, then collapses whitespace.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	if loc := commentsExpr.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	text = bylineExpr.ReplaceAllString(text, "")
	text = emailExpr.ReplaceAllString(text, "")
	text = phoneExpr.ReplaceAllString(text, "")
	text = emojiExpr.ReplaceAllString(text, "")
	text = navExpr.ReplaceAllString(text, "")
	return strings.TrimSpace(spaceExpr.ReplaceAllString(text, " "))
}
