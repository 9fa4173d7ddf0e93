package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"documind/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// urlExtractor fetches a web page and pulls out its readable text.
type urlExtractor struct {
	client *http.Client
}

func newURLExtractor(timeout time.Duration) *urlExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &urlExtractor{client: &http.Client{Timeout: timeout}}
}

func (e *urlExtractor) Extract(ctx context.Context, input Input) (*models.RawExtraction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "documind/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", input.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", input.URL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", input.URL, err)
	}

	doc.Find("script, style, noscript, nav, footer, iframe").Remove()

	raw := &models.RawExtraction{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		raw.Blocks = append(raw.Blocks, models.TextBlock{Text: title})
	}

	doc.Find("h1, h2, h3, h4, p, li, td, pre, blockquote").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		raw.Blocks = append(raw.Blocks, models.TextBlock{Text: text})
	})

	if len(raw.Blocks) == 0 {
		if body := strings.TrimSpace(doc.Find("body").Text()); body != "" {
			raw.Blocks = append(raw.Blocks, models.TextBlock{Text: strings.Join(strings.Fields(body), " ")})
		}
	}
	return raw, nil
}
