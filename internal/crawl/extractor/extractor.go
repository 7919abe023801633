// Package extractor implements the Content Extractor (spec §4.2): fetch a
// normalized URL, locate the main-content element via an ordered selector
// fallback chain, strip chrome, and convert to Markdown.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/docspasta/engine/internal/crawl/urlnorm"
)

// mainContentSelectors are tried in order; the first non-empty match wins.
var mainContentSelectors = []string{
	"main", "article", "[role=main]", ".main-content", ".content", ".article",
	".documentation", ".docs-content", "#main-content", "#content",
}

const chromeSelectors = "script, style, iframe, noscript, [aria-hidden=true], .hidden, .display-none"

// Result is the Content Extractor's output for one URL.
type Result struct {
	HTTPStatus     int
	Title          string
	Markdown       string
	ExtractedLinks []string
	Error          string
}

// Extractor fetches and converts a single page at a time.
type Extractor struct {
	timeout   time.Duration
	userAgent string
}

// New creates an Extractor with the given per-fetch timeout.
func New(timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Extractor{
		timeout:   timeout,
		userAgent: "docspasta/1.0 (+https://docspasta.dev)",
	}
}

// Extract fetches pageURL and returns its extracted content. Every failure,
// including an unparseable pageURL, is reported in Result.Error; the
// returned Go error is always nil.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*Result, error) {
	c := colly.NewCollector(colly.UserAgent(e.userAgent), colly.AllowURLRevisit())
	c.SetRequestTimeout(e.timeout)

	result := &Result{}
	var fetchErr error
	var body []byte

	c.OnResponse(func(r *colly.Response) {
		result.HTTPStatus = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			result.HTTPStatus = r.StatusCode
		}
	})

	if err := c.Visit(pageURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr != nil {
		result.Error = fetchErr.Error()
		return result, nil
	}

	if result.HTTPStatus != 304 && (result.HTTPStatus < 200 || result.HTTPStatus >= 300) {
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("parse html: %v", err)
		return result, nil
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())

	content := selectMainContent(doc)
	content.Find(chromeSelectors).Remove()

	links, err := extractLinks(content, pageURL)
	if err == nil {
		result.ExtractedLinks = links
	}

	contentHTML, err := content.Html()
	if err != nil {
		result.Error = fmt.Sprintf("serialize content: %v", err)
		return result, nil
	}

	markdown, err := md.ConvertString(contentHTML)
	if err != nil {
		result.Error = fmt.Sprintf("convert markdown: %v", err)
		return result, nil
	}
	result.Markdown = markdown

	return result, nil
}

// selectMainContent tries mainContentSelectors in order, falling back to body.
func selectMainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainContentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Find("body")
}

// extractLinks resolves every <a href> within sel against pageURL via
// urlnorm, silently dropping unparseable hrefs and intra-page anchors.
func extractLinks(sel *goquery.Selection, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	var links []string
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		canonical, err := urlnorm.Normalize(href, base)
		if err != nil {
			return
		}
		links = append(links, canonical)
	})
	return links, nil
}
