// Package sitemap discovers seed links from sitemap.xml and sitemap index
// files, supplementing link discovery for jobs whose seed publishes one.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MaxURLs bounds how many URLs a single discovery call returns, regardless
// of how many sitemaps are nested under an index.
const MaxURLs = 5000

// maxIndexDepth bounds recursion into nested sitemap indexes.
const maxIndexDepth = 2

// URL is a single <url> entry from a sitemap.
type URL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []URL    `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Discoverer fetches and parses a site's sitemap.xml.
type Discoverer struct {
	client *http.Client
}

// New creates a Discoverer with the given per-request timeout.
func New(timeout time.Duration) *Discoverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discoverer{client: &http.Client{Timeout: timeout}}
}

// Discover fetches {scheme}://{host}/sitemap.xml relative to seedURL and
// returns every listed URL, up to MaxURLs, resolving nested sitemap indexes.
// A missing (non-200) or unparseable top-level sitemap returns an error;
// nested sitemaps of an index that fail are skipped.
func (d *Discoverer) Discover(ctx context.Context, seedURL string) ([]string, error) {
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed url: %w", err)
	}

	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", parsed.Scheme, parsed.Host)
	return d.fetch(ctx, sitemapURL, 0)
}

func (d *Discoverer) fetch(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	if depth > maxIndexDepth {
		return nil, nil
	}

	body, err := d.get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var all []string
		for _, entry := range index.Sitemaps {
			if len(all) >= MaxURLs {
				break
			}
			nested, err := d.fetch(ctx, entry.Loc, depth+1)
			if err != nil {
				continue
			}
			all = append(all, nested...)
		}
		if len(all) > MaxURLs {
			all = all[:MaxURLs]
		}
		return all, nil
	}

	var set urlset
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}

	var locs []string
	for _, u := range set.URLs {
		if u.Loc == "" {
			continue
		}
		if len(locs) >= MaxURLs {
			break
		}
		locs = append(locs, u.Loc)
	}
	return locs, nil
}

func (d *Discoverer) get(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "docspasta/1.0 (+https://docspasta.dev)")
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sitemap body: %w", err)
	}
	return body, nil
}
