package sitemap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDiscover_FlatSitemap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>` + "http://example.com/a" + `</loc></url>
  <url><loc>` + "http://example.com/b" + `</loc></url>
</urlset>`))
	}))
	defer srv.Close()

	d := New(2 * time.Second)
	urls, err := d.Discover(context.Background(), srv.URL+"/docs/index")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("len(urls) = %d, want 2", len(urls))
	}
}

func TestDiscover_SitemapIndexRecursesIntoNestedSitemap(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>` + srv.URL + `/sitemap-a.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/sitemap-a.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>` + srv.URL + `/a</loc></url>
</urlset>`))
	})

	d := New(2 * time.Second)
	urls, err := d.Discover(context.Background(), srv.URL+"/docs")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(urls) != 1 || urls[0] != srv.URL+"/a" {
		t.Errorf("urls = %v, want [%s/a]", urls, srv.URL)
	}
}

func TestDiscover_MissingSitemapReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(2 * time.Second)
	_, err := d.Discover(context.Background(), srv.URL+"/")
	if err == nil {
		t.Error("expected an error when sitemap.xml is missing")
	}
}
