package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/romangod6/docs-crawler/internal/fetch"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/romangod6/docs-crawler/internal/sitemap"
	"github.com/romangod6/docs-crawler/internal/storage"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guidePage = `<html><head><title>Getting started | Acme Docs</title></head><body>
<nav>Home | Docs | Blog</nav>
<main>
<h1>Getting started with Acme</h1>
<p>Install the Acme command line tool and run your first build in a few minutes.</p>
<pre><code class="language-bash">acme build ./...</code></pre>
</main>
</body></html>`

const shortPage = `<html><body><main><p>Tiny.</p></main></body></html>`

// docsSite serves a small documentation site whose robots.txt points at
// its sitemap.
func docsSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	html := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nDisallow: /blocked/\n\nSitemap: %s/sitemap.xml\n", srv.URL)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
		for _, p := range []string{"/docs/guide", "/docs/short", "/docs/broken", "/docs/manual.pdf", "/private/secret", "/blocked/page"} {
			b.WriteString("<url><loc>" + srv.URL + p + "</loc><lastmod>2024-03-01</lastmod></url>")
		}
		b.WriteString("</urlset>")
		_, _ = w.Write([]byte(b.String()))
	})
	mux.HandleFunc("/docs/guide", html(guidePage))
	mux.HandleFunc("/docs/short", html(shortPage))
	mux.HandleFunc("/docs/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/docs/manual.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/private/secret", html(guidePage))
	mux.HandleFunc("/blocked/page", html(guidePage))

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestCrawler(t *testing.T) (*Crawler, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "crawler.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { _ = store.Close() })

	logger, _ := logtest.NewNullLogger()
	cfg := CrawlerConfig{
		RequestTimeout: 5 * time.Second,
		Sitemap: sitemap.ProcessorConfig{
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		},
		Extractor: DefaultExtractorConfig(),
	}
	return NewCrawler(store, fetch.NewHTTPFetcher(nil), cfg, logger), store
}

func TestCrawlStoresExtractedPages(t *testing.T) {
	ctx := context.Background()
	srv := docsSite(t)
	c, store := newTestCrawler(t)

	source := models.NewSource("Acme", srv.URL)
	source.ExcludePatterns = []string{`/private/`}
	require.NoError(t, store.CreateSource(ctx, source))

	result, err := c.Crawl(ctx, source)
	require.NoError(t, err)

	assert.Equal(t, 6, result.Discovered)
	assert.Equal(t, 4, result.Visited)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 1, result.Failed)

	docs, err := store.ListDocumentsBySource(ctx, source.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, srv.URL+"/docs/guide", doc.URL)
	assert.Equal(t, "Getting started with Acme", doc.Title)
	assert.NotContains(t, doc.Content, "Home | Docs")
	require.Len(t, doc.CodeBlocks, 1)
	assert.Equal(t, "bash", doc.CodeBlocks[0].Language)
	require.NotNil(t, doc.Score)
	require.NotNil(t, doc.LastMod)
	assert.Equal(t, 2024, doc.LastMod.Year())
}

func TestCrawlHonorsMaxPages(t *testing.T) {
	ctx := context.Background()
	srv := docsSite(t)
	c, store := newTestCrawler(t)

	source := models.NewSource("Acme", srv.URL)
	source.MaxPages = 2
	require.NoError(t, store.CreateSource(ctx, source))

	result, err := c.Crawl(ctx, source)
	require.NoError(t, err)

	assert.Equal(t, 6, result.Discovered)
	assert.Equal(t, 2, result.Stored+result.Skipped+result.Failed)
}

func TestRunSourceRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	srv := docsSite(t)
	c, store := newTestCrawler(t)

	source := models.NewSource("Acme", srv.URL)
	source.CrawlInterval = "6h"
	source.Errors = []string{"previous failure"}
	require.NoError(t, store.CreateSource(ctx, source))

	result, err := c.RunSource(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)

	got, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusCompleted, got.Status)
	assert.Empty(t, got.Errors)
	require.NotNil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.WithinDuration(t, got.LastRun.Add(6*time.Hour), *got.NextRun, time.Second)
	assert.False(t, got.IsDue(time.Now()))
}

func TestRunSourceRecordsFailure(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	c, store := newTestCrawler(t)

	source := models.NewSource("Empty", srv.URL)
	require.NoError(t, store.CreateSource(ctx, source))

	_, err := c.RunSource(ctx, source)
	require.ErrorIs(t, err, ErrNoEntries)

	got, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusError, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0], "no sitemap entries")
	require.NotNil(t, got.NextRun)
}

func TestRunSourceRejectsRunningSource(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCrawler(t)

	source := models.NewSource("Busy", "https://busy.test")
	require.NoError(t, store.CreateSource(ctx, source))
	require.NoError(t, store.ClaimSource(ctx, source.ID))

	_, err := c.RunSource(ctx, source)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	got, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusRunning, got.Status)
	assert.Nil(t, got.LastRun)
}

// gatedSite serves a one-page site whose sitemap blocks until release is
// closed. Every sitemap request is counted and announced on started.
func gatedSite(t *testing.T, release <-chan struct{}, started chan<- struct{}, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nAllow: /\n\nSitemap: %s/sitemap.xml\n", srv.URL)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>%s/docs/guide</loc></url></urlset>`, srv.URL)
	})
	mux.HandleFunc("/docs/guide", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(guidePage))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunSourceConcurrentCallsCrawlOnce(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var hits atomic.Int32
	srv := gatedSite(t, release, started, &hits)
	c, store := newTestCrawler(t)

	source := models.NewSource("Acme", srv.URL)
	require.NoError(t, store.CreateSource(ctx, source))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		run := *source
		go func() {
			_, err := c.RunSource(ctx, &run)
			errs <- err
		}()
	}

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("second run was not rejected")
	}

	close(release)
	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("crawl did not finish")
	}

	assert.Equal(t, int32(1), hits.Load())
	docs, err := store.ListDocumentsBySource(ctx, source.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRunSourceKeepsEditsMadeDuringCrawl(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var hits atomic.Int32
	srv := gatedSite(t, release, started, &hits)
	c, store := newTestCrawler(t)

	source := models.NewSource("Acme", srv.URL)
	require.NoError(t, store.CreateSource(ctx, source))

	done := make(chan error, 1)
	run := *source
	go func() {
		_, err := c.RunSource(ctx, &run)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("crawl did not start")
	}

	edited, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	edited.Name = "Acme docs"
	edited.CrawlInterval = "2h"
	require.NoError(t, store.UpdateSource(ctx, edited))

	close(release)
	require.NoError(t, <-done)

	got, err := store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme docs", got.Name)
	assert.Equal(t, "2h", got.CrawlInterval)
	assert.Equal(t, models.SourceStatusCompleted, got.Status)
	require.NotNil(t, got.LastRun)
}

func TestCrawlKeepsEntryDataAcrossRedirects(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nAllow: /\n\nSitemap: %s/sitemap.xml\n", srv.URL)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>%s/docs/old</loc><lastmod>2024-03-01</lastmod></url></urlset>`, srv.URL)
	})
	mux.HandleFunc("/docs/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/docs/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(guidePage))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, store := newTestCrawler(t)
	source := models.NewSource("Acme", srv.URL)
	require.NoError(t, store.CreateSource(ctx, source))

	result, err := c.Crawl(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)

	docs, err := store.ListDocumentsBySource(ctx, source.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, srv.URL+"/docs/new", docs[0].URL)
	require.NotNil(t, docs[0].Score)
	require.NotNil(t, docs[0].LastMod)
	assert.Equal(t, 2024, docs[0].LastMod.Year())
}

func TestRunSourceWritesSourceLog(t *testing.T) {
	ctx := context.Background()
	srv := docsSite(t)
	c, store := newTestCrawler(t)
	c.config.LogDir = t.TempDir()
	c.config.LogLevel = logrus.InfoLevel

	source := models.NewSource("Acme Docs", srv.URL)
	require.NoError(t, store.CreateSource(ctx, source))

	_, err := c.RunSource(ctx, source)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(c.config.LogDir, "acme_docs", "crawl_acme_docs_*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCrawlCanceledContext(t *testing.T) {
	srv := docsSite(t)
	c, store := newTestCrawler(t)

	source := models.NewSource("Acme", srv.URL)
	require.NoError(t, store.CreateSource(context.Background(), source))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.Crawl(ctx, source)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Stored)
}

func TestRankedEntries(t *testing.T) {
	srv := docsSite(t)
	c, _ := newTestCrawler(t)

	entries := c.RankedEntries(context.Background(), srv.URL, []string{`/docs/`}, []string{`\.pdf$`})

	var urls []string
	for _, e := range entries {
		urls = append(urls, strings.TrimPrefix(e.URL, srv.URL))
		require.NotNil(t, e.Score)
	}
	assert.ElementsMatch(t, []string{"/docs/guide", "/docs/short", "/docs/broken"}, urls)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, *entries[i-1].Score, *entries[i].Score)
	}
}

func TestExtractURL(t *testing.T) {
	srv := docsSite(t)
	c, _ := newTestCrawler(t)

	content, err := c.ExtractURL(context.Background(), srv.URL+"/docs/guide")
	require.NoError(t, err)
	assert.Equal(t, "Getting started with Acme", content.Title)

	_, err = c.ExtractURL(context.Background(), srv.URL+"/docs/short")
	assert.Error(t, err)

	_, err = c.ExtractURL(context.Background(), srv.URL+"/docs/broken")
	assert.ErrorIs(t, err, fetch.ErrUnexpectedStatus)
}
