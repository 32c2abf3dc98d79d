package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/romangod6/docs-crawler/internal/crawler"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/romangod6/docs-crawler/internal/storage"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCrawler claims through the real store and reports runs instead of
// crawling.
type fakeCrawler struct {
	store   storage.Store
	mu      sync.Mutex
	runs    chan uuid.UUID
	entries []models.SitemapEntry
	lastURL string
	include []string
	exclude []string
}

func (f *fakeCrawler) Claim(ctx context.Context, source *models.Source) error {
	if err := f.store.ClaimSource(ctx, source.ID); err != nil {
		if errors.Is(err, storage.ErrSourceRunning) {
			return crawler.ErrAlreadyRunning
		}
		return err
	}
	source.Status = models.SourceStatusRunning
	return nil
}

func (f *fakeCrawler) RunClaimed(_ context.Context, source *models.Source) (*crawler.CrawlResult, error) {
	f.runs <- source.ID
	return &crawler.CrawlResult{}, nil
}

func (f *fakeCrawler) RankedEntries(_ context.Context, baseURL string, include, exclude []string) []models.SitemapEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastURL, f.include, f.exclude = baseURL, include, exclude
	return f.entries
}

type apiFixture struct {
	handler http.Handler
	store   *storage.SQLiteStore
	crawler *fakeCrawler
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { _ = store.Close() })

	fc := &fakeCrawler{store: store, runs: make(chan uuid.UUID, 4)}
	logger, _ := logtest.NewNullLogger()
	srv := NewServer(0, store, fc, logger)

	return &apiFixture{handler: srv.Handler(), store: store, crawler: fc}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (f *apiFixture) seedDocuments(t *testing.T) *models.Source {
	t.Helper()
	ctx := context.Background()
	source := models.NewSource("Acme", "https://acme.test")
	require.NoError(t, f.store.CreateSource(ctx, source))

	for _, page := range []struct{ path, title, content string }{
		{"/docs/install", "Install", "Install the widgets toolkit with one command."},
		{"/docs/usage", "Usage", "Configure widgets with a YAML file."},
		{"/blog/news", "News", "Quarterly company update."},
	} {
		doc := models.NewDocument(source.ID, "https://acme.test"+page.path, &models.ExtractedContent{
			Title:   page.title,
			Content: page.content,
		})
		require.NoError(t, f.store.UpsertDocument(ctx, doc))
	}
	return source
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSourceCRUD(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/sources", SourceRequest{
		Name:            "Acme",
		BaseURL:         "https://acme.test/docs",
		CrawlInterval:   "12h",
		IncludePatterns: []string{"/docs/"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Source](t, w)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, models.SourceStatusIdle, created.Status)

	w = f.do(t, http.MethodGet, "/api/sources/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"/docs/"}, decode[models.Source](t, w).IncludePatterns)

	w = f.do(t, http.MethodPut, "/api/sources/"+created.ID.String(), SourceRequest{
		Name:     "Acme docs",
		BaseURL:  "https://acme.test/docs",
		MaxPages: 50,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.Source](t, w)
	assert.Equal(t, "Acme docs", updated.Name)
	assert.Equal(t, 50, updated.MaxPages)

	w = f.do(t, http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Source](t, w), 1)

	w = f.do(t, http.MethodDelete, "/api/sources/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/sources/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/api/sources/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSourceValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body SourceRequest
	}{
		{"missing name", SourceRequest{BaseURL: "https://acme.test"}},
		{"bad url", SourceRequest{Name: "Acme", BaseURL: "not a url"}},
		{"bad interval", SourceRequest{Name: "Acme", BaseURL: "https://acme.test", CrawlInterval: "daily"}},
		{"negative max pages", SourceRequest{Name: "Acme", BaseURL: "https://acme.test", MaxPages: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/sources", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestInvalidIDs(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/sources/nope", "/api/documents/nope", "/api/sources/nope/documents"} {
		w := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestDocumentRoutes(t *testing.T) {
	f := newFixture(t)
	source := f.seedDocuments(t)

	w := f.do(t, http.MethodGet, "/api/documents?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data  []models.Document `json:"data"`
		Page  int               `json:"page"`
		Limit int               `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Limit)

	w = f.do(t, http.MethodGet, "/api/documents/search?q=widgets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Data, 2)

	w = f.do(t, http.MethodGet, "/api/documents/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/sources/"+source.ID.String()+"/documents?limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Data, 3)
	assert.Equal(t, 10, page.Limit)

	id := page.Data[0].ID
	w = f.do(t, http.MethodGet, "/api/documents/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[models.Document](t, w).ID)

	w = f.do(t, http.MethodGet, "/api/documents/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEmptyListsAreArrays(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/sources", nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/documents", nil)
	assert.JSONEq(t, `{"data":[],"page":1,"limit":10}`, w.Body.String())
}

func TestTriggerCrawl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	source := models.NewSource("Acme", "https://acme.test")
	require.NoError(t, f.store.CreateSource(ctx, source))

	w := f.do(t, http.MethodPost, "/api/sources/"+source.ID.String()+"/crawl", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case id := <-f.crawler.runs:
		assert.Equal(t, source.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("crawl was not started")
	}

	got, err := f.store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusRunning, got.Status)

	w = f.do(t, http.MethodPost, "/api/sources/"+source.ID.String()+"/crawl", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/sources/"+uuid.NewString()+"/crawl", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerCrawlConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	source := models.NewSource("Acme", "https://acme.test")
	require.NoError(t, f.store.CreateSource(context.Background(), source))

	codes := make(chan int, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/sources/"+source.ID.String()+"/crawl", nil)
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, req)
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	assert.Equal(t, map[int]int{http.StatusAccepted: 1, http.StatusConflict: 3}, counts)
	assert.Len(t, f.crawler.runs, 1)
}

func TestUpdateSourceKeepsRunState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := models.NewSource("Acme", "https://acme.test")
	require.NoError(t, f.store.CreateSource(ctx, source))
	require.NoError(t, f.store.ClaimSource(ctx, source.ID))

	w := f.do(t, http.MethodPut, "/api/sources/"+source.ID.String(), SourceRequest{
		Name:    "Acme docs",
		BaseURL: "https://acme.test",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := f.store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme docs", got.Name)
	assert.Equal(t, models.SourceStatusRunning, got.Status)
}

func TestDiscoverSitemaps(t *testing.T) {
	f := newFixture(t)
	score := 0.4
	f.crawler.entries = []models.SitemapEntry{{URL: "https://acme.test/docs/guide", FromSitemap: true, Score: &score}}

	w := f.do(t, http.MethodGet, "/api/sitemaps?url=https://acme.test&include=/docs/&exclude=/docs/old/&exclude=%5C.pdf%24", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count   int                   `json:"count"`
		Entries []models.SitemapEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "https://acme.test/docs/guide", body.Entries[0].URL)

	f.crawler.mu.Lock()
	assert.Equal(t, "https://acme.test", f.crawler.lastURL)
	assert.Equal(t, []string{"/docs/"}, f.crawler.include)
	assert.Equal(t, []string{"/docs/old/", `\.pdf$`}, f.crawler.exclude)
	f.crawler.mu.Unlock()

	w = f.do(t, http.MethodGet, "/api/sitemaps", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
