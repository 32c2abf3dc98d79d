package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/romangod6/docs-crawler/internal/fetch"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/romangod6/docs-crawler/internal/sitemap"
	"github.com/romangod6/docs-crawler/internal/storage"
	"github.com/romangod6/docs-crawler/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxPages       = 500
	DefaultParallelism    = 2
	DefaultRequestTimeout = 30 * time.Second
	DefaultCrawlInterval  = 24 * time.Hour
	// MaxCrawlDelay caps the robots.txt Crawl-delay hint.
	MaxCrawlDelay = 10 * time.Second

	entryKey = "entry"
)

// ErrNoEntries is returned when a site yields no crawlable sitemap entries.
var ErrNoEntries = errors.New("no sitemap entries to crawl")

// ErrAlreadyRunning is returned by RunSource for a source that is mid-crawl.
var ErrAlreadyRunning = errors.New("source is already being crawled")

type CrawlerConfig struct {
	UserAgent      string
	MaxPages       int
	Parallelism    int
	RequestTimeout time.Duration
	// Delay between requests to the same host; a larger robots.txt
	// Crawl-delay wins.
	Delay         time.Duration
	CrawlInterval time.Duration
	// LogDir enables per-source log files when set.
	LogDir   string
	LogLevel logrus.Level

	Sitemap   sitemap.ProcessorConfig
	Extractor ExtractorConfig
}

// CrawlResult counts what happened to the entries of one crawl.
type CrawlResult struct {
	Discovered int `json:"discovered"`
	Visited    int `json:"visited"`
	Stored     int `json:"stored"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type Crawler struct {
	store     storage.Store
	fetcher   fetch.Fetcher
	extractor *Extractor
	config    CrawlerConfig
	logger    logrus.FieldLogger
}

func NewCrawler(store storage.Store, fetcher fetch.Fetcher, config CrawlerConfig, logger *logrus.Logger) *Crawler {
	if config.UserAgent == "" {
		config.UserAgent = sitemap.DefaultUserAgent
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultMaxPages
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultParallelism
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.CrawlInterval <= 0 {
		config.CrawlInterval = DefaultCrawlInterval
	}
	if config.Sitemap.UserAgent == "" {
		config.Sitemap.UserAgent = config.UserAgent
	}
	if logger == nil {
		logger = utils.NewLogger("info")
	}
	if config.LogLevel == 0 {
		config.LogLevel = logger.GetLevel()
	}

	return &Crawler{
		store:     store,
		fetcher:   fetcher,
		extractor: NewExtractor(config.Extractor, logger),
		config:    config,
		logger:    logger,
	}
}

// Processor returns a sitemap processor logging to logger.
func (c *Crawler) Processor(logger logrus.FieldLogger) *sitemap.Processor {
	if logger == nil {
		logger = c.logger
	}
	return sitemap.NewProcessor(c.fetcher,
		sitemap.WithProcessorConfig(c.config.Sitemap),
		sitemap.WithProcessorLogger(logger),
	)
}

// RankedEntries discovers the sitemaps of baseURL and returns their entries
// filtered and ordered by crawl priority.
func (c *Crawler) RankedEntries(ctx context.Context, baseURL string, include, exclude []string) []models.SitemapEntry {
	return c.rankedEntries(ctx, c.Processor(nil), baseURL, include, exclude)
}

func (c *Crawler) rankedEntries(ctx context.Context, p *sitemap.Processor, baseURL string, include, exclude []string) []models.SitemapEntry {
	entries := p.DiscoverAndProcessSitemaps(ctx, baseURL)
	entries = p.FilterEntries(entries, include, exclude)
	return p.SortEntriesByPriority(entries, hostname(baseURL))
}

// ExtractURL fetches one page and extracts its content.
func (c *Crawler) ExtractURL(ctx context.Context, pageURL string) (*models.ExtractedContent, error) {
	resp, err := c.fetcher.Get(ctx, pageURL, fetch.Options{
		Timeout: c.config.RequestTimeout,
		Headers: map[string]string{"User-Agent": c.config.UserAgent},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	content := c.extractor.Extract(string(resp.Body), pageURL)
	if content == nil {
		return nil, fmt.Errorf("no extractable content at %s", pageURL)
	}
	return content, nil
}

// RunSource claims source and crawls it, recording the outcome on it:
// status, last and next run, and the error of a failed crawl.
func (c *Crawler) RunSource(ctx context.Context, source *models.Source) (*CrawlResult, error) {
	if err := c.Claim(ctx, source); err != nil {
		return nil, err
	}
	return c.RunClaimed(ctx, source)
}

// Claim marks source as running in the store. Only one caller can hold the
// claim; the others get ErrAlreadyRunning until the run is recorded.
func (c *Crawler) Claim(ctx context.Context, source *models.Source) error {
	err := c.store.ClaimSource(ctx, source.ID)
	if errors.Is(err, storage.ErrSourceRunning) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, source.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to mark source running: %w", err)
	}
	source.Status = models.SourceStatusRunning
	return nil
}

// RunClaimed crawls a source already claimed with Claim and records the
// outcome. Only the run state is written back, so configuration edits made
// during the crawl are kept.
func (c *Crawler) RunClaimed(ctx context.Context, source *models.Source) (*CrawlResult, error) {
	logger, closeLog := c.sourceLogger(source)
	defer closeLog()

	logger.WithField("source", source.Name).WithField("url", source.BaseURL).Info("Starting crawl")
	result, err := c.crawl(ctx, source, logger)

	finished := time.Now()
	next := finished.Add(source.CrawlDuration(c.config.CrawlInterval))
	source.LastRun = &finished
	source.NextRun = &next
	source.UpdatedAt = finished
	if err != nil {
		source.Status = models.SourceStatusError
		source.Errors = []string{err.Error()}
		logger.WithError(err).Error("Crawl failed")
	} else {
		source.Status = models.SourceStatusCompleted
		source.Errors = nil
		logger.WithField("stored", result.Stored).WithField("skipped", result.Skipped).
			WithField("failed", result.Failed).Info("Crawl completed")
	}
	crawlsTotal.WithLabelValues(strings.ToLower(source.Status)).Inc()

	if rerr := c.store.RecordRun(context.WithoutCancel(ctx), source); rerr != nil {
		logger.WithError(rerr).Error("Failed to record crawl outcome")
	}

	return result, err
}

func (c *Crawler) sourceLogger(source *models.Source) (logrus.FieldLogger, func()) {
	if c.config.LogDir == "" {
		return c.logger.WithField("source", source.Name), func() {}
	}
	cl, err := utils.NewCrawlerLogger(source.Name, c.config.LogDir, c.config.LogLevel)
	if err != nil {
		c.logger.WithError(err).Warn("Falling back to the process logger")
		return c.logger.WithField("source", source.Name), func() {}
	}
	return cl.WithField("source", source.Name), func() { _ = cl.Close() }
}

// Crawl discovers, ranks and visits the pages of source and stores every
// page with extractable content.
func (c *Crawler) Crawl(ctx context.Context, source *models.Source) (*CrawlResult, error) {
	return c.crawl(ctx, source, c.logger.WithField("source", source.Name))
}

func (c *Crawler) crawl(ctx context.Context, source *models.Source, logger logrus.FieldLogger) (*CrawlResult, error) {
	result := &CrawlResult{}
	processor := c.Processor(logger)

	discovered := processor.DiscoverAndProcessSitemaps(ctx, source.BaseURL)
	result.Discovered = len(discovered)

	entries := processor.FilterEntries(discovered, source.IncludePatterns, source.ExcludePatterns)
	entries = processor.SortEntriesByPriority(entries, hostname(source.BaseURL))

	maxPages := c.config.MaxPages
	if source.MaxPages > 0 {
		maxPages = source.MaxPages
	}
	if len(entries) > maxPages {
		entries = entries[:maxPages]
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(entries) == 0 {
		return result, fmt.Errorf("%w: %s", ErrNoEntries, source.BaseURL)
	}

	logger.WithField("discovered", result.Discovered).WithField("queued", len(entries)).Info("Crawling sitemap entries")

	delay := c.config.Delay
	if hint := processor.Discovery().CrawlDelay(ctx, source.BaseURL); hint > delay {
		delay = min(hint, MaxCrawlDelay)
	}

	byURL := make(map[string]models.SitemapEntry, len(entries))
	for _, e := range entries {
		byURL[e.URL] = e
	}

	var mu sync.Mutex
	count := func(f func(*CrawlResult)) {
		mu.Lock()
		f(result)
		mu.Unlock()
	}

	collector, err := c.newCollector(ctx, source, delay)
	if err != nil {
		return result, err
	}

	collector.OnResponse(func(r *colly.Response) {
		// After a redirect the request URL is the target; the entry is
		// keyed by the URL that was queued.
		pageURL := r.Request.URL.String()
		entryURL := r.Ctx.Get(entryKey)
		if entryURL == "" {
			entryURL = pageURL
		}
		count(func(res *CrawlResult) { res.Visited++ })

		if !isHTML(r) {
			logger.WithField("url", pageURL).Debug("Skipping non-HTML response")
			crawlPagesTotal.WithLabelValues("skipped").Inc()
			count(func(res *CrawlResult) { res.Skipped++ })
			return
		}

		content := c.extractor.Extract(string(r.Body), pageURL)
		if content == nil {
			logger.WithField("url", pageURL).Debug("No extractable content")
			crawlPagesTotal.WithLabelValues("skipped").Inc()
			count(func(res *CrawlResult) { res.Skipped++ })
			return
		}

		doc := models.NewDocument(source.ID, pageURL, content)
		if entry, ok := byURL[entryURL]; ok {
			doc.Score = entry.Score
			doc.LastMod = entry.LastMod
		}
		if err := c.store.UpsertDocument(ctx, doc); err != nil {
			logger.WithField("url", pageURL).WithError(err).Error("Error saving document")
			crawlPagesTotal.WithLabelValues("failed").Inc()
			count(func(res *CrawlResult) { res.Failed++ })
			return
		}

		logger.WithField("url", pageURL).WithField("title", doc.Title).Debug("Stored document")
		crawlPagesTotal.WithLabelValues("stored").Inc()
		count(func(res *CrawlResult) { res.Stored++ })
	})

	collector.OnError(func(r *colly.Response, err error) {
		logger.WithField("url", r.Request.URL.String()).WithField("status", r.StatusCode).WithError(err).Warn("Error visiting page")
		crawlPagesTotal.WithLabelValues("failed").Inc()
		count(func(res *CrawlResult) {
			res.Visited++
			res.Failed++
		})
	})

	for i, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		logger.WithField("url", entry.URL).Debugf("Queueing URL %d/%d", i+1, len(entries))
		if err := collector.Visit(entry.URL); err != nil {
			status := "failed"
			if errors.Is(err, colly.ErrRobotsTxtBlocked) || errors.Is(err, colly.ErrAlreadyVisited) {
				status = "skipped"
			}
			logger.WithField("url", entry.URL).WithError(err).Info("Not visiting URL")
			crawlPagesTotal.WithLabelValues(status).Inc()
			count(func(res *CrawlResult) {
				if status == "skipped" {
					res.Skipped++
				} else {
					res.Failed++
				}
			})
		}
	}
	collector.Wait()

	return result, ctx.Err()
}

func (c *Crawler) newCollector(ctx context.Context, source *models.Source, delay time.Duration) (*colly.Collector, error) {
	userAgent := c.config.UserAgent
	if source.UserAgent != "" {
		userAgent = source.UserAgent
	}

	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.Async(true),
	)
	collector.IgnoreRobotsTxt = false
	collector.SetRequestTimeout(c.config.RequestTimeout)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.config.Parallelism,
		Delay:       delay,
	}); err != nil {
		return nil, fmt.Errorf("failed to set crawl limits: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if r.Ctx.Get(entryKey) == "" {
			r.Ctx.Put(entryKey, r.URL.String())
		}
	})

	return collector, nil
}

func isHTML(r *colly.Response) bool {
	contentType := strings.ToLower(r.Headers.Get("Content-Type"))
	if contentType == "" {
		return true
	}
	return strings.Contains(contentType, "html")
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
