package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/romangod6/docs-crawler/internal/fetch"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 2 * time.Second
	DefaultBatchSize   = 3
	DefaultMaxDepth    = 5
	DefaultMaxSitemaps = 500

	sitemapTimeout = 30 * time.Second
)

var (
	// ErrMaxDepth stops expansion of deeply nested sitemap indexes.
	ErrMaxDepth = errors.New("sitemap index nesting too deep")
	// ErrSitemapLimit stops a run that has fetched too many sitemaps.
	ErrSitemapLimit = errors.New("sitemap fetch limit reached")
)

// ProcessorConfig tunes retries, batching and index expansion limits.
// Zero fields take the defaults of DefaultProcessorConfig. A negative
// MaxRetries disables retries and a negative RetryDelay retries at once.
type ProcessorConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	BatchSize   int
	MaxDepth    int
	MaxSitemaps int
	UserAgent   string
}

// DefaultProcessorConfig returns the production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxRetries:  DefaultMaxRetries,
		RetryDelay:  DefaultRetryDelay,
		BatchSize:   DefaultBatchSize,
		MaxDepth:    DefaultMaxDepth,
		MaxSitemaps: DefaultMaxSitemaps,
		UserAgent:   DefaultUserAgent,
	}
}

func (c ProcessorConfig) normalize() ProcessorConfig {
	def := DefaultProcessorConfig()
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = def.MaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	switch {
	case c.RetryDelay == 0:
		c.RetryDelay = def.RetryDelay
	case c.RetryDelay < 0:
		c.RetryDelay = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.MaxSitemaps <= 0 {
		c.MaxSitemaps = def.MaxSitemaps
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	return c
}

// Processor is the entry point of sitemap handling: discovery, fetching
// with retries, parsing, index expansion, scoring and deduplication.
type Processor struct {
	fetcher   fetch.Fetcher
	discovery *Discovery
	parser    *Parser
	logger    logrus.FieldLogger
	cfg       ProcessorConfig
	retry     retrypolicy.RetryPolicy[*fetch.Response]
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets the logger shared by the processor, its parser
// and its discovery.
func WithProcessorLogger(logger logrus.FieldLogger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithProcessorConfig replaces the default configuration.
func WithProcessorConfig(cfg ProcessorConfig) ProcessorOption {
	return func(p *Processor) { p.cfg = cfg }
}

// NewProcessor creates a Processor issuing every request through fetcher.
func NewProcessor(fetcher fetch.Fetcher, opts ...ProcessorOption) *Processor {
	p := &Processor{
		fetcher: fetcher,
		cfg:     DefaultProcessorConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cfg = p.cfg.normalize()
	p.logger = orDiscard(p.logger)
	p.parser = NewParser(p.logger)
	p.discovery = NewDiscovery(fetcher, WithDiscoveryLogger(p.logger), WithDiscoveryUserAgent(p.cfg.UserAgent))
	p.retry = newRetryPolicy(p.cfg, p.logger)
	return p
}

// newRetryPolicy retries failed fetches with delays of RetryDelay,
// 2*RetryDelay, 4*RetryDelay... and hands back the last error once
// MaxRetries is exhausted.
func newRetryPolicy(cfg ProcessorConfig, logger logrus.FieldLogger) retrypolicy.RetryPolicy[*fetch.Response] {
	builder := retrypolicy.NewBuilder[*fetch.Response]().
		HandleIf(func(_ *fetch.Response, err error) bool {
			return err != nil
		}).
		AbortIf(func(_ *fetch.Response, err error) bool {
			return errors.Is(err, context.Canceled)
		}).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*fetch.Response]) {
			logger.WithField("attempt", e.Attempts()).WithError(e.LastError()).Warn("Retrying sitemap fetch")
		})

	switch {
	case cfg.RetryDelay <= 0:
	case cfg.MaxRetries > 1:
		maxDelay := cfg.RetryDelay * time.Duration(1<<(cfg.MaxRetries-1))
		builder = builder.WithBackoff(cfg.RetryDelay, maxDelay)
	default:
		builder = builder.WithDelay(cfg.RetryDelay)
	}
	return builder.Build()
}

// Discovery exposes the discovery component, e.g. for robots.txt hints.
func (p *Processor) Discovery() *Discovery {
	return p.discovery
}

// Parser exposes the parser used for every payload.
func (p *Processor) Parser() *Parser {
	return p.parser
}

// run carries the guards shared by every sitemap fetched for one call.
type run struct {
	mu          sync.Mutex
	visited     map[string]bool
	fetched     int
	maxSitemaps int
}

func newRun(maxSitemaps int) *run {
	return &run{visited: make(map[string]bool), maxSitemaps: maxSitemaps}
}

// claim marks sitemapURL as fetched. It returns false for URLs already seen
// in this run and ErrSitemapLimit once the budget is spent.
func (r *run) claim(sitemapURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visited[sitemapURL] {
		return false, nil
	}
	if r.fetched >= r.maxSitemaps {
		return false, ErrSitemapLimit
	}
	r.visited[sitemapURL] = true
	r.fetched++
	return true, nil
}

// ProcessSitemap fetches one sitemap (following indexes) and returns its
// scored entries. It never fails; errors are logged and yield an empty slice.
func (p *Processor) ProcessSitemap(ctx context.Context, sitemapURL string) []models.SitemapEntry {
	return p.processSitemap(ctx, sitemapURL, 0, newRun(p.cfg.MaxSitemaps))
}

func (p *Processor) processSitemap(ctx context.Context, sitemapURL string, depth int, r *run) []models.SitemapEntry {
	entries, err := p.fetchAndParse(ctx, sitemapURL, depth, r)
	if err != nil {
		sitemapFetchesTotal.WithLabelValues("failed").Inc()
		p.logger.WithField("sitemap", sitemapURL).WithError(err).Error("Failed to process sitemap")
		return []models.SitemapEntry{}
	}
	return entries
}

func (p *Processor) fetchAndParse(ctx context.Context, sitemapURL string, depth int, r *run) ([]models.SitemapEntry, error) {
	if depth > p.cfg.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrMaxDepth, depth)
	}
	fresh, err := r.claim(sitemapURL)
	if err != nil {
		return nil, err
	}
	if !fresh {
		p.logger.WithField("sitemap", sitemapURL).Debug("Sitemap already processed in this run")
		return []models.SitemapEntry{}, nil
	}

	resp, err := p.fetchWithRetry(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	sitemapFetchesTotal.WithLabelValues("ok").Inc()

	baseDomain := hostOf(sitemapURL)
	body := string(resp.Body)

	if isJSONResponse(resp, sitemapURL) {
		return scoreAll(p.parser.ProcessJSONSitemap(body), baseDomain), nil
	}

	if p.parser.IsSitemapIndex(body) {
		index, err := p.parser.ParseSitemapIndex(body)
		if err != nil {
			return nil, err
		}
		return p.expandIndex(ctx, sitemapURL, index, depth, r), nil
	}

	return scoreAll(p.parser.ParseSitemap(body), baseDomain), nil
}

// expandIndex processes child sitemaps one after another. A failing child
// contributes nothing; its siblings are still processed.
func (p *Processor) expandIndex(ctx context.Context, indexURL string, index *models.SitemapIndex, depth int, r *run) []models.SitemapEntry {
	parent, err := url.Parse(indexURL)
	if err != nil {
		return []models.SitemapEntry{}
	}

	p.logger.WithField("sitemap", indexURL).WithField("children", len(index.Sitemaps)).Debug("Expanding sitemap index")

	all := []models.SitemapEntry{}
	for _, child := range index.Sitemaps {
		if ctx.Err() != nil {
			break
		}
		childURL, err := resolveReference(parent, child)
		if err != nil {
			p.logger.WithField("sitemap", indexURL).WithField("child", child).WithError(err).Warn("Rejected child sitemap")
			continue
		}
		all = append(all, p.processSitemap(ctx, childURL, depth+1, r)...)
	}
	return all
}

func (p *Processor) fetchWithRetry(ctx context.Context, sitemapURL string) (*fetch.Response, error) {
	return failsafe.With[*fetch.Response](p.retry).WithContext(ctx).Get(func() (*fetch.Response, error) {
		resp, err := p.fetcher.Get(ctx, sitemapURL, fetch.Options{
			Timeout: sitemapTimeout,
			Headers: map[string]string{
				"User-Agent":      p.cfg.UserAgent,
				"Accept":          sitemapAccept,
				"Accept-Encoding": "gzip, deflate",
			},
		})
		if err != nil {
			sitemapFetchesTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if err := resp.Err(); err != nil {
			sitemapFetchesTotal.WithLabelValues("status").Inc()
			return nil, err
		}
		return resp, nil
	})
}

// DiscoverAndProcessSitemaps discovers the sitemaps of siteURL and returns
// their merged, deduplicated entries. Sitemaps are processed in batches of
// BatchSize; each batch completes before the next starts.
func (p *Processor) DiscoverAndProcessSitemaps(ctx context.Context, siteURL string) []models.SitemapEntry {
	sitemaps := p.discovery.DiscoverSitemaps(ctx, siteURL)
	if len(sitemaps) == 0 {
		return []models.SitemapEntry{}
	}

	r := newRun(p.cfg.MaxSitemaps)
	merged := newEntryMerger()

	for start := 0; start < len(sitemaps); start += p.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+p.cfg.BatchSize, len(sitemaps))
		batch := sitemaps[start:end]
		results := make([][]models.SitemapEntry, len(batch))

		var g errgroup.Group
		for i, sitemapURL := range batch {
			g.Go(func() error {
				results[i] = p.processSitemap(ctx, sitemapURL, 0, r)
				return nil
			})
		}
		_ = g.Wait()

		for _, entries := range results {
			merged.add(entries...)
		}
	}

	out := merged.list()
	sitemapEntriesTotal.Add(float64(len(out)))
	p.logger.WithField("url", siteURL).WithField("sitemaps", len(sitemaps)).WithField("entries", len(out)).Info("Processed sitemaps")
	return out
}

// FilterEntries delegates to the package-level FilterEntries.
func (p *Processor) FilterEntries(entries []models.SitemapEntry, includePatterns, excludePatterns []string) []models.SitemapEntry {
	return FilterEntries(entries, includePatterns, excludePatterns)
}

// SortEntriesByPriority delegates to the package-level SortEntriesByPriority.
func (p *Processor) SortEntriesByPriority(entries []models.SitemapEntry, baseDomain string) []models.SitemapEntry {
	return SortEntriesByPriority(entries, baseDomain)
}

// entryMerger keeps one entry per URL in first-seen order. A later
// duplicate replaces the kept entry only when both carry scores and the
// new score is strictly lower.
type entryMerger struct {
	index   map[string]int
	entries []models.SitemapEntry
}

func newEntryMerger() *entryMerger {
	return &entryMerger{index: make(map[string]int)}
}

func (m *entryMerger) add(entries ...models.SitemapEntry) {
	for _, e := range entries {
		i, ok := m.index[e.URL]
		if !ok {
			m.index[e.URL] = len(m.entries)
			m.entries = append(m.entries, e)
			continue
		}
		if better(e, m.entries[i]) {
			m.entries[i] = e
		}
	}
}

func (m *entryMerger) list() []models.SitemapEntry {
	out := make([]models.SitemapEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func better(candidate, existing models.SitemapEntry) bool {
	return candidate.Score != nil && existing.Score != nil && *candidate.Score < *existing.Score
}

// DedupEntries merges duplicates by URL with the same rule as
// DiscoverAndProcessSitemaps.
func DedupEntries(entries []models.SitemapEntry) []models.SitemapEntry {
	m := newEntryMerger()
	m.add(entries...)
	return m.list()
}

func scoreAll(entries []models.SitemapEntry, baseDomain string) []models.SitemapEntry {
	for i := range entries {
		entries[i] = entries[i].WithScore(CalculateEntryScore(entries[i], baseDomain))
	}
	return entries
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isJSONResponse(resp *fetch.Response, sitemapURL string) bool {
	if strings.Contains(resp.ContentType(), "json") {
		return true
	}
	u, err := url.Parse(sitemapURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".json")
}
