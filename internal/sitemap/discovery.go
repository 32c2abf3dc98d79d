package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/romangod6/docs-crawler/internal/fetch"
	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultUserAgent identifies the crawler on sitemap and robots requests.
	DefaultUserAgent = "DocsCrawler/1.0 (+https://github.com/romangod6/docs-crawler)"

	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	sitemapAccept    = "application/xml, text/xml, application/json;q=0.9, */*;q=0.8"
	htmlAccept       = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"

	robotsTimeout    = 10 * time.Second
	candidateTimeout = 5 * time.Second
	pageTimeout      = 10 * time.Second
)

var (
	// ErrPathEscape rejects relative references that climb above the site root.
	ErrPathEscape = errors.New("relative reference escapes site root")
	// ErrUnsupportedScheme rejects javascript:, mailto: and similar links.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// commonSitemapPaths are tried when robots.txt names no sitemap.
var commonSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemapindex.xml",
	"/sitemap.json",
	"/wp-sitemap.xml",
	"/sitemap/sitemap.xml",
	"/sitemaps/sitemap.xml",
	"/sitemap1.xml",
	"/docs/sitemap.xml",
	"/sitemap.xml.gz",
}

// Discovery finds sitemap URLs for a site. Tiers run in order and the first
// one returning anything wins: robots.txt, common paths, HTML hints.
type Discovery struct {
	fetcher   fetch.Fetcher
	logger    logrus.FieldLogger
	userAgent string
}

// DiscoveryOption configures a Discovery.
type DiscoveryOption func(*Discovery)

// WithDiscoveryLogger sets the logger.
func WithDiscoveryLogger(logger logrus.FieldLogger) DiscoveryOption {
	return func(d *Discovery) { d.logger = logger }
}

// WithDiscoveryUserAgent overrides the robots.txt and sitemap lookup User-Agent.
func WithDiscoveryUserAgent(ua string) DiscoveryOption {
	return func(d *Discovery) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// NewDiscovery creates a Discovery using fetcher for every request.
func NewDiscovery(fetcher fetch.Fetcher, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		fetcher:   fetcher,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = orDiscard(d.logger)
	return d
}

type discoveryTier struct {
	name string
	run  func(context.Context, *url.URL) []string
}

// DiscoverSitemaps returns candidate sitemap URLs for baseURL. It never
// fails; an empty slice means no tier found anything.
func (d *Discovery) DiscoverSitemaps(ctx context.Context, baseURL string) []string {
	base, err := parseSiteURL(baseURL)
	if err != nil {
		d.logger.WithField("url", baseURL).WithError(err).Warn("Invalid site URL, skipping discovery")
		return []string{}
	}

	tiers := []discoveryTier{
		{name: "robots", run: d.DiscoverFromRobots},
		{name: "common", run: d.DiscoverFromCommonLocations},
		{name: "html", run: d.DiscoverFromHTML},
	}
	for _, tier := range tiers {
		if ctx.Err() != nil {
			return []string{}
		}
		if found := tier.run(ctx, base); len(found) > 0 {
			d.logger.WithField("url", baseURL).WithField("tier", tier.name).WithField("count", len(found)).Info("Discovered sitemaps")
			discoveryTotal.WithLabelValues(tier.name).Inc()
			return found
		}
	}

	discoveryTotal.WithLabelValues("none").Inc()
	d.logger.WithField("url", baseURL).Info("No sitemaps discovered")
	return []string{}
}

// FetchRobots downloads and parses robots.txt for the host of base.
func (d *Discovery) FetchRobots(ctx context.Context, base *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := siteRoot(base) + "/robots.txt"
	resp, err := d.fetcher.Get(ctx, robotsURL, fetch.Options{
		Timeout: robotsTimeout,
		Headers: map[string]string{"User-Agent": d.userAgent},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return robotstxt.FromBytes(resp.Body)
}

// CrawlDelay returns the robots.txt Crawl-delay for this crawler's agent,
// or zero when there is none.
func (d *Discovery) CrawlDelay(ctx context.Context, baseURL string) time.Duration {
	base, err := parseSiteURL(baseURL)
	if err != nil {
		return 0
	}
	robots, err := d.FetchRobots(ctx, base)
	if err != nil {
		return 0
	}
	group := robots.FindGroup(d.userAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// DiscoverFromRobots returns every Sitemap: directive of robots.txt.
func (d *Discovery) DiscoverFromRobots(ctx context.Context, base *url.URL) []string {
	robots, err := d.FetchRobots(ctx, base)
	if err != nil {
		d.logger.WithField("url", base.String()).WithError(err).Debug("robots.txt unavailable")
		return nil
	}
	return dedupeStrings(robots.Sitemaps)
}

// DiscoverFromCommonLocations checks well-known sitemap paths under both
// the site root and baseURL itself. All checks run concurrently and every
// 2xx candidate is kept, in candidate-list order.
func (d *Discovery) DiscoverFromCommonLocations(ctx context.Context, base *url.URL) []string {
	candidates := candidateSitemapURLs(base)
	found := make([]bool, len(candidates))

	var g errgroup.Group
	for i, candidate := range candidates {
		g.Go(func() error {
			resp, err := d.fetcher.Get(ctx, candidate, fetch.Options{
				Timeout: candidateTimeout,
				Headers: map[string]string{
					"User-Agent": d.userAgent,
					"Accept":     sitemapAccept,
				},
			})
			if err != nil {
				d.logger.WithField("url", candidate).WithError(err).Debug("Sitemap candidate check failed")
				return nil
			}
			found[i] = resp.OK()
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for i, ok := range found {
		if ok {
			out = append(out, candidates[i])
		}
	}
	return out
}

// DiscoverFromHTML scans the base page for links mentioning "sitemap" and
// for <link rel="sitemap"> hints.
func (d *Discovery) DiscoverFromHTML(ctx context.Context, base *url.URL) []string {
	resp, err := d.fetcher.Get(ctx, base.String(), fetch.Options{
		Timeout: pageTimeout,
		Headers: map[string]string{
			"User-Agent": browserUserAgent,
			"Accept":     htmlAccept,
		},
	})
	if err != nil {
		d.logger.WithField("url", base.String()).WithError(err).Warn("Failed to fetch base page")
		return nil
	}
	if err := resp.Err(); err != nil {
		d.logger.WithField("url", base.String()).WithError(err).Warn("Base page not available")
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		d.logger.WithField("url", base.String()).WithError(err).Warn("Failed to parse base page")
		return nil
	}

	var found []string
	add := func(href string) {
		resolved, err := resolveReference(base, href)
		if err != nil {
			d.logger.WithField("href", href).WithError(err).Warn("Rejected sitemap link")
			return
		}
		found = append(found, resolved)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := s.Text()
		if strings.Contains(strings.ToLower(href), "sitemap") || strings.Contains(strings.ToLower(text), "sitemap") {
			add(href)
		}
	})
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		for _, token := range strings.Fields(rel) {
			if strings.EqualFold(token, "sitemap") {
				href, _ := s.Attr("href")
				add(href)
				return
			}
		}
	})

	return dedupeStrings(found)
}

func parseSiteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func siteRoot(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// candidateSitemapURLs joins every common path onto the site root and, for
// documentation hosted under a subpath, onto that subpath too.
func candidateSitemapURLs(base *url.URL) []string {
	bases := []string{siteRoot(base)}
	if dir := baseDir(base.Path); dir != "" {
		bases = append(bases, siteRoot(base)+dir)
	}

	var out []string
	for _, b := range bases {
		for _, p := range commonSitemapPaths {
			out = append(out, b+p)
		}
	}
	return dedupeStrings(out)
}

// baseDir trims a trailing file name and slash from p. The root yields "".
func baseDir(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasSuffix(p, "/") && strings.Contains(path.Base(p), ".") {
		p = path.Dir(p)
	}
	p = strings.TrimRight(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// resolveReference resolves href against base. Relative references whose
// ".." segments would climb above the root are rejected instead of being
// clamped.
func resolveReference(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", errors.New("empty reference")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}
	if ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, ref.Scheme)
	}
	if ref.Scheme == "" && ref.Host == "" && escapesRoot(base.Path, ref.Path) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, href)
	}
	return base.ResolveReference(ref).String(), nil
}

func escapesRoot(basePath, refPath string) bool {
	var stack []string
	if !strings.HasPrefix(refPath, "/") {
		stack = splitPath(basePath)
		if len(stack) > 0 && !strings.HasSuffix(basePath, "/") {
			stack = stack[:len(stack)-1]
		}
	}
	for _, seg := range strings.Split(refPath, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return true
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
