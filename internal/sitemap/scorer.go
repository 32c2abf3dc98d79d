package sitemap

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/romangod6/docs-crawler/internal/models"
)

// Score weights. Lower scores crawl first.
const (
	defaultPriority = 0.5

	depthWeight          = 0.1
	maxDepthPenalty      = 1.0
	docKeywordBonus      = -0.3
	noiseKeywordPenalty  = 0.5
	paginationPenalty    = 0.4
	fragmentPenalty      = 0.3
	externalDomainWeight = 1.0
	unparseableURLScore  = 10.0
)

var (
	docKeywords   = []string{"doc", "guide", "api", "reference", "tutorial"}
	noiseKeywords = []string{"login", "signin", "signup", "register", "privacy", "terms", "cookie", "legal"}

	paginationParams = []string{"page", "p", "paged", "offset", "start"}
	paginationPath   = regexp.MustCompile(`/page/\d+/?$`)
)

// CalculateURLScore scores a URL with the default sitemap priority.
func CalculateURLScore(rawURL, baseDomain string) float64 {
	return scoreURL(rawURL, baseDomain, defaultPriority)
}

// CalculateEntryScore scores an entry, using its declared priority as base.
func CalculateEntryScore(entry models.SitemapEntry, baseDomain string) float64 {
	priority := defaultPriority
	if entry.Priority != nil {
		priority = *entry.Priority
	}
	return scoreURL(entry.URL, baseDomain, priority)
}

func scoreURL(rawURL, baseDomain string, priority float64) float64 {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return unparseableURLScore
	}

	score := 1 - priority

	path := strings.ToLower(u.Path)
	depth := len(splitPath(path))
	score += minFloat(float64(depth)*depthWeight, maxDepthPenalty)

	if containsAny(path, docKeywords) {
		score += docKeywordBonus
	}
	if containsAny(path, noiseKeywords) {
		score += noiseKeywordPenalty
	}
	if isPaginated(u) {
		score += paginationPenalty
	}
	if u.Fragment != "" {
		score += fragmentPenalty
	}
	if baseDomain != "" && !sameSite(u.Hostname(), baseDomain) {
		score += externalDomainWeight
	}

	return score
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func isPaginated(u *url.URL) bool {
	q := u.Query()
	for _, p := range paginationParams {
		if q.Has(p) {
			return true
		}
	}
	return paginationPath.MatchString(strings.ToLower(u.Path))
}

// sameSite compares hosts ignoring case, ports and a leading "www.", and
// accepts subdomains of baseDomain.
func sameSite(host, baseDomain string) bool {
	host = normalizeHost(host)
	base := normalizeHost(baseDomain)
	return host == base || strings.HasSuffix(host, "."+base)
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if u, err := url.Parse("//" + h); err == nil && u.Hostname() != "" {
		h = u.Hostname()
	}
	return strings.TrimPrefix(h, "www.")
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// FilterEntries keeps entries matching any include pattern (all entries when
// there are none) and drops entries matching any exclude pattern. Exclude
// wins over include. Patterns that are not valid regular expressions are
// matched literally.
func FilterEntries(entries []models.SitemapEntry, includePatterns, excludePatterns []string) []models.SitemapEntry {
	include := compilePatterns(includePatterns)
	exclude := compilePatterns(excludePatterns)

	out := make([]models.SitemapEntry, 0, len(entries))
	for _, e := range entries {
		if len(include) > 0 && !matchesAny(e.URL, include) {
			continue
		}
		if matchesAny(e.URL, exclude) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			re = regexp.MustCompile(regexp.QuoteMeta(p))
		}
		out = append(out, re)
	}
	return out
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// SortEntriesByPriority returns a new slice ordered by ascending score.
// Entries without a score are scored against baseDomain first. Equal scores
// are ordered by URL.
func SortEntriesByPriority(entries []models.SitemapEntry, baseDomain string) []models.SitemapEntry {
	out := make([]models.SitemapEntry, len(entries))
	for i, e := range entries {
		if !e.HasScore() {
			e = e.WithScore(CalculateEntryScore(e, baseDomain))
		}
		out[i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].Score != *out[j].Score {
			return *out[i].Score < *out[j].Score
		}
		return out[i].URL < out[j].URL
	})
	return out
}
