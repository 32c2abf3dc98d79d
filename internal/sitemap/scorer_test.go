package sitemap

import (
	"testing"

	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCalculateURLScore(t *testing.T) {
	const base = "x.test"

	t.Run("deterministic", func(t *testing.T) {
		u := "https://x.test/docs/getting-started?page=2#intro"
		assert.Equal(t, CalculateURLScore(u, base), CalculateURLScore(u, base))
	})

	t.Run("shallow beats deep", func(t *testing.T) {
		assert.Less(t, CalculateURLScore("https://x.test/alpha", base), CalculateURLScore("https://x.test/alpha/beta/gamma", base))
	})

	t.Run("documentation keywords improve score", func(t *testing.T) {
		assert.Less(t, CalculateURLScore("https://x.test/guide/setup", base), CalculateURLScore("https://x.test/blog/setup", base))
		assert.InDelta(t, 0.4, CalculateURLScore("https://x.test/docs/guide", base), 1e-9)
	})

	t.Run("noise keywords worsen score", func(t *testing.T) {
		assert.Greater(t, CalculateURLScore("https://x.test/login", base), CalculateURLScore("https://x.test/intro", base))
		assert.Greater(t, CalculateURLScore("https://x.test/privacy", base), CalculateURLScore("https://x.test/intro", base))
	})

	t.Run("pagination and fragments worsen score", func(t *testing.T) {
		plain := CalculateURLScore("https://x.test/blog", base)
		assert.Greater(t, CalculateURLScore("https://x.test/blog?page=3", base), plain)
		assert.Greater(t, CalculateURLScore("https://x.test/blog/page/3", base), plain)
		assert.Greater(t, CalculateURLScore("https://x.test/blog#comments", base), plain)
	})

	t.Run("other domains penalized not excluded", func(t *testing.T) {
		own := CalculateURLScore("https://x.test/intro", base)
		other := CalculateURLScore("https://other.test/intro", base)
		assert.InDelta(t, own+externalDomainWeight, other, 1e-9)
		assert.InDelta(t, own, CalculateURLScore("https://www.x.test/intro", base), 1e-9)
		assert.InDelta(t, own, CalculateURLScore("https://learn.x.test/intro", base), 1e-9)
	})

	t.Run("no base domain means no domain penalty", func(t *testing.T) {
		assert.InDelta(t, CalculateURLScore("https://x.test/intro", base), CalculateURLScore("https://other.test/intro", ""), 1e-9)
	})

	t.Run("unparseable urls sort last", func(t *testing.T) {
		assert.Equal(t, unparseableURLScore, CalculateURLScore("not a url", base))
		assert.Equal(t, unparseableURLScore, CalculateURLScore("://broken", base))
	})
}

func TestCalculateEntryScoreUsesPriority(t *testing.T) {
	high := models.SitemapEntry{URL: "https://x.test/intro", Priority: ptr(1.0)}
	low := models.SitemapEntry{URL: "https://x.test/intro", Priority: ptr(0.1)}
	none := models.SitemapEntry{URL: "https://x.test/intro"}

	assert.Less(t, CalculateEntryScore(high, "x.test"), CalculateEntryScore(low, "x.test"))
	assert.Equal(t, CalculateURLScore(none.URL, "x.test"), CalculateEntryScore(none, "x.test"))
}

func TestFilterEntries(t *testing.T) {
	entries := []models.SitemapEntry{
		{URL: "https://x.test/docs/intro"},
		{URL: "https://x.test/docs/internal/secret"},
		{URL: "https://x.test/blog/post"},
		{URL: "https://x.test/api/v1(beta)"},
	}

	t.Run("no patterns keeps everything", func(t *testing.T) {
		assert.Len(t, FilterEntries(entries, nil, nil), 4)
	})

	t.Run("include", func(t *testing.T) {
		got := FilterEntries(entries, []string{`/docs/`}, nil)
		require.Len(t, got, 2)
		assert.Equal(t, "https://x.test/docs/intro", got[0].URL)
	})

	t.Run("exclude wins over include", func(t *testing.T) {
		got := FilterEntries(entries, []string{`/docs/`}, []string{`internal`})
		require.Len(t, got, 1)
		assert.Equal(t, "https://x.test/docs/intro", got[0].URL)
	})

	t.Run("invalid regex matched literally", func(t *testing.T) {
		got := FilterEntries(entries, []string{`v1(beta`}, nil)
		require.Len(t, got, 1)
		assert.Equal(t, "https://x.test/api/v1(beta)", got[0].URL)
		assert.Empty(t, FilterEntries(entries, []string{`v1(gamma`}, nil))
		got = FilterEntries(entries, nil, []string{`(beta`})
		assert.Len(t, got, 3)
	})
}

func TestSortEntriesByPriority(t *testing.T) {
	entries := []models.SitemapEntry{
		{URL: "https://x.test/login"},
		{URL: "https://x.test/docs/intro"},
		{URL: "https://x.test/preset", Score: ptr(-5.0)},
		{URL: "https://other.test/docs"},
	}

	sorted := SortEntriesByPriority(entries, "x.test")
	require.Len(t, sorted, 4)

	urls := make([]string, len(sorted))
	for i, e := range sorted {
		urls[i] = e.URL
		require.NotNil(t, e.Score)
		if i > 0 {
			assert.LessOrEqual(t, *sorted[i-1].Score, *e.Score)
		}
	}
	assert.Equal(t, "https://x.test/preset", urls[0])
	assert.Equal(t, "https://x.test/docs/intro", urls[1])

	// input untouched
	assert.Nil(t, entries[0].Score)
}
