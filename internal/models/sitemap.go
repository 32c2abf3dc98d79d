// internal/models/sitemap.go
package models

import (
	"encoding/xml"
	"time"
)

// RawSitemap is the untyped <urlset> document as it appears in markup.
type RawSitemap struct {
	XMLName xml.Name        `xml:"urlset"`
	URLs    []RawSitemapURL `xml:"url"`
}

// RawSitemapURL is a single <url> entry before validation. Every field is
// kept as the raw string found in the source document.
type RawSitemapURL struct {
	Loc        string `xml:"loc" json:"loc"`
	LastMod    string `xml:"lastmod,omitempty" json:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty" json:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty" json:"priority,omitempty"`
}

// SitemapIndex lists child sitemaps. It is only an intermediate value: the
// processor expands it into entries and never hands it to callers.
type SitemapIndex struct {
	Sitemaps []string   `json:"sitemaps"`
	LastMod  *time.Time `json:"lastmod,omitempty"`
}

// SitemapEntry is one discovered URL candidate. URL is the dedup key.
type SitemapEntry struct {
	URL         string     `json:"url"`
	LastMod     *time.Time `json:"lastmod,omitempty"`
	ChangeFreq  string     `json:"changefreq,omitempty"`
	Priority    *float64   `json:"priority,omitempty"`
	FromSitemap bool       `json:"fromSitemap"`
	// Score is assigned by the scorer; lower means more important.
	Score *float64 `json:"score,omitempty"`

	// Populated by downstream consumers.
	CalculatedDepth *int   `json:"calculatedDepth,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
}

// HasScore reports whether a score was assigned.
func (e SitemapEntry) HasScore() bool {
	return e.Score != nil
}

// WithScore returns a copy of the entry carrying the given score.
func (e SitemapEntry) WithScore(score float64) SitemapEntry {
	e.Score = &score
	return e
}
