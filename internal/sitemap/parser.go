package sitemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/araddon/dateparse"
	"github.com/kaptinlin/jsonrepair"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotSitemapIndex is returned by ParseSitemapIndex for any document
	// whose root element is not <sitemapindex>.
	ErrNotSitemapIndex = errors.New("not a sitemap index")
	// ErrNotURLSet is returned when a leaf sitemap lacks a <urlset> root.
	ErrNotURLSet = errors.New("not a urlset sitemap")
)

// Parser turns sitemap payloads into entries. It is lenient: malformed
// entries are dropped instead of failing the whole document.
type Parser struct {
	logger logrus.FieldLogger
}

// NewParser returns a parser logging to logger; nil discards logs.
func NewParser(logger logrus.FieldLogger) *Parser {
	return &Parser{logger: orDiscard(logger)}
}

// IsSitemapIndex reports whether content is XML with a <sitemapindex> root.
func (p *Parser) IsSitemapIndex(content string) bool {
	if looksLikeJSON(content) {
		return false
	}
	root, err := xmlRoot(content)
	if err != nil {
		return false
	}
	return strings.EqualFold(root.Data, "sitemapindex")
}

// ParseSitemapIndex extracts child sitemap URLs. Unlike the other parse
// functions it fails when content is not a sitemap index. LastMod comes
// from the first child sitemap only.
func (p *Parser) ParseSitemapIndex(content string) (*models.SitemapIndex, error) {
	root, err := xmlRoot(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSitemapIndex, err)
	}
	if !strings.EqualFold(root.Data, "sitemapindex") {
		return nil, fmt.Errorf("%w: root element is <%s>", ErrNotSitemapIndex, root.Data)
	}

	index := &models.SitemapIndex{Sitemaps: []string{}}
	first := true
	for _, sm := range childElements(root, "sitemap") {
		if first {
			index.LastMod = parseLastMod(childText(sm, "lastmod"))
			first = false
		}
		if loc := childText(sm, "loc"); loc != "" {
			index.Sitemaps = append(index.Sitemaps, loc)
		}
	}
	return index, nil
}

// ParseSitemap parses a leaf sitemap. Content starting with '{' or '[' is
// treated as JSON, anything else as XML. It never fails: unparseable input
// yields an empty slice.
func (p *Parser) ParseSitemap(content string) []models.SitemapEntry {
	if looksLikeJSON(content) {
		return p.ProcessJSONSitemap(content)
	}

	raw, err := p.ParseRawSitemap(content)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to parse XML sitemap")
		return []models.SitemapEntry{}
	}
	return p.promoteAll(raw.URLs)
}

// ParseRawSitemap extracts the untyped <url> entries of a <urlset>.
func (p *Parser) ParseRawSitemap(content string) (*models.RawSitemap, error) {
	root, err := xmlRoot(content)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(root.Data, "urlset") {
		return nil, fmt.Errorf("%w: root element is <%s>", ErrNotURLSet, root.Data)
	}

	raw := &models.RawSitemap{}
	for _, u := range childElements(root, "url") {
		raw.URLs = append(raw.URLs, models.RawSitemapURL{
			Loc:        childText(u, "loc"),
			LastMod:    childText(u, "lastmod"),
			ChangeFreq: childText(u, "changefreq"),
			Priority:   childText(u, "priority"),
		})
	}
	return raw, nil
}

// ProcessJSONSitemap accepts, in order:
//
//	["https://a", ...]
//	[{"url"|"loc": "https://a", "lastmod": ..., "priority": ...}, ...]
//	{"urls": [...either of the above...]}
//	{"urlset": {"url": [...objects...]}}
//
// Slightly malformed JSON is repaired before giving up. Unknown shapes
// yield an empty slice.
func (p *Parser) ProcessJSONSitemap(content string) []models.SitemapEntry {
	data, err := decodeJSON(content)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to parse JSON sitemap")
		return []models.SitemapEntry{}
	}

	switch v := data.(type) {
	case []any:
		return p.fromJSONArray(v)
	case map[string]any:
		if urls, ok := v["urls"].([]any); ok {
			return p.fromJSONArray(urls)
		}
		if urlset, ok := v["urlset"].(map[string]any); ok {
			switch list := urlset["url"].(type) {
			case []any:
				return p.fromJSONArray(list)
			case map[string]any:
				return p.fromJSONArray([]any{list})
			}
		}
	}

	p.logger.Warn("Unrecognized JSON sitemap shape")
	return []models.SitemapEntry{}
}

func decodeJSON(content string) (any, error) {
	var data any
	err := json.Unmarshal([]byte(content), &data)
	if err == nil {
		return data, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(content)
	if repairErr != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (p *Parser) fromJSONArray(items []any) []models.SitemapEntry {
	raws := make([]models.RawSitemapURL, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			raws = append(raws, models.RawSitemapURL{Loc: v})
		case map[string]any:
			loc := jsonString(v["url"])
			if loc == "" {
				loc = jsonString(v["loc"])
			}
			raws = append(raws, models.RawSitemapURL{
				Loc:        loc,
				LastMod:    jsonString(v["lastmod"]),
				ChangeFreq: jsonString(v["changefreq"]),
				Priority:   jsonString(v["priority"]),
			})
		}
	}
	return p.promoteAll(raws)
}

// jsonString flattens scalars to strings. Single-element arrays, as produced
// by XML-to-JSON converters, are unwrapped.
func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > 0 {
			return jsonString(t[0])
		}
	}
	return ""
}

func (p *Parser) promoteAll(raws []models.RawSitemapURL) []models.SitemapEntry {
	entries := make([]models.SitemapEntry, 0, len(raws))
	for _, raw := range raws {
		if entry, ok := p.promote(raw); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// promote validates a raw entry. Entries without a loc are dropped.
func (p *Parser) promote(raw models.RawSitemapURL) (models.SitemapEntry, bool) {
	loc := strings.TrimSpace(raw.Loc)
	if loc == "" {
		return models.SitemapEntry{}, false
	}
	return models.SitemapEntry{
		URL:         loc,
		LastMod:     parseLastMod(raw.LastMod),
		ChangeFreq:  strings.TrimSpace(raw.ChangeFreq),
		Priority:    p.normalizePriority(loc, raw.Priority),
		FromSitemap: true,
	}, true
}

// normalizePriority returns nil when no priority was declared and 0.5 when
// the declared value is not a number in [0,1].
func (p *Parser) normalizePriority(loc, raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		p.logger.WithField("url", loc).WithField("priority", raw).Warn("Invalid sitemap priority, using 0.5")
		v = defaultPriority
	}
	return &v
}

func parseLastMod(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	return &t
}

func looksLikeJSON(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func xmlRoot(content string) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(strings.NewReader(strings.TrimSpace(content)))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	if doc == nil {
		return nil, errors.New("empty xml document")
	}
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n, nil
		}
	}
	return nil, errors.New("xml document has no root element")
}

// childElements returns the direct element children named name. Matching
// is on the local name so namespaced documents work unchanged.
func childElements(n *xmlquery.Node, name string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && strings.EqualFold(c.Data, name) {
			out = append(out, c)
		}
	}
	return out
}

func childText(n *xmlquery.Node, name string) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && strings.EqualFold(c.Data, name) {
			return strings.TrimSpace(c.InnerText())
		}
	}
	return ""
}

func orDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
