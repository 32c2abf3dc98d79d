// internal/crawler/extractor.go
package crawler

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

const (
	DefaultMinContentLength = 50

	maxTitleLength    = 60
	minH1TitleLength  = 6
	maxH1TitleLength  = 99
	titleSeparator    = " | "
	languageClassPref = "language-"
	langClassPref     = "lang-"
)

// contentSelectors are tried in order when looking for the main content.
var contentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	".content",
	".documentation",
	".docs-content",
	".markdown-body",
	"#content",
	".main-content",
	".post-content",
}

// excludedSelectors are stripped from a copy of the content container.
var excludedSelectors = strings.Join([]string{
	"nav", "header", "footer", "aside", "script", "style", "noscript",
	".sidebar", ".toc", ".table-of-contents", ".navigation", ".nav", ".menu",
	".breadcrumb", ".breadcrumbs", "[role=navigation]", ".pagination",
}, ", ")

const codeBlockSelector = "pre code, pre[class*='language-'], .highlight, .code"

// ExtractorConfig controls the content extractor. The zero value uses the
// default minimum length and extracts metadata.
type ExtractorConfig struct {
	MinContentLength int
	DisableMetadata  bool
}

// DefaultExtractorConfig returns the defaults used by the crawler.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MinContentLength: DefaultMinContentLength,
	}
}

// Extractor pulls the main text, headings and code out of documentation pages.
type Extractor struct {
	config ExtractorConfig
	logger logrus.FieldLogger
}

// NewExtractor creates an Extractor. A nil logger discards output.
func NewExtractor(config ExtractorConfig, logger logrus.FieldLogger) *Extractor {
	if config.MinContentLength <= 0 {
		config.MinContentLength = DefaultMinContentLength
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Extractor{config: config, logger: logger}
}

// Extract returns the structured content of a page, or nil when the page has
// too little text to be worth indexing or cannot be parsed.
func (x *Extractor) Extract(rawHTML, pageURL string) (content *models.ExtractedContent) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.WithField("url", pageURL).Errorf("Extraction panicked: %v", r)
			content = nil
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		x.logger.WithField("url", pageURL).WithError(err).Warn("Failed to parse HTML")
		return nil
	}

	text := x.mainContent(doc)
	if textLength(text) < x.config.MinContentLength {
		x.logger.WithField("url", pageURL).WithField("length", textLength(text)).Debug("Content below minimum length")
		return nil
	}

	content = &models.ExtractedContent{
		Title:      extractTitle(doc, pageURL),
		Content:    text,
		Headings:   extractHeadings(doc),
		CodeBlocks: extractCodeBlocks(doc),
	}
	if !x.config.DisableMetadata {
		content.Description = extractDescription(doc)
	}
	return content
}

func extractTitle(doc *goquery.Document, pageURL string) string {
	title := singleLine(doc.Find("title").First().Text())
	h1 := singleLine(doc.Find("h1").First().Text())

	if title == "" || strings.Contains(title, titleSeparator) || textLength(title) > maxTitleLength {
		if n := textLength(h1); n >= minH1TitleLength && n <= maxH1TitleLength {
			return h1
		}
	}
	if title == "" {
		title = h1
	}
	if title == "" {
		title = pageURL
	}
	return title
}

func extractDescription(doc *goquery.Document) string {
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func extractHeadings(doc *goquery.Document) []models.Heading {
	var headings []models.Heading
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := singleLine(s.Text())
		if text == "" {
			return
		}
		level := int(goquery.NodeName(s)[1] - '0')
		headings = append(headings, models.Heading{Text: text, Level: level})
	})
	return headings
}

func extractCodeBlocks(doc *goquery.Document) []models.CodeBlock {
	var blocks []models.CodeBlock
	taken := make(map[*html.Node]bool)

	doc.Find(codeBlockSelector).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		for p := node.Parent; p != nil; p = p.Parent {
			if taken[p] {
				return
			}
		}
		taken[node] = true

		code := strings.TrimSpace(s.Text())
		if code == "" {
			return
		}
		blocks = append(blocks, models.CodeBlock{Code: code, Language: codeLanguage(s)})
	})
	return blocks
}

// codeLanguage reads a language-<id> or lang-<id> class from the block, its
// <pre> parent or the first <code> inside it.
func codeLanguage(s *goquery.Selection) string {
	candidates := []*goquery.Selection{s, s.Parent(), s.Find("code").First()}
	for _, c := range candidates {
		class, _ := c.Attr("class")
		for _, token := range strings.Fields(class) {
			switch {
			case strings.HasPrefix(token, languageClassPref):
				return strings.TrimPrefix(token, languageClassPref)
			case strings.HasPrefix(token, langClassPref):
				return strings.TrimPrefix(token, langClassPref)
			}
		}
	}
	return ""
}

// mainContent walks the content selectors and returns the first text that
// clears the minimum length, falling back to the whole body.
func (x *Extractor) mainContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		matches := doc.Find(sel)
		if matches.Length() == 0 {
			continue
		}
		var parts []string
		matches.Each(func(_ int, s *goquery.Selection) {
			if t := strippedText(s); t != "" {
				parts = append(parts, t)
			}
		})
		text := strings.Join(parts, "\n")
		if textLength(text) > x.config.MinContentLength {
			return text
		}
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return ""
	}
	return strippedText(body)
}

// strippedText removes excluded nodes from a copy of s and returns its
// cleaned text. The document itself is left untouched.
func strippedText(s *goquery.Selection) string {
	clone := s.Clone()
	clone.Find(excludedSelectors).Remove()

	var b strings.Builder
	for _, n := range clone.Nodes {
		writeText(&b, n, false)
	}
	return cleanText(b.String())
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "hr": true,
	"li": true, "main": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// writeText renders n as plain text. Block elements start new lines and
// line breaks inside text are only kept within <pre>.
func writeText(b *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			b.WriteString(n.Data)
		} else {
			b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		}
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return
		case "pre":
			pre = true
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c, pre)
	}
	if block {
		b.WriteByte('\n')
	}
}

// cleanText collapses whitespace within lines, drops blank lines and trims.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func textLength(s string) int {
	return utf8.RuneCountInString(s)
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
