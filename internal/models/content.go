package models

// Heading is an h1-h6 element found on a page.
type Heading struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

// CodeBlock is a code sample found on a page. Language is empty when the
// markup carries no language-<id> class.
type CodeBlock struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// ExtractedContent is the cleaned, structured content of one page.
type ExtractedContent struct {
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	Description string      `json:"description,omitempty"`
	Headings    []Heading   `json:"headings,omitempty"`
	CodeBlocks  []CodeBlock `json:"codeBlocks,omitempty"`
}
