package models

import (
	"time"

	"github.com/google/uuid"
)

// Source status values.
const (
	SourceStatusIdle      = "Idle"
	SourceStatusRunning   = "Running"
	SourceStatusCompleted = "Completed"
	SourceStatusError     = "Error"
)

// Source is a documentation site registered for crawling.
type Source struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	BaseURL         string     `json:"baseUrl"`
	UserAgent       string     `json:"userAgent,omitempty"`
	CrawlInterval   string     `json:"crawlInterval,omitempty"`
	MaxPages        int        `json:"maxPages,omitempty"`
	IncludePatterns []string   `json:"includePatterns,omitempty"`
	ExcludePatterns []string   `json:"excludePatterns,omitempty"`
	Status          string     `json:"status"`
	LastRun         *time.Time `json:"lastRun,omitempty"`
	NextRun         *time.Time `json:"nextRun,omitempty"`
	Errors          []string   `json:"errors,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Document is the persisted form of an extracted page.
type Document struct {
	ID          uuid.UUID   `json:"id"`
	SourceID    uuid.UUID   `json:"sourceId"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Content     string      `json:"content"`
	Headings    []Heading   `json:"headings,omitempty"`
	CodeBlocks  []CodeBlock `json:"codeBlocks,omitempty"`
	Score       *float64    `json:"score,omitempty"`
	LastMod     *time.Time  `json:"lastmod,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
