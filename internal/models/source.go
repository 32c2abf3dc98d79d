package models

import (
	"time"

	"github.com/google/uuid"
)

// NewSource creates a source with a generated UUID and timestamps
func NewSource(name, baseURL string) *Source {
	now := time.Now()
	return &Source{
		ID:        uuid.New(),
		Name:      name,
		BaseURL:   baseURL,
		Status:    SourceStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CrawlDuration parses CrawlInterval, falling back to the given default.
func (s *Source) CrawlDuration(fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s.CrawlInterval)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsDue reports whether the source should be crawled at now.
func (s *Source) IsDue(now time.Time) bool {
	if s.Status == SourceStatusRunning {
		return false
	}
	return s.NextRun == nil || !now.Before(*s.NextRun)
}
