package models

import (
	"time"

	"github.com/google/uuid"
)

// NewDocument builds a document for a page of the given source from its
// extracted content.
func NewDocument(sourceID uuid.UUID, url string, content *ExtractedContent) *Document {
	now := time.Now()
	return &Document{
		ID:          uuid.New(),
		SourceID:    sourceID,
		URL:         url,
		Title:       content.Title,
		Description: content.Description,
		Content:     content.Content,
		Headings:    content.Headings,
		CodeBlocks:  content.CodeBlocks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
