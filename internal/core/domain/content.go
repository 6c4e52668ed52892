package domain

import "time"

// ExtractedContent is the 1:1 companion record of a document, created at
// parse time. The download counter is bumped on delivery, the view counter
// by readers.
type ExtractedContent struct {
	DocumentID string     `json:"document_id"`
	Title      string     `json:"title"`
	Slug       string     `json:"slug"`
	Text       string     `json:"text"`
	Views      int64      `json:"views"`
	Downloads  int64      `json:"downloads"`
	SizeBytes  int64      `json:"size_bytes"`
	Blocked    bool       `json:"blocked"`
	BlockedAt  *time.Time `json:"blocked_at,omitempty"`

	BlockedReason string `json:"blocked_reason,omitempty"`
}

// ProcessingError is one append-only entry of the pipeline error log.
type ProcessingError struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	Message    string    `json:"message"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExtractionResult is what a text extractor returns for a staged file.
type ExtractionResult struct {
	Text     string
	Title    string
	Metadata map[string]string
}

// IndexEntry is the unit written to the search index.
type IndexEntry struct {
	DocumentID string         `json:"id"`
	Title      string         `json:"title"`
	Slug       string         `json:"slug"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
