package ports

import (
	"context"
	"time"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

// DocumentRepository persists document state and owns the per-document
// pipeline lock.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)

	// AcquireLock atomically claims the document for one worker. A lock
	// older than staleness is stolen. Returns false on contention.
	AcquireLock(ctx context.Context, id, token string, staleness time.Duration) (bool, error)
	// ReleaseLock clears the lock only if token still owns it.
	ReleaseLock(ctx context.Context, id, token string) error
	// ReleaseStaleLocks clears every lock older than staleness and returns
	// the number of reclaimed documents.
	ReleaseStaleLocks(ctx context.Context, staleness time.Duration) (int64, error)

	UpdateStageStatus(ctx context.Context, id string, stage domain.Stage, status domain.StageStatus) error
	SetCompleted(ctx context.Context, id string, completed bool) error
	SetArtifactID(ctx context.Context, id, artifactID string) error
	ResetStages(ctx context.Context, id string) error
	ForceAllStagesCompleted(ctx context.Context, id string) error

	ListUnlocked(ctx context.Context, staleness time.Duration, limit int) ([]domain.Document, error)
}

// ContentRepository persists extracted content and the blocking flag.
type ContentRepository interface {
	Save(ctx context.Context, content *domain.ExtractedContent) error
	GetByDocumentID(ctx context.Context, documentID string) (*domain.ExtractedContent, error)
	MarkBlocked(ctx context.Context, documentID, reason string) error
	Unblock(ctx context.Context, documentID string) error
	ListBlocked(ctx context.Context, limit int) ([]domain.ExtractedContent, error)
	IncrementViews(ctx context.Context, documentID string) error
	IncrementDownloads(ctx context.Context, documentID string) error
}

// ErrorLog is the append-only record of stage failures.
type ErrorLog interface {
	Append(ctx context.Context, entry *domain.ProcessingError) error
	ListByDocument(ctx context.Context, documentID string, limit int) ([]domain.ProcessingError, error)
}

// Fetcher streams a remote source into a local staging file and returns
// the number of bytes written.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, destPath string) (int64, error)
}

// TextExtractor turns a staged file into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (domain.ExtractionResult, error)
}

// SearchIndex upserts extracted text by document id and removes entries for
// blocked documents.
type SearchIndex interface {
	Upsert(ctx context.Context, entry domain.IndexEntry) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Deliverer uploads a staged artifact to the durable channel and returns
// the provider's opaque artifact id.
type Deliverer interface {
	Deliver(ctx context.Context, documentID, path, title string) (string, error)
}

// KeyValueStore is the shared store used for cross-process coordination.
// Only SET-if-not-exists-with-TTL, GET and DEL are available; Get returns
// an empty string for a missing key.
type KeyValueStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// RateLimiter blocks until the caller may perform the next delivery.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// MessageQueue publishes/consumes pipeline run requests.
type MessageQueue interface {
	PublishDocument(ctx context.Context, documentID string) error
	SubscribeDocuments(ctx context.Context, handler func(context.Context, string) error) error
}

// StagingStore places downloaded files on local disk between stages.
type StagingStore interface {
	Path(documentID, sourceURL string) string
	Remove(documentID string) error
}
