package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/core/ports"
)

// Moderation is the operator surface for blocked documents: review what
// the pipeline gave up on, and put a repaired source back into rotation.
type Moderation struct {
	repo     ports.DocumentRepository
	contents ports.ContentRepository
	errLog   ports.ErrorLog
	queue    ports.MessageQueue
	logger   *slog.Logger
}

func NewModeration(
	repo ports.DocumentRepository,
	contents ports.ContentRepository,
	errLog ports.ErrorLog,
	queue ports.MessageQueue,
	logger *slog.Logger,
) *Moderation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderation{
		repo:     repo,
		contents: contents,
		errLog:   errLog,
		queue:    queue,
		logger:   logger,
	}
}

func (m *Moderation) ListBlocked(ctx context.Context, limit int) ([]ports.BlockedDocument, error) {
	contents, err := m.contents.ListBlocked(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list blocked contents: %w", err)
	}

	out := make([]ports.BlockedDocument, 0, len(contents))
	for _, content := range contents {
		entries, err := m.errLog.ListByDocument(ctx, content.DocumentID, 5)
		if err != nil {
			m.logger.Error("list processing errors", "document_id", content.DocumentID, "error", err)
		}
		out = append(out, ports.BlockedDocument{Content: content, Errors: entries})
	}
	return out, nil
}

// Unblock clears the block, resets the stage statuses and re-enqueues the
// document so a worker retries it from the top.
func (m *Moderation) Unblock(ctx context.Context, documentID string) error {
	if err := m.contents.Unblock(ctx, documentID); err != nil {
		return fmt.Errorf("unblock content: %w", err)
	}
	if err := m.repo.ResetStages(ctx, documentID); err != nil {
		return fmt.Errorf("reset stages: %w", err)
	}
	if err := m.repo.SetCompleted(ctx, documentID, false); err != nil {
		return fmt.Errorf("clear completed: %w", err)
	}
	if err := m.queue.PublishDocument(ctx, documentID); err != nil {
		return fmt.Errorf("re-enqueue document: %w", err)
	}
	m.logger.Info("document_unblocked", "document_id", documentID)
	return nil
}

// View fetches the extracted content for display and bumps its view count.
func (m *Moderation) View(ctx context.Context, documentID string) (*domain.ExtractedContent, error) {
	content, err := m.contents.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := m.contents.IncrementViews(ctx, documentID); err != nil {
		m.logger.Warn("increment view counter", "document_id", documentID, "error", err)
	}
	return content, nil
}
