package ports

import (
	"context"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

// PipelineRunner walks one document through the ordered stage list.
type PipelineRunner interface {
	Run(ctx context.Context, documentID string) error
}

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Scanned        int
	Healed         int
	Reset          int
	LocksReclaimed int64
}

// Reconciler repairs inconsistent or stuck documents.
type Reconciler interface {
	Sweep(ctx context.Context) (SweepReport, error)
}

// BlockedDocument pairs a blocked content record with its recent failures.
type BlockedDocument struct {
	Content domain.ExtractedContent
	Errors  []domain.ProcessingError
}

// Moderator is the operator surface for blocked documents.
type Moderator interface {
	ListBlocked(ctx context.Context, limit int) ([]BlockedDocument, error)
	Unblock(ctx context.Context, documentID string) error
	View(ctx context.Context, documentID string) (*domain.ExtractedContent, error)
}
