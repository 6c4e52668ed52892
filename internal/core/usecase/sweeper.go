package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/core/ports"
)

type SweeperConfig struct {
	BatchSize     int
	LockStaleness time.Duration
}

func (c SweeperConfig) normalize() SweeperConfig {
	out := c
	if out.BatchSize <= 0 {
		out.BatchSize = 200
	}
	if out.LockStaleness <= 0 {
		out.LockStaleness = 30 * time.Minute
	}
	return out
}

// Sweeper is the periodic reconciliation job. It never re-executes stage
// work; it only repairs recorded state and re-enqueues documents.
type Sweeper struct {
	repo     ports.DocumentRepository
	contents ports.ContentRepository
	queue    ports.MessageQueue
	logger   *slog.Logger
	cfg      SweeperConfig
}

func NewSweeper(
	repo ports.DocumentRepository,
	contents ports.ContentRepository,
	queue ports.MessageQueue,
	logger *slog.Logger,
	cfg SweeperConfig,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		repo:     repo,
		contents: contents,
		queue:    queue,
		logger:   logger,
		cfg:      cfg.normalize(),
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (ports.SweepReport, error) {
	var report ports.SweepReport

	// Stuck-lock reclamation runs unconditionally, before any ideal-state
	// evaluation, so a crashed worker never parks a document forever.
	reclaimed, err := s.repo.ReleaseStaleLocks(ctx, s.cfg.LockStaleness)
	if err != nil {
		return report, fmt.Errorf("release stale locks: %w", err)
	}
	report.LocksReclaimed = reclaimed
	if reclaimed > 0 {
		s.logger.Warn("stale_locks_reclaimed", "count", reclaimed)
	}

	docs, err := s.repo.ListUnlocked(ctx, s.cfg.LockStaleness, s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list unlocked documents: %w", err)
	}

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		doc := &docs[i]
		report.Scanned++

		content, err := s.contents.GetByDocumentID(ctx, doc.ID)
		if err != nil && !domain.IsKind(err, domain.ErrContentNotFound) {
			s.logger.Error("sweep: fetch content", "document_id", doc.ID, "error", err)
			continue
		}

		if domain.IdealState(doc, content) {
			if doc.Completed && doc.AllStagesCompleted() {
				continue
			}
			if err := s.heal(ctx, doc.ID); err != nil {
				s.logger.Error("sweep: heal document", "document_id", doc.ID, "error", err)
				continue
			}
			report.Healed++
			continue
		}

		// Blocked documents await operator review; re-enqueueing them
		// would retry a permanently broken source.
		if content != nil && content.Blocked {
			continue
		}
		if !repairTarget(doc, content) {
			continue
		}
		if err := s.reset(ctx, doc.ID); err != nil {
			s.logger.Error("sweep: reset document", "document_id", doc.ID, "error", err)
			continue
		}
		report.Reset++
	}

	s.logger.Info("sweep_finished",
		"scanned", report.Scanned,
		"healed", report.Healed,
		"reset", report.Reset,
		"locks_reclaimed", report.LocksReclaimed,
	)
	return report, nil
}

// heal forces the recorded state into agreement with the evidence without
// re-running any stage.
func (s *Sweeper) heal(ctx context.Context, documentID string) error {
	if err := s.repo.ForceAllStagesCompleted(ctx, documentID); err != nil {
		return fmt.Errorf("force stages completed: %w", err)
	}
	if err := s.repo.SetCompleted(ctx, documentID, true); err != nil {
		return fmt.Errorf("set completed: %w", err)
	}
	s.logger.Info("document_healed", "document_id", documentID)
	return nil
}

func (s *Sweeper) reset(ctx context.Context, documentID string) error {
	if err := s.repo.ResetStages(ctx, documentID); err != nil {
		return fmt.Errorf("reset stages: %w", err)
	}
	if err := s.repo.SetCompleted(ctx, documentID, false); err != nil {
		return fmt.Errorf("clear completed: %w", err)
	}
	if err := s.queue.PublishDocument(ctx, documentID); err != nil {
		return fmt.Errorf("re-enqueue document: %w", err)
	}
	s.logger.Info("document_reset", "document_id", documentID)
	return nil
}

// repairTarget selects non-ideal documents that claim to be done: the
// completed flag is set, every stage settled without delivering the
// evidence, or a single stage reports completed without its evidence.
func repairTarget(doc *domain.Document, content *domain.ExtractedContent) bool {
	if doc.Completed {
		return true
	}
	if doc.AllStagesSettled() {
		return true
	}
	if doc.ParseStatus == domain.StatusCompleted && (content == nil || content.Text == "") {
		return true
	}
	if doc.DeliverStatus == domain.StatusCompleted && doc.ArtifactID == "" {
		return true
	}
	return false
}
