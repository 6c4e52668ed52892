package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/core/ports"
)

type PipelineConfig struct {
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	BackoffMultiplier   float64
	LockStaleness       time.Duration
	DeliverySizeCeiling int64
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxAttempts:         5,
		InitialBackoff:      2 * time.Second,
		MaxBackoff:          2 * time.Minute,
		BackoffMultiplier:   2.0,
		LockStaleness:       30 * time.Minute,
		DeliverySizeCeiling: 49 * 1024 * 1024,
	}
}

func (c PipelineConfig) normalize() PipelineConfig {
	out := c
	def := DefaultPipelineConfig()

	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = def.InitialBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	if out.BackoffMultiplier < 1.0 {
		out.BackoffMultiplier = def.BackoffMultiplier
	}
	if out.LockStaleness <= 0 {
		out.LockStaleness = def.LockStaleness
	}
	if out.DeliverySizeCeiling <= 0 {
		out.DeliverySizeCeiling = def.DeliverySizeCeiling
	}
	return out
}

// Pipeline walks one document through the ordered stage list, persisting
// each stage status as it settles so a crashed run resumes from the first
// incomplete stage.
type Pipeline struct {
	repo      ports.DocumentRepository
	contents  ports.ContentRepository
	errLog    ports.ErrorLog
	fetcher   ports.Fetcher
	extractor ports.TextExtractor
	index     ports.SearchIndex
	deliverer ports.Deliverer
	limiter   ports.RateLimiter
	staging   ports.StagingStore
	logger    *slog.Logger
	cfg       PipelineConfig

	sleep        func(context.Context, time.Duration) error
	newToken     func() string
	observeStage func(stage domain.Stage, status domain.StageStatus, elapsed time.Duration)
}

func NewPipeline(
	repo ports.DocumentRepository,
	contents ports.ContentRepository,
	errLog ports.ErrorLog,
	fetcher ports.Fetcher,
	extractor ports.TextExtractor,
	index ports.SearchIndex,
	deliverer ports.Deliverer,
	limiter ports.RateLimiter,
	staging ports.StagingStore,
	logger *slog.Logger,
	cfg PipelineConfig,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repo:      repo,
		contents:  contents,
		errLog:    errLog,
		fetcher:   fetcher,
		extractor: extractor,
		index:     index,
		deliverer: deliverer,
		limiter:   limiter,
		staging:   staging,
		logger:    logger,
		cfg:       cfg.normalize(),
		sleep:     sleepContext,
		newToken:  uuid.NewString,
	}
}

// SetStageObserver installs a per-stage duration hook (metrics).
func (p *Pipeline) SetStageObserver(fn func(domain.Stage, domain.StageStatus, time.Duration)) {
	p.observeStage = fn
}

// Run executes the pipeline for a single document. Lock contention is a
// silent no-op; every other exit path releases the lock.
func (p *Pipeline) Run(ctx context.Context, documentID string) error {
	token := p.newToken()
	acquired, err := p.repo.AcquireLock(ctx, documentID, token, p.cfg.LockStaleness)
	if err != nil {
		return fmt.Errorf("acquire pipeline lock: %w", err)
	}
	if !acquired {
		p.logger.Debug("pipeline_lock_contended", "document_id", documentID)
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.repo.ReleaseLock(releaseCtx, documentID, token); err != nil {
			p.logger.Error("release pipeline lock", "document_id", documentID, "error", err)
		}
	}()

	doc, err := p.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	st := &runState{
		doc:  doc,
		path: p.staging.Path(doc.ID, doc.SourceURL),
	}
	content, err := p.contents.GetByDocumentID(ctx, doc.ID)
	switch {
	case err == nil:
		st.content = content
	case domain.IsKind(err, domain.ErrContentNotFound):
	default:
		return fmt.Errorf("fetch extracted content: %w", err)
	}

	backoff := p.cfg.InitialBackoff
	var exhausted bool
	var lastErr error
	for attempt := 1; ; attempt++ {
		out := p.runStages(ctx, st, attempt)
		if out.State == domain.OutcomeOK {
			lastErr = nil
			break
		}
		lastErr = out.Err
		if out.State == domain.OutcomeFatal {
			break
		}
		if attempt >= p.cfg.MaxAttempts {
			exhausted = true
			break
		}
		wait := backoff
		if out.RetryAfter > 0 {
			wait = out.RetryAfter
		}
		p.logger.Warn("pipeline_retry",
			"document_id", doc.ID,
			"attempt", attempt,
			"max_attempts", p.cfg.MaxAttempts,
			"backoff", wait.String(),
			"error", out.Err,
		)
		if err := p.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
		backoff = time.Duration(float64(backoff) * p.cfg.BackoffMultiplier)
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}

	ideal := domain.IdealState(st.doc, st.content)
	if ideal != st.doc.Completed {
		if err := p.repo.SetCompleted(ctx, st.doc.ID, ideal); err != nil {
			p.logger.Error("persist completed flag", "document_id", st.doc.ID, "error", err)
		} else {
			st.doc.Completed = ideal
		}
	}

	// The staging copy survives retryable failures so the next run can
	// resume without re-downloading. It is removed once the document is
	// ideal or no further automatic attempt will happen.
	if ideal || exhausted {
		if err := p.staging.Remove(st.doc.ID); err != nil {
			p.logger.Warn("remove staging file", "document_id", st.doc.ID, "error", err)
		}
	}

	if exhausted {
		p.logger.Error("pipeline_retries_exhausted",
			"document_id", st.doc.ID,
			"attempts", p.cfg.MaxAttempts,
			"error", lastErr,
		)
	}
	if lastErr != nil {
		return fmt.Errorf("process document %s: %w", st.doc.ID, lastErr)
	}
	return nil
}

func (p *Pipeline) runStages(ctx context.Context, st *runState, attempt int) domain.Outcome {
	for _, stage := range p.stageRunners() {
		switch st.doc.StageStatus(stage.name) {
		case domain.StatusCompleted, domain.StatusSkipped:
			continue
		}
		if err := p.persistStage(ctx, st, stage.name, domain.StatusProcessing); err != nil {
			return domain.Retryable(err)
		}

		started := time.Now()
		out := stage.run(ctx, st)
		switch out.State {
		case domain.OutcomeOK:
			if err := p.persistStage(ctx, st, stage.name, domain.StatusCompleted); err != nil {
				return domain.Retryable(err)
			}
			p.observe(stage.name, domain.StatusCompleted, time.Since(started))
		case domain.OutcomeSkipped:
			if err := p.persistStage(ctx, st, stage.name, domain.StatusSkipped); err != nil {
				return domain.Retryable(err)
			}
			p.observe(stage.name, domain.StatusSkipped, time.Since(started))
		default:
			if err := p.persistStage(ctx, st, stage.name, domain.StatusFailed); err != nil {
				p.logger.Error("persist failed stage status", "document_id", st.doc.ID, "stage", stage.name, "error", err)
			}
			p.observe(stage.name, domain.StatusFailed, time.Since(started))
			p.recordFailure(ctx, st, stage.name, attempt, out.Err)
			if out.State == domain.OutcomeFatal && domain.Blocking(out.Err) {
				p.applyBlockingPolicy(ctx, st, out.Err)
			}
			return out
		}
	}
	return domain.OK()
}

func (p *Pipeline) persistStage(ctx context.Context, st *runState, stage domain.Stage, status domain.StageStatus) error {
	if err := p.repo.UpdateStageStatus(ctx, st.doc.ID, stage, status); err != nil {
		return fmt.Errorf("persist %s status: %w", stage, err)
	}
	st.doc.SetStageStatus(stage, status)
	return nil
}

// recordFailure writes the append-only error log entry. No stage failure is
// swallowed without one.
func (p *Pipeline) recordFailure(ctx context.Context, st *runState, stage domain.Stage, attempt int, cause error) {
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}
	entry := &domain.ProcessingError{
		DocumentID: st.doc.ID,
		Stage:      stage,
		Message:    message,
		Attempt:    attempt,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.errLog.Append(ctx, entry); err != nil {
		p.logger.Error("append processing error", "document_id", st.doc.ID, "stage", stage, "error", err)
	}
	p.logger.Warn("stage_failed",
		"document_id", st.doc.ID,
		"stage", stage,
		"attempt", attempt,
		"error", cause,
	)
}

// applyBlockingPolicy flags the content record for a durable failure and
// removes any indexed entries so the document stops resurfacing in search.
func (p *Pipeline) applyBlockingPolicy(ctx context.Context, st *runState, cause error) {
	reason := cause.Error()
	if err := p.contents.MarkBlocked(ctx, st.doc.ID, reason); err != nil {
		p.logger.Error("mark content blocked", "document_id", st.doc.ID, "error", err)
		return
	}
	if st.content == nil {
		st.content = &domain.ExtractedContent{DocumentID: st.doc.ID}
	}
	st.content.Blocked = true
	st.content.BlockedReason = reason
	if err := p.index.DeleteByDocument(ctx, st.doc.ID); err != nil {
		p.logger.Error("delete blocked document from index", "document_id", st.doc.ID, "error", err)
	}
	p.logger.Warn("document_blocked", "document_id", st.doc.ID, "reason", reason)
}

func (p *Pipeline) observe(stage domain.Stage, status domain.StageStatus, elapsed time.Duration) {
	if p.observeStage != nil {
		p.observeStage(stage, status, elapsed)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
