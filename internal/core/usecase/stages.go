package usecase

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/gosimple/slug"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

// runState is the per-run working set shared by the stage executors.
type runState struct {
	doc       *domain.Document
	content   *domain.ExtractedContent
	path      string
	sizeBytes int64
}

// fileSize resolves the staged artifact size: the byte count reported by
// the download, the file on disk on resume, or the persisted content size.
func (st *runState) fileSize() int64 {
	if st.sizeBytes > 0 {
		return st.sizeBytes
	}
	if info, err := os.Stat(st.path); err == nil {
		st.sizeBytes = info.Size()
		return st.sizeBytes
	}
	if st.content != nil {
		return st.content.SizeBytes
	}
	return 0
}

type stageRunner struct {
	name domain.Stage
	run  func(ctx context.Context, st *runState) domain.Outcome
}

// stageRunners is the fixed ordered stage list. The orchestrator loop in
// runStages is the only dispatcher.
func (p *Pipeline) stageRunners() []stageRunner {
	return []stageRunner{
		{domain.StageDownload, p.runDownload},
		{domain.StageParse, p.runParse},
		{domain.StageIndex, p.runIndex},
		{domain.StageDeliver, p.runDeliver},
		{domain.StageCleanup, p.runCleanup},
	}
}

func (p *Pipeline) runDownload(ctx context.Context, st *runState) domain.Outcome {
	n, err := p.fetcher.Fetch(ctx, st.doc.SourceURL, st.path)
	if err != nil {
		return domain.Retryable(err)
	}
	st.sizeBytes = n
	return domain.OK()
}

func (p *Pipeline) runParse(ctx context.Context, st *runState) domain.Outcome {
	res, err := p.extractor.Extract(ctx, st.path)
	if err != nil {
		if domain.Blocking(err) {
			return domain.Fatal(err)
		}
		return domain.Retryable(err)
	}

	// An empty extraction is durable: re-running the stage on the same
	// source cannot fix it, so the document is blocked for review.
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return domain.Fatal(domain.WrapError(
			domain.ErrEmptyContent, "parse document", errors.New("empty extracted text"),
		))
	}

	title := strings.TrimSpace(res.Title)
	if title == "" {
		title = sourceFileName(st.doc.SourceURL)
	}

	content := st.content
	if content == nil {
		content = &domain.ExtractedContent{DocumentID: st.doc.ID}
	}
	content.Title = title
	content.Text = text
	content.SizeBytes = st.fileSize()
	if content.Slug == "" {
		content.Slug = contentSlug(title, st.doc.ID)
	}
	if err := p.contents.Save(ctx, content); err != nil {
		return domain.Retryable(err)
	}
	st.content = content
	return domain.OK()
}

func (p *Pipeline) runIndex(ctx context.Context, st *runState) domain.Outcome {
	if st.content == nil {
		return domain.Retryable(errors.New("index stage reached without extracted content"))
	}
	if st.content.Blocked {
		return domain.Skip()
	}
	entry := domain.IndexEntry{
		DocumentID: st.doc.ID,
		Title:      st.content.Title,
		Slug:       st.content.Slug,
		Text:       st.content.Text,
		Metadata:   st.doc.Metadata,
	}
	if err := p.index.Upsert(ctx, entry); err != nil {
		return domain.Retryable(err)
	}
	return domain.OK()
}

func (p *Pipeline) runDeliver(ctx context.Context, st *runState) domain.Outcome {
	if size := st.fileSize(); size > p.cfg.DeliverySizeCeiling {
		p.logger.Info("delivery_skipped_oversize",
			"document_id", st.doc.ID,
			"size_bytes", size,
			"ceiling_bytes", p.cfg.DeliverySizeCeiling,
		)
		return domain.Skip()
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Retryable(err)
	}

	title := ""
	if st.content != nil {
		title = st.content.Title
	}
	artifactID, err := p.deliverer.Deliver(ctx, st.doc.ID, st.path, title)
	if err != nil {
		if wait, ok := domain.RetryAfter(err); ok {
			return domain.RetryableAfter(err, wait)
		}
		return domain.Retryable(err)
	}
	if err := p.repo.SetArtifactID(ctx, st.doc.ID, artifactID); err != nil {
		return domain.Retryable(err)
	}
	st.doc.ArtifactID = artifactID
	if err := p.contents.IncrementDownloads(ctx, st.doc.ID); err != nil {
		p.logger.Warn("increment download counter", "document_id", st.doc.ID, "error", err)
	}
	return domain.OK()
}

func (p *Pipeline) runCleanup(_ context.Context, st *runState) domain.Outcome {
	// The staging file may only go away once the document is ideal; a
	// non-ideal document keeps it for the next resume and the stage is
	// marked skipped so the run still settles.
	if !domain.IdealState(st.doc, st.content) {
		return domain.Skip()
	}
	if err := p.staging.Remove(st.doc.ID); err != nil {
		return domain.Retryable(err)
	}
	return domain.OK()
}

func sourceFileName(sourceURL string) string {
	parsed, err := url.Parse(sourceURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return sourceURL
	}
	return path.Base(parsed.Path)
}

func contentSlug(title, documentID string) string {
	suffix := documentID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return slug.Make(title) + "-" + suffix
}
