package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

type ContentRepository struct {
	db *sql.DB
}

func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Save upserts the extracted content row. The blocking columns are owned by
// MarkBlocked/Unblock and are left untouched here.
func (r *ContentRepository) Save(ctx context.Context, content *domain.ExtractedContent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO extracted_contents (document_id, title, slug, content_text, size_bytes)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (document_id) DO UPDATE
SET title = EXCLUDED.title,
    slug = EXCLUDED.slug,
    content_text = EXCLUDED.content_text,
    size_bytes = EXCLUDED.size_bytes
`, content.DocumentID, content.Title, content.Slug, content.Text, content.SizeBytes)
	if err != nil {
		return fmt.Errorf("upsert extracted content: %w", err)
	}
	return nil
}

func (r *ContentRepository) GetByDocumentID(ctx context.Context, documentID string) (*domain.ExtractedContent, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, title, slug, content_text, views, downloads, size_bytes, blocked, blocked_reason, blocked_at
FROM extracted_contents
WHERE document_id = $1
`, documentID)

	content, err := scanContent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrContentNotFound, "get extracted content", errors.New(documentID))
		}
		return nil, fmt.Errorf("scan extracted content: %w", err)
	}
	return content, nil
}

// MarkBlocked flags the content record for operator review. A document that
// failed before parsing has no content row yet, so this is an upsert; the
// slug falls back to the document id to keep the unique constraint happy.
func (r *ContentRepository) MarkBlocked(ctx context.Context, documentID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO extracted_contents (document_id, slug, blocked, blocked_reason, blocked_at)
VALUES ($1,$1,TRUE,$2,$3)
ON CONFLICT (document_id) DO UPDATE
SET blocked = TRUE,
    blocked_reason = EXCLUDED.blocked_reason,
    blocked_at = EXCLUDED.blocked_at
`, documentID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark content blocked: %w", err)
	}
	return nil
}

func (r *ContentRepository) Unblock(ctx context.Context, documentID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE extracted_contents
SET blocked = FALSE, blocked_reason = NULL, blocked_at = NULL
WHERE document_id = $1
`, documentID)
	if err != nil {
		return fmt.Errorf("unblock content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unblock rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrContentNotFound, "unblock content", errors.New(documentID))
	}
	return nil
}

func (r *ContentRepository) ListBlocked(ctx context.Context, limit int) ([]domain.ExtractedContent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, title, slug, content_text, views, downloads, size_bytes, blocked, blocked_reason, blocked_at
FROM extracted_contents
WHERE blocked
ORDER BY blocked_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list blocked contents: %w", err)
	}
	defer rows.Close()

	var contents []domain.ExtractedContent
	for rows.Next() {
		content, err := scanContent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan blocked content: %w", err)
		}
		contents = append(contents, *content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocked contents: %w", err)
	}
	return contents, nil
}

func (r *ContentRepository) IncrementViews(ctx context.Context, documentID string) error {
	return r.increment(ctx, documentID, "views")
}

func (r *ContentRepository) IncrementDownloads(ctx context.Context, documentID string) error {
	return r.increment(ctx, documentID, "downloads")
}

func (r *ContentRepository) increment(ctx context.Context, documentID, column string) error {
	query := fmt.Sprintf(`UPDATE extracted_contents SET %s = %s + 1 WHERE document_id = $1`, column, column)
	res, err := r.db.ExecContext(ctx, query, documentID)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment %s rows affected: %w", column, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrContentNotFound, "increment "+column, errors.New(documentID))
	}
	return nil
}

func scanContent(scan func(dest ...any) error) (*domain.ExtractedContent, error) {
	var (
		content       domain.ExtractedContent
		blockedReason sql.NullString
		blockedAt     sql.NullTime
	)
	err := scan(
		&content.DocumentID, &content.Title, &content.Slug, &content.Text,
		&content.Views, &content.Downloads, &content.SizeBytes,
		&content.Blocked, &blockedReason, &blockedAt,
	)
	if err != nil {
		return nil, err
	}
	content.BlockedReason = blockedReason.String
	if blockedAt.Valid {
		t := blockedAt.Time
		content.BlockedAt = &t
	}
	return &content, nil
}
