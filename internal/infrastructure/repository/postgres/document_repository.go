package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

const documentColumns = `id, source_url, metadata,
	download_status, parse_status, index_status, deliver_status, cleanup_status,
	completed, artifact_id, lock_token, lock_acquired_at, created_at, updated_at`

var stageColumns = map[domain.Stage]string{
	domain.StageDownload: "download_status",
	domain.StageParse:    "parse_status",
	domain.StageIndex:    "index_status",
	domain.StageDeliver:  "deliver_status",
	domain.StageCleanup:  "cleanup_status",
}

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if doc.Metadata == nil {
		metadataJSON = []byte(`{}`)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, source_url, metadata,
	download_status, parse_status, index_status, deliver_status, cleanup_status,
	completed, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		doc.ID, doc.SourceURL, metadataJSON,
		string(doc.DownloadStatus), string(doc.ParseStatus), string(doc.IndexStatus),
		string(doc.DeliverStatus), string(doc.CleanupStatus),
		doc.Completed, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// AcquireLock claims the document for one worker in a single statement.
// A token older than staleness is stolen; a held fresh lock is contention.
func (r *DocumentRepository) AcquireLock(ctx context.Context, id, token string, staleness time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET lock_token = $2, lock_acquired_at = $3, updated_at = $3
WHERE id = $1 AND (lock_token IS NULL OR lock_acquired_at < $4)
`, id, token, now, now.Add(-staleness))
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Zero rows means contention or a missing document; tell them apart.
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("acquire lock existence check: %w", err)
	}
	if !exists {
		return false, domain.WrapError(domain.ErrDocumentNotFound, "acquire lock", errors.New(id))
	}
	return false, nil
}

func (r *DocumentRepository) ReleaseLock(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET lock_token = NULL, lock_acquired_at = NULL, updated_at = $3
WHERE id = $1 AND lock_token = $2
`, id, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ReleaseStaleLocks(ctx context.Context, staleness time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET lock_token = NULL, lock_acquired_at = NULL, updated_at = $1
WHERE lock_token IS NOT NULL AND lock_acquired_at < $2
`, now, now.Add(-staleness))
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale locks rows affected: %w", err)
	}
	return affected, nil
}

func (r *DocumentRepository) UpdateStageStatus(ctx context.Context, id string, stage domain.Stage, status domain.StageStatus) error {
	column, ok := stageColumns[stage]
	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "update stage status", fmt.Errorf("unknown stage %q", stage))
	}
	query := fmt.Sprintf(`UPDATE documents SET %s = $2, updated_at = $3 WHERE id = $1`, column)
	res, err := r.db.ExecContext(ctx, query, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) SetCompleted(ctx context.Context, id string, completed bool) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents SET completed = $2, updated_at = $3 WHERE id = $1
`, id, completed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set completed: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) SetArtifactID(ctx context.Context, id, artifactID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents SET artifact_id = $2, updated_at = $3 WHERE id = $1
`, id, artifactID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set artifact id: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) ResetStages(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET download_status = $2, parse_status = $2, index_status = $2,
    deliver_status = $2, cleanup_status = $2, updated_at = $3
WHERE id = $1
`, id, string(domain.StatusPending), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset stages: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) ForceAllStagesCompleted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET download_status = $2, parse_status = $2, index_status = $2,
    deliver_status = $2, cleanup_status = $2, updated_at = $3
WHERE id = $1
`, id, string(domain.StatusCompleted), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("force stages completed: %w", err)
	}
	return requireRow(res, id)
}

func (r *DocumentRepository) ListUnlocked(ctx context.Context, staleness time.Duration, limit int) ([]domain.Document, error) {
	now := time.Now().UTC()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE lock_token IS NULL OR lock_acquired_at < $1
ORDER BY updated_at ASC
LIMIT $2
`, now.Add(-staleness), limit)
	if err != nil {
		return nil, fmt.Errorf("list unlocked documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan unlocked document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unlocked documents: %w", err)
	}
	return docs, nil
}

func scanDocument(scan func(dest ...any) error) (*domain.Document, error) {
	var (
		doc            domain.Document
		metadataRaw    []byte
		download       string
		parse          string
		index          string
		deliver        string
		cleanup        string
		artifactID     sql.NullString
		lockToken      sql.NullString
		lockAcquiredAt sql.NullTime
	)
	err := scan(
		&doc.ID, &doc.SourceURL, &metadataRaw,
		&download, &parse, &index, &deliver, &cleanup,
		&doc.Completed, &artifactID, &lockToken, &lockAcquiredAt,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	doc.DownloadStatus = domain.StageStatus(download)
	doc.ParseStatus = domain.StageStatus(parse)
	doc.IndexStatus = domain.StageStatus(index)
	doc.DeliverStatus = domain.StageStatus(deliver)
	doc.CleanupStatus = domain.StageStatus(cleanup)
	doc.ArtifactID = artifactID.String
	doc.LockToken = lockToken.String
	if lockAcquiredAt.Valid {
		doc.LockAcquiredAt = lockAcquiredAt.Time
	}
	return &doc, nil
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", errors.New(id))
	}
	return nil
}
