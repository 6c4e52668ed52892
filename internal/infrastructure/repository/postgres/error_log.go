package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

// ErrorLog is the append-only stage failure record. Entries are never
// updated or deleted.
type ErrorLog struct {
	db *sql.DB
}

func NewErrorLog(db *sql.DB) *ErrorLog {
	return &ErrorLog{db: db}
}

func (l *ErrorLog) Append(ctx context.Context, entry *domain.ProcessingError) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO processing_errors (document_id, stage, message, attempt, created_at)
VALUES ($1,$2,$3,$4,$5)
`, entry.DocumentID, string(entry.Stage), entry.Message, entry.Attempt, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append processing error: %w", err)
	}
	return nil
}

func (l *ErrorLog) ListByDocument(ctx context.Context, documentID string, limit int) ([]domain.ProcessingError, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, document_id, stage, message, attempt, created_at
FROM processing_errors
WHERE document_id = $1
ORDER BY created_at DESC
LIMIT $2
`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list processing errors: %w", err)
	}
	defer rows.Close()

	var entries []domain.ProcessingError
	for rows.Next() {
		var entry domain.ProcessingError
		var stage string
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &stage, &entry.Message, &entry.Attempt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processing error: %w", err)
		}
		entry.Stage = domain.Stage(stage)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing errors: %w", err)
	}
	return entries, nil
}
