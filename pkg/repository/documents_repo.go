package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const documentColumns = `id, tenant_id, user_id, category, file_name, content_type, size_bytes, object_key,
	status, created_at, updated_at`

// DocumentsRepository handles document metadata.
type DocumentsRepository struct {
	db *sql.DB
}

// NewDocumentsRepository creates a new documents repository.
func NewDocumentsRepository(db *sql.DB) *DocumentsRepository {
	return &DocumentsRepository{db: db}
}

func scanDocument(row interface{ Scan(...any) error }) (*domain.Document, error) {
	d := &domain.Document{}
	err := row.Scan(&d.ID, &d.TenantID, &d.UserID, &d.Category, &d.FileName, &d.ContentType, &d.SizeBytes,
		&d.ObjectKey, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Create inserts a document record.
func (r *DocumentsRepository) Create(ctx context.Context, d *domain.Document) error {
	query := `
		INSERT INTO documents (id, tenant_id, user_id, category, file_name, content_type, size_bytes,
		                       object_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		d.ID, d.TenantID, d.UserID, d.Category, d.FileName, d.ContentType, d.SizeBytes,
		d.ObjectKey, d.Status, d.CreatedAt, d.UpdatedAt)
	return err
}

// Get retrieves a document visible to scope.
func (r *DocumentsRepository) Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Document, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{id})
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND ` + clause
	return scanDocument(querier(ctx, r.db).QueryRowContext(ctx, query, args...))
}

// List returns documents visible to scope, optionally restricted to one owner.
func (r *DocumentsRepository) List(ctx context.Context, scope domain.Scope, ownerID *uuid.UUID, page domain.Page) ([]*domain.Document, int, error) {
	clause, args := tenantClause(scope, "tenant_id", nil)
	where := clause
	if ownerID != nil {
		args = append(args, *ownerID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	var total int
	if err := querier(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page = page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		documentColumns, where, len(args)-1, len(args))
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

// MarkUploaded records the stored size and flips the status.
func (r *DocumentsRepository) MarkUploaded(ctx context.Context, scope domain.Scope, id uuid.UUID, size int64) error {
	clause, args := tenantClause(scope, "tenant_id", []any{id, size})
	query := `
		UPDATE documents SET status = 'uploaded', size_bytes = $2, updated_at = NOW()
		WHERE id = $1 AND ` + clause
	res, err := querier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrDocumentNotFound)
}

// Delete removes a document record visible to scope.
func (r *DocumentsRepository) Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	clause, args := tenantClause(scope, "tenant_id", []any{id})
	res, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND `+clause, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrDocumentNotFound)
}
