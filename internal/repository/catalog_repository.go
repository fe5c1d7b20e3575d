package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hr-incidents-api/internal/models"
)

// ErrDuplicateCatalogEntry is returned when a subtype name collides
// with an existing entry.
var ErrDuplicateCatalogEntry = errors.New("duplicate catalog entry")

// CatalogRepository persists incident subtype definitions.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// List returns every catalog entry sorted by subtype name.
func (r *CatalogRepository) List(ctx context.Context) ([]models.CatalogEntry, error) {
	const query = `SELECT id, subtype_name, infotype_code, concept_code, requires_approval, roles_with_access, created_at, updated_at
	FROM catalog_entries ORDER BY subtype_name ASC`
	var entries []models.CatalogEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	return entries, nil
}

// GetBySubtype fetches a catalog entry by its unique subtype name.
func (r *CatalogRepository) GetBySubtype(ctx context.Context, subtypeName string) (*models.CatalogEntry, error) {
	const query = `SELECT id, subtype_name, infotype_code, concept_code, requires_approval, roles_with_access, created_at, updated_at
	FROM catalog_entries WHERE subtype_name = $1`
	var entry models.CatalogEntry
	if err := r.db.GetContext(ctx, &entry, query, subtypeName); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Create inserts a new catalog entry.
func (r *CatalogRepository) Create(ctx context.Context, entry *models.CatalogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	const query = `INSERT INTO catalog_entries
	(id, subtype_name, infotype_code, concept_code, requires_approval, roles_with_access, created_at, updated_at)
	VALUES (:id, :subtype_name, :infotype_code, :concept_code, :requires_approval, :roles_with_access, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCatalogEntry
		}
		return fmt.Errorf("create catalog entry: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns of a catalog entry. The subtype
// name is the business identifier and stays fixed.
func (r *CatalogRepository) Update(ctx context.Context, entry *models.CatalogEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	const query = `UPDATE catalog_entries SET
	infotype_code = :infotype_code, concept_code = :concept_code,
	requires_approval = :requires_approval, roles_with_access = :roles_with_access,
	updated_at = :updated_at
	WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return fmt.Errorf("update catalog entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check catalog update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a catalog entry. Existing incidents keep the payroll
// codes they were stamped with at creation.
func (r *CatalogRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete catalog entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check catalog delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
