package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hr-incidents-api/internal/models"
)

// ErrDuplicateIncident is returned when an insert collides with the
// partial unique index on the business key (active rows only). The
// index makes the duplicate check atomic; there is no pre-read.
var ErrDuplicateIncident = errors.New("duplicate incident")

const incidentColumns = `id, worker_id, worker_name, subtype_name, infotype_code, concept_code,
       registrant_name, registrant_role, state, effective_from, effective_to,
       amount, quantity, hours, folio, email,
       manager_approver, manager_comment, reviewer_approver, reviewer_comment, gps_comment,
       rejection_comment, rejected_by, soft_deleted_at, deleted_by, delete_reason,
       created_at, updated_at`

// IncidentRepository persists incident rows.
type IncidentRepository struct {
	db *sqlx.DB
}

// NewIncidentRepository constructs the repository.
func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create inserts a new incident row.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = now
	}
	incident.UpdatedAt = now
	const query = `INSERT INTO incidents
	(id, worker_id, worker_name, subtype_name, infotype_code, concept_code,
	 registrant_name, registrant_role, state, effective_from, effective_to,
	 amount, quantity, hours, folio, email, gps_comment, created_at, updated_at)
	VALUES (:id, :worker_id, :worker_name, :subtype_name, :infotype_code, :concept_code,
	 :registrant_name, :registrant_role, :state, :effective_from, :effective_to,
	 :amount, :quantity, :hours, :folio, :email, :gps_comment, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, incident); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateIncident
		}
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetByID fetches an incident by identifier, recycled rows included.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	var incident models.Incident
	if err := r.db.GetContext(ctx, &incident, query, id); err != nil {
		return nil, err
	}
	return &incident, nil
}

// List returns incidents matching the filter (newest first). Recycled
// rows are excluded unless the filter asks for them.
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 8)
	builder.WriteString(`SELECT ` + incidentColumns + ` FROM incidents`)

	conditions := make([]string, 0, 5)
	switch {
	case filter.DeletedOnly:
		conditions = append(conditions, "soft_deleted_at IS NOT NULL")
	case !filter.IncludeDeleted:
		conditions = append(conditions, "soft_deleted_at IS NULL")
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.WorkerID != "" {
		args = append(args, filter.WorkerID)
		conditions = append(conditions, fmt.Sprintf("worker_id = $%d", len(args)))
	}
	if filter.SubtypeName != "" {
		args = append(args, filter.SubtypeName)
		conditions = append(conditions, fmt.Sprintf("subtype_name = $%d", len(args)))
	}
	if filter.RegistrantName != "" {
		args = append(args, filter.RegistrantName)
		conditions = append(conditions, fmt.Sprintf("registrant_name = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var incidents []models.Incident
	if err := r.db.SelectContext(ctx, &incidents, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents, nil
}

// TransitionParams groups the columns a committed state change may
// write. Stage attribution goes through COALESCE so a pair set by an
// earlier stage is never overwritten.
type TransitionParams struct {
	ID               string
	FromState        models.IncidentState
	ToState          models.IncidentState
	ManagerApprover  *string
	ManagerComment   *string
	ReviewerApprover *string
	ReviewerComment  *string
	RejectionComment *string
	RejectedBy       *string
}

// ApplyTransition executes the state change as a single guarded UPDATE.
// The WHERE clause pins the expected current state; a concurrent winner
// leaves zero rows for the loser, reported as sql.ErrNoRows.
func (r *IncidentRepository) ApplyTransition(ctx context.Context, params TransitionParams) error {
	const query = `UPDATE incidents SET
	state = :to_state,
	manager_approver = COALESCE(manager_approver, :manager_approver),
	manager_comment = COALESCE(manager_comment, :manager_comment),
	reviewer_approver = COALESCE(reviewer_approver, :reviewer_approver),
	reviewer_comment = COALESCE(reviewer_comment, :reviewer_comment),
	rejection_comment = COALESCE(rejection_comment, :rejection_comment),
	rejected_by = COALESCE(rejected_by, :rejected_by),
	updated_at = :updated_at
	WHERE id = :id AND state = :from_state AND soft_deleted_at IS NULL`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                params.ID,
		"from_state":        params.FromState,
		"to_state":          params.ToState,
		"manager_approver":  params.ManagerApprover,
		"manager_comment":   params.ManagerComment,
		"reviewer_approver": params.ReviewerApprover,
		"reviewer_comment":  params.ReviewerComment,
		"rejection_comment": params.RejectionComment,
		"rejected_by":       params.RejectedBy,
		"updated_at":        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("apply incident transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check incident transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateFieldsParams groups the editable business columns; nil pointers
// are left untouched.
type UpdateFieldsParams struct {
	ID            string
	WorkerName    *string
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	Amount        *float64
	Quantity      *int
	Hours         *float64
	Folio         *string
	Email         *string
}

// UpdateFields edits the mutable business columns of an active incident.
func (r *IncidentRepository) UpdateFields(ctx context.Context, params UpdateFieldsParams) error {
	setParts := make([]string, 0, 9)
	values := map[string]interface{}{
		"id":         params.ID,
		"updated_at": time.Now().UTC(),
	}
	if params.WorkerName != nil {
		setParts = append(setParts, "worker_name = :worker_name")
		values["worker_name"] = *params.WorkerName
	}
	if params.EffectiveFrom != nil {
		setParts = append(setParts, "effective_from = :effective_from")
		values["effective_from"] = *params.EffectiveFrom
	}
	if params.EffectiveTo != nil {
		setParts = append(setParts, "effective_to = :effective_to")
		values["effective_to"] = *params.EffectiveTo
	}
	if params.Amount != nil {
		setParts = append(setParts, "amount = :amount")
		values["amount"] = *params.Amount
	}
	if params.Quantity != nil {
		setParts = append(setParts, "quantity = :quantity")
		values["quantity"] = *params.Quantity
	}
	if params.Hours != nil {
		setParts = append(setParts, "hours = :hours")
		values["hours"] = *params.Hours
	}
	if params.Folio != nil {
		setParts = append(setParts, "folio = :folio")
		values["folio"] = *params.Folio
	}
	if params.Email != nil {
		setParts = append(setParts, "email = :email")
		values["email"] = *params.Email
	}
	if len(setParts) == 0 {
		return nil
	}
	setParts = append(setParts, "updated_at = :updated_at")
	query := fmt.Sprintf("UPDATE incidents SET %s WHERE id = :id AND soft_deleted_at IS NULL",
		strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, values)
	if err != nil {
		return fmt.Errorf("update incident fields: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check incident update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MoveToBin soft-deletes an active incident. Moving a recycled row
// again is a no-op reported as sql.ErrNoRows.
func (r *IncidentRepository) MoveToBin(ctx context.Context, id, deletedBy string, reason *string) error {
	const query = `UPDATE incidents SET
	soft_deleted_at = $2, deleted_by = $3, delete_reason = $4, updated_at = $2
	WHERE id = $1 AND soft_deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC(), deletedBy, reason)
	if err != nil {
		return fmt.Errorf("move incident to bin: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check incident bin rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Recover restores a recycled incident in its pre-deletion state. The
// restore can itself collide with the unique business key when an
// equivalent active row was registered in the meantime. A row that is
// already active reports sql.ErrNoRows; the service treats that as
// recovered.
func (r *IncidentRepository) Recover(ctx context.Context, id string) error {
	const query = `UPDATE incidents SET
	soft_deleted_at = NULL, deleted_by = NULL, delete_reason = NULL, updated_at = $2
	WHERE id = $1 AND soft_deleted_at IS NOT NULL`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateIncident
		}
		return fmt.Errorf("recover incident: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check incident recover rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
