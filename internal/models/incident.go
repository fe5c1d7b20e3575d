package models

import "time"

// IncidentState captures the approval workflow states. Source system
// names: Pendiente_Gerente, Pendiente_RI, Aprobado, Rechazado, No_Aplica.
type IncidentState string

const (
	StatePendingManager  IncidentState = "PENDING_MANAGER"
	StatePendingReviewer IncidentState = "PENDING_REVIEWER"
	StateApproved        IncidentState = "APPROVED"
	StateRejected        IncidentState = "REJECTED"
	StateNotApplicable   IncidentState = "NOT_APPLICABLE"
)

// Incident is one HR/payroll exception record tied to a worker and a
// catalog subtype. workerID, subtypeName, registrantName and createdAt
// are immutable once set.
type Incident struct {
	ID             string        `db:"id" json:"id"`
	WorkerID       string        `db:"worker_id" json:"worker_id"`
	WorkerName     string        `db:"worker_name" json:"worker_name"`
	SubtypeName    string        `db:"subtype_name" json:"subtype_name"`
	InfotypeCode   string        `db:"infotype_code" json:"infotype_code"`
	ConceptCode    string        `db:"concept_code" json:"concept_code"`
	RegistrantName string        `db:"registrant_name" json:"registrant_name"`
	RegistrantRole UserRole      `db:"registrant_role" json:"registrant_role"`
	State          IncidentState `db:"state" json:"state"`
	EffectiveFrom  time.Time     `db:"effective_from" json:"effective_from"`
	EffectiveTo    time.Time     `db:"effective_to" json:"effective_to"`

	Amount   *float64 `db:"amount" json:"amount,omitempty"`
	Quantity *int     `db:"quantity" json:"quantity,omitempty"`
	Hours    *float64 `db:"hours" json:"hours,omitempty"`
	Folio    *string  `db:"folio" json:"folio,omitempty"`
	Email    *string  `db:"email" json:"email,omitempty"`

	// Per-stage attribution: each pair is written at most once, by the
	// approval that completes that stage.
	ManagerApprover  *string `db:"manager_approver" json:"manager_approver,omitempty"`
	ManagerComment   *string `db:"manager_comment" json:"manager_comment,omitempty"`
	ReviewerApprover *string `db:"reviewer_approver" json:"reviewer_approver,omitempty"`
	ReviewerComment  *string `db:"reviewer_comment" json:"reviewer_comment,omitempty"`

	// GPSComment belongs to a reviewer role the source references but
	// never gave a formal stage. Kept as an extension point; no
	// transition writes it.
	GPSComment *string `db:"gps_comment" json:"gps_comment,omitempty"`

	// RejectedBy is the structured attribution; RejectionComment also
	// embeds it in prose for compatibility with the legacy UI.
	RejectionComment *string `db:"rejection_comment" json:"rejection_comment,omitempty"`
	RejectedBy       *string `db:"rejected_by" json:"rejected_by,omitempty"`

	SoftDeletedAt *time.Time `db:"soft_deleted_at" json:"soft_deleted_at,omitempty"`
	DeletedBy     *string    `db:"deleted_by" json:"deleted_by,omitempty"`
	DeleteReason  *string    `db:"delete_reason" json:"delete_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Deleted reports whether the incident currently sits in the recycle bin.
func (i *Incident) Deleted() bool {
	return i.SoftDeletedAt != nil
}

// IncidentFilter constrains listing queries.
type IncidentFilter struct {
	States         []IncidentState
	WorkerID       string
	SubtypeName    string
	RegistrantName string
	DeletedOnly    bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// IncidentEvent is the domain event emitted after a committed state
// change. The notification dispatcher resolves it to a recipient role
// group; the lifecycle knows nothing about transport.
type IncidentEvent struct {
	IncidentID string        `json:"incident_id"`
	FromState  IncidentState `json:"from_state"`
	ToState    IncidentState `json:"to_state"`
	ActorRole  UserRole      `json:"actor_role"`
}
