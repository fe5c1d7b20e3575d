package dto

import "github.com/noah-isme/hr-incidents-api/internal/models"

// CreateIncidentRequest is the payload for registering a new incident.
// Dates use the YYYY-MM-DD layout. Registrant identity comes from the
// authenticated actor, never from the payload.
type CreateIncidentRequest struct {
	WorkerID      string   `json:"worker_id" validate:"required"`
	WorkerName    string   `json:"worker_name" validate:"required"`
	SubtypeName   string   `json:"subtype_name" validate:"required"`
	EffectiveFrom string   `json:"effective_from" validate:"required"`
	EffectiveTo   string   `json:"effective_to" validate:"required"`
	Amount        *float64 `json:"amount,omitempty"`
	Quantity      *int     `json:"quantity,omitempty"`
	Hours         *float64 `json:"hours,omitempty"`
	Folio         *string  `json:"folio,omitempty"`
	Email         *string  `json:"email,omitempty" validate:"omitempty,email"`
}

// TransitionRequest asks for an explicit state change.
type TransitionRequest struct {
	RequestedState models.IncidentState `json:"requested_state" validate:"required"`
	Comment        string               `json:"comment,omitempty"`
}

// DecisionRequest carries the optional (approve) or mandatory (reject)
// comment for the convenience endpoints.
type DecisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

// UpdateIncidentRequest edits mutable business fields. State and stage
// attribution are never editable through this payload.
type UpdateIncidentRequest struct {
	WorkerName    *string  `json:"worker_name,omitempty"`
	EffectiveFrom *string  `json:"effective_from,omitempty"`
	EffectiveTo   *string  `json:"effective_to,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Quantity      *int     `json:"quantity,omitempty"`
	Hours         *float64 `json:"hours,omitempty"`
	Folio         *string  `json:"folio,omitempty"`
	Email         *string  `json:"email,omitempty" validate:"omitempty,email"`
}

// BinRequest moves an incident to the recycle bin.
type BinRequest struct {
	Reason string `json:"reason,omitempty"`
}

// IncidentQuery captures list filters from the query string.
type IncidentQuery struct {
	States      []models.IncidentState
	WorkerID    string
	SubtypeName string
	DeletedOnly bool
	Limit       int
	Offset      int
}
