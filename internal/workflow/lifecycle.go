// Package workflow holds the incident approval state machine: the
// initial-state rule, the transition table, and the per-edge role
// capability table. Everything here is pure; persistence and side
// effects live in the incident service.
package workflow

import "github.com/noah-isme/hr-incidents-api/internal/models"

// transitions is the exhaustive set of directed edges. States absent
// from the map (or mapped to an empty slice) are terminal.
var transitions = map[models.IncidentState][]models.IncidentState{
	models.StatePendingManager:  {models.StatePendingReviewer, models.StateRejected},
	models.StatePendingReviewer: {models.StateApproved, models.StateRejected},
	models.StateApproved:        {},
	models.StateRejected:        {},
	models.StateNotApplicable:   {},
}

// InitialState selects the state a freshly created incident starts in.
// Field registrants skip the manager stage; subtypes without approval
// requirements are terminal on arrival.
func InitialState(requiresApproval bool, registrant models.UserRole) models.IncidentState {
	switch {
	case !requiresApproval:
		return models.StateNotApplicable
	case registrant == models.RoleFieldRegistrant:
		return models.StatePendingReviewer
	default:
		return models.StatePendingManager
	}
}

// ValidState reports whether s is one of the five defined states.
func ValidState(s models.IncidentState) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether (from, to) is a listed edge.
func CanTransition(from, to models.IncidentState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no edge leaves the state.
func IsTerminal(s models.IncidentState) bool {
	return len(transitions[s]) == 0
}

// IsApproveEdge reports whether the edge advances the approval chain
// (as opposed to rejecting it). Only approve edges record stage
// approver/comment pairs.
func IsApproveEdge(from, to models.IncidentState) bool {
	if !CanTransition(from, to) {
		return false
	}
	return to != models.StateRejected
}

// ApproveTarget returns the state an approval from the given state leads
// to, and whether an approve edge exists at all.
func ApproveTarget(from models.IncidentState) (models.IncidentState, bool) {
	for _, next := range transitions[from] {
		if next != models.StateRejected {
			return next, true
		}
	}
	return "", false
}
