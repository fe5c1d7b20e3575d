package workflow

import "github.com/noah-isme/hr-incidents-api/internal/models"

// Edge identifies one directed transition.
type Edge struct {
	From models.IncidentState
	To   models.IncidentState
}

// capabilities is the single authorization table for transitions. The
// manager owns the first stage, the reviewer the second; nobody else
// holds transition authority. Administrator-tier roles see everything
// but deliberately get no extra edges here. The GPS reviewer role has
// no stage in the state enum yet; when the product decides, its edges
// belong in this table and nowhere else.
var capabilities = map[Edge][]models.UserRole{
	{models.StatePendingManager, models.StatePendingReviewer}: {models.RoleManager},
	{models.StatePendingManager, models.StateRejected}:        {models.RoleManager},
	{models.StatePendingReviewer, models.StateApproved}:       {models.RoleReviewer},
	{models.StatePendingReviewer, models.StateRejected}:       {models.RoleReviewer},
}

// Allowed reports whether the role may execute the (from, to) edge.
// Unknown edges are never allowed.
func Allowed(role models.UserRole, from, to models.IncidentState) bool {
	for _, r := range capabilities[Edge{From: from, To: to}] {
		if r == role {
			return true
		}
	}
	return false
}
