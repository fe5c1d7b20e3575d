package models

import (
	"time"

	"github.com/lib/pq"
)

// CatalogEntry defines one incident subtype: its payroll coding, whether
// submissions need the approval chain, and which roles may see the
// resulting incidents. Entries are read-only for the lifecycle; only
// the catalog admin endpoints mutate them.
type CatalogEntry struct {
	ID               string         `db:"id" json:"id"`
	SubtypeName      string         `db:"subtype_name" json:"subtype_name"`
	InfotypeCode     string         `db:"infotype_code" json:"infotype_code"`
	ConceptCode      string         `db:"concept_code" json:"concept_code"`
	RequiresApproval bool           `db:"requires_approval" json:"requires_approval"`
	RolesWithAccess  pq.StringArray `db:"roles_with_access" json:"roles_with_access"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// VisibleTo reports whether incidents of this subtype are visible to the
// given role. An empty access list means visible to everyone.
func (e *CatalogEntry) VisibleTo(role UserRole) bool {
	if len(e.RolesWithAccess) == 0 {
		return true
	}
	for _, r := range e.RolesWithAccess {
		if UserRole(r) == role {
			return true
		}
	}
	return false
}
