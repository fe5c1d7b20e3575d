package dto

// CreateCatalogEntryRequest registers a new incident subtype.
type CreateCatalogEntryRequest struct {
	SubtypeName      string   `json:"subtype_name" validate:"required"`
	InfotypeCode     string   `json:"infotype_code" validate:"required"`
	ConceptCode      string   `json:"concept_code" validate:"required"`
	RequiresApproval bool     `json:"requires_approval"`
	RolesWithAccess  []string `json:"roles_with_access"`
}

// UpdateCatalogEntryRequest edits an existing subtype definition.
type UpdateCatalogEntryRequest struct {
	InfotypeCode     *string  `json:"infotype_code,omitempty"`
	ConceptCode      *string  `json:"concept_code,omitempty"`
	RequiresApproval *bool    `json:"requires_approval,omitempty"`
	RolesWithAccess  []string `json:"roles_with_access,omitempty"`
}
