package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles for the RBAC system. Source
// system names in parentheses where they differ.
type UserRole string

const (
	RoleSuperAdmin      UserRole = "SUPERADMIN"
	RoleAdministrator   UserRole = "ADMINISTRATOR"
	RoleManager         UserRole = "MANAGER"  // first approval stage ("Gerente")
	RoleReviewer        UserRole = "REVIEWER" // second approval stage ("Ri")
	RoleGPS             UserRole = "GPS"      // referenced reviewer role without a formal stage; read-only authority
	RoleSupervisor      UserRole = "SUPERVISOR"
	RoleFieldRegistrant UserRole = "FIELD_REGISTRANT" // registers from the field ("Inplant"); skips the manager stage
)

// User represents an application user stored in the users table.
type User struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	FullName     string         `db:"full_name" json:"full_name"`
	Role         UserRole       `db:"role" json:"role"`
	Plant        string         `db:"plant" json:"plant"`
	RelatedUsers pq.StringArray `db:"related_users" json:"related_users"`
	Active       bool           `db:"active" json:"active"`
	LastLogin    *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Plant    string
	Active   *bool
	Search   string
	Page     int
	PageSize int
}

// RelatedUser is one entry of a user's reporting adjacency. The
// relation is a flat id list used only for read-side visibility
// filtering, never for authorization.
type RelatedUser struct {
	ID       string   `db:"id" json:"id"`
	FullName string   `db:"full_name" json:"full_name"`
	Email    string   `db:"email" json:"email"`
	Role     UserRole `db:"role" json:"role"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
