package rbac

import "github.com/anesthmed/anesthmed/internal/shared"

// Header names carrying the identity asserted by the upstream gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

// Principal describes the authenticated actor and what it may do.
type Principal struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Role        shared.Role `json:"role"`
	Permissions []string    `json:"permissions"`
}
