package executor

import (
	"github.com/odyssey-erp/odyssey-edge/internal/auth"
	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

// Authorize checks a unit access requirement: "public", "authenticated" or a role
// name. Admins satisfy every role requirement.
func Authorize(access string, user *auth.UserInfo) error {
	switch access {
	case auth.RolePublic:
		return nil
	case "", auth.RoleAuthenticated:
		if user == nil {
			return httpx.Errorf(httpx.ErrForbidden, "authentication required")
		}
		return nil
	default:
		if user == nil {
			return httpx.Errorf(httpx.ErrForbidden, "authentication required")
		}
		if user.HasRole(access) || user.IsAdmin() {
			return nil
		}
		return httpx.Errorf(httpx.ErrForbidden, "role %s required", access)
	}
}
