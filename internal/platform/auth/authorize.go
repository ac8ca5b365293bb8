package auth

import (
	"strings"

	"LIBRIS-backend/internal/platform/apperr"
)

func RequireAdmin(p Principal) error {
	if !p.IsAdmin() {
		return apperr.Forbidden("admin role required")
	}
	return nil
}

// RequireSelfOrAdmin は所有者本人か admin のみ通す。
func RequireSelfOrAdmin(p Principal, ownerID string) error {
	if p.IsAdmin() || (p.UserID != "" && p.UserID == ownerID) {
		return nil
	}
	return apperr.Forbidden("not allowed to access another user's records")
}

// ResolveUserScope decides whose records a listing covers.
// It returns "" when an admin asked for everything.
//   - target empty, all=false: the caller's own records
//   - target set: self, or anyone for admins
//   - all=true: admins only
func ResolveUserScope(p Principal, target string, all bool) (string, error) {
	target = strings.TrimSpace(target)
	if all {
		if !p.IsAdmin() {
			return "", apperr.Forbidden("only admins may list all users")
		}
		if target == "" {
			return "", nil
		}
	}
	if target == "" {
		if p.UserID == "" {
			return "", apperr.Invalid("user id is required")
		}
		return p.UserID, nil
	}
	if err := RequireSelfOrAdmin(p, target); err != nil {
		return "", err
	}
	return target, nil
}
