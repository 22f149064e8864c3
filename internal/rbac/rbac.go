// Package rbac evaluates the permission grants attached to annotations.
package rbac

import "github.com/ccamacho/madison/internal/store"

type Action string

const (
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Allows reports whether one grant lets userID perform action. Admin
// implies every other action.
func Allows(grant store.PermissionContent, userID string, action Action) bool {
	if userID == "" || grant.UserID != userID {
		return false
	}
	if grant.Admin {
		return true
	}
	switch action {
	case ActionRead:
		return grant.Read
	case ActionUpdate:
		return grant.Update
	case ActionDelete:
		return grant.Delete
	default:
		return false
	}
}

// Can reports whether userID may perform action on an annotation written
// by authorID and carrying grants. Authors may always act on their own
// annotations.
func Can(authorID, userID string, grants []store.PermissionContent, action Action) bool {
	if userID != "" && userID == authorID {
		return true
	}
	for _, grant := range grants {
		if Allows(grant, userID, action) {
			return true
		}
	}
	return false
}
