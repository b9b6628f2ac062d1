package store

import (
	"strconv"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
)

// Scope is the tenant filter applied to every query.
type Scope struct {
	ActorID int64
	Role    models.Role
	Global  bool
}

// NewScope builds the scope for actor. Only admins may ask for the global
// view, which selects the shared rows instead of the actor's own.
func NewScope(actor models.Actor, globalView bool) (Scope, error) {
	if actor.UserID <= 0 {
		return Scope{}, errs.Validation("store.NewScope", "actor id must be positive, got %d", actor.UserID)
	}
	role := actor.Role
	if role == "" {
		role = models.RoleUser
	}
	if role != models.RoleUser && role != models.RoleAdmin {
		return Scope{}, errs.Validation("store.NewScope", "unknown role %q", role)
	}
	if globalView && role != models.RoleAdmin {
		return Scope{}, errs.Validation("store.NewScope", "global view requires the admin role")
	}
	return Scope{ActorID: actor.UserID, Role: role, Global: globalView}, nil
}

// UserScope is shorthand for a plain user's own rows.
func UserScope(userID int64) Scope {
	return Scope{ActorID: userID, Role: models.RoleUser}
}

// Clause returns the tenant predicate for table alias (empty for none) using
// placeholder $argPos, and the value to bind there. Only two fixed shapes
// exist: "owner_id = $n" bound to the actor, or "is_global = $n" bound to true.
func (s Scope) Clause(alias string, argPos int) (string, any) {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	placeholder := "$" + strconv.Itoa(argPos)
	if s.Global {
		return prefix + "is_global = " + placeholder, true
	}
	return prefix + "owner_id = " + placeholder, s.ActorID
}

// Allows reports whether a row with the given owner and global flag is
// visible in this scope.
func (s Scope) Allows(ownerID int64, isGlobal bool) bool {
	if s.Global {
		return isGlobal
	}
	return ownerID == s.ActorID
}

// Stamp sets the owner and global flag of a row created in this scope.
func (s Scope) Stamp(ownerID *int64, isGlobal *bool) {
	*ownerID = s.ActorID
	*isGlobal = s.Global
}
