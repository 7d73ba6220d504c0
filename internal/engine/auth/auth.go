// Package auth decides what an actor may do with a resource.
//
// Every role and club-access check in briefline goes through Check so the rules
// live in one table and can be tested without a database or transport.
package auth

import (
	"fmt"

	"briefline/internal/domain"
	"briefline/internal/errs"
)

type Action string

const (
	BriefCreate  Action = "brief.create"
	BriefRead    Action = "brief.read"
	BriefEdit    Action = "brief.edit"
	BriefSubmit  Action = "brief.submit"
	BriefCancel  Action = "brief.cancel"
	BriefDecide  Action = "brief.decide"
	TaskProgress Action = "task.progress"
	TaskOutcome  Action = "task.outcome"
	ClubContext  Action = "club.context"
	AdminManage  Action = "admin.manage"
)

// Actor is the authenticated user as far as permissions are concerned.
type Actor struct {
	ID      string
	Role    string
	ClubIDs []string
}

// ActorFromUser builds an Actor from a stored user.
func ActorFromUser(u domain.User) Actor {
	return Actor{ID: u.ID, Role: u.Role, ClubIDs: u.ClubIDs}
}

// HasClub reports club access. Admins see every club.
func (a Actor) HasClub(clubID string) bool {
	if a.Role == domain.RoleAdmin {
		return true
	}
	return domain.Contains(a.ClubIDs, clubID)
}

// Resource carries the ownership facts a check needs. Unused fields stay empty.
type Resource struct {
	ClubID     string
	OwnerID    string
	AssigneeID string
}

// Decision is the outcome of Check. Reason is set on deny.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a deny into a forbidden error and an allow into nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errs.Forbidden("%s", d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Check reports whether actor may perform action on res.
func Check(actor Actor, res Resource, action Action) Decision {
	if actor.ID == "" {
		return deny("no identity")
	}
	admin := actor.Role == domain.RoleAdmin
	switch action {
	case BriefCreate:
		if actor.Role != domain.RoleClubManager && !admin {
			return deny("role %s cannot create briefs", actor.Role)
		}
		return clubAccess(actor, res)
	case BriefRead:
		// production serves every club
		if actor.Role == domain.RoleProduction {
			return allow()
		}
		return clubAccess(actor, res)
	case BriefEdit, BriefSubmit, BriefCancel:
		if admin {
			return allow()
		}
		if actor.ID != res.OwnerID {
			return deny("only the brief creator may %s it", verb(action))
		}
		return clubAccess(actor, res)
	case BriefDecide:
		if admin {
			return allow()
		}
		if actor.Role != domain.RoleValidator {
			return deny("role %s cannot decide on briefs", actor.Role)
		}
		return clubAccess(actor, res)
	case TaskProgress:
		if actor.Role != domain.RoleProduction {
			return deny("only production staff may progress tasks")
		}
		if res.AssigneeID != "" && res.AssigneeID != actor.ID {
			return deny("task is assigned to %s", res.AssigneeID)
		}
		return allow()
	case TaskOutcome:
		if actor.Role != domain.RoleProduction && !admin {
			return deny("role %s cannot tag outcomes", actor.Role)
		}
		return allow()
	case ClubContext:
		if admin {
			return allow()
		}
		if actor.Role != domain.RoleClubManager {
			return deny("role %s cannot edit club context", actor.Role)
		}
		return clubAccess(actor, res)
	case AdminManage:
		if !admin {
			return deny("admin role required")
		}
		return allow()
	}
	return deny("unknown action %s", action)
}

func clubAccess(actor Actor, res Resource) Decision {
	if !actor.HasClub(res.ClubID) {
		return deny("no access to club %s", res.ClubID)
	}
	return allow()
}

func verb(a Action) string {
	switch a {
	case BriefEdit:
		return "edit"
	case BriefSubmit:
		return "submit"
	case BriefCancel:
		return "cancel"
	}
	return string(a)
}
