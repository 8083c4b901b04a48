// Package policy decides which document operations an actor may perform.
//
// Decisions are advisory: they drive which affordances a client offers. The
// service enforces access on every request and its answer always wins.
package policy

import (
	"strings"
	"time"

	"github.com/jun/docshare/internal/model"
)

// Action is an operation on a document.
type Action string

const (
	ActionRead               Action = "read"
	ActionWrite              Action = "write"
	ActionInvite             Action = "invite"
	ActionRemoveCollaborator Action = "removeCollaborator"
	ActionDelete             Action = "delete"
	ActionExport             Action = "export"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionRead, ActionWrite, ActionInvite,
	ActionRemoveCollaborator, ActionDelete, ActionExport,
}

// ParseAction returns the action named s.
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// ShareGrant is what an anonymous holder knows about its share token.
type ShareGrant struct {
	Token      model.ShareToken
	DocumentID string
	// ExpiresAt is zero when the holder does not know the expiry.
	ExpiresAt time.Time
}

// Actor is the party requesting an action: an authenticated identity or the
// holder of a share token. The zero Actor is anonymous without a grant.
type Actor struct {
	Identity *model.Identity
	Share    *ShareGrant
}

// User returns an actor for an authenticated identity.
func User(id model.Identity) Actor { return Actor{Identity: &id} }

// Holder returns an actor for a share token holder.
func Holder(g ShareGrant) Actor { return Actor{Share: &g} }

// Decision is the outcome of Decide. Reason is nil when allowed and is one
// of model.ErrInsufficientRole or model.ErrNotAuthorized otherwise.
type Decision struct {
	Allowed bool
	Reason  error
}

var (
	allow             = Decision{Allowed: true}
	insufficientRole  = Decision{Reason: model.ErrInsufficientRole}
	notAuthorized     = Decision{Reason: model.ErrNotAuthorized}
	editorActions     = set(ActionRead, ActionWrite, ActionExport)
	viewerActions     = set(ActionRead, ActionExport)
	shareHolderAction = set(ActionRead)
)

func set(actions ...Action) map[Action]bool {
	m := make(map[Action]bool, len(actions))
	for _, a := range actions {
		m[a] = true
	}
	return m
}

func permit(allowed map[Action]bool, a Action) Decision {
	if allowed[a] {
		return allow
	}
	return insufficientRole
}

// Decide evaluates the rules in order; the first that matches wins.
//
//  1. the owner may do anything
//  2. an edit collaborator may read, write and export
//  3. a view collaborator may read and export
//  4. a holder of an unexpired share token for this document may read
//  5. everyone else is not authorized
func Decide(actor Actor, doc model.AccessView, action Action, now time.Time) Decision {
	if id := actor.Identity; id != nil {
		if isOwner(*id, doc) {
			return allow
		}
		if c, ok := findCollaborator(*id, doc); ok {
			switch c.Role {
			case model.RoleEdit:
				return permit(editorActions, action)
			case model.RoleView:
				return permit(viewerActions, action)
			}
		}
	}

	if g := actor.Share; g != nil && g.Token != "" && g.DocumentID == doc.ID {
		if g.ExpiresAt.IsZero() || now.Before(g.ExpiresAt) {
			return permit(shareHolderAction, action)
		}
	}

	return notAuthorized
}

// Allowed returns the subset of Actions that Decide permits.
func Allowed(actor Actor, doc model.AccessView, now time.Time) []Action {
	var out []Action
	for _, a := range Actions {
		if Decide(actor, doc, a, now).Allowed {
			out = append(out, a)
		}
	}
	return out
}

func isOwner(id model.Identity, doc model.AccessView) bool {
	if id.UserID != "" && doc.OwnerID != "" {
		return id.UserID == doc.OwnerID
	}
	return id.Email != "" && strings.EqualFold(id.Email, doc.OwnerEmail)
}

func findCollaborator(id model.Identity, doc model.AccessView) (model.Collaborator, bool) {
	for _, c := range doc.Collaborators {
		if id.UserID != "" && c.UserID != "" {
			if id.UserID == c.UserID {
				return c, true
			}
			continue
		}
		if id.Email != "" && strings.EqualFold(id.Email, c.UserRef) {
			return c, true
		}
	}
	return model.Collaborator{}, false
}
