package dispatcher

import (
	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/models"
)

const (
	roleGuest  = "guest"
	roleSystem = "system"
)

// Actor is whoever asks for an operation.
type Actor struct {
	ID       string
	Username string
	Role     string
	// SessionID is the session a guest token is bound to.
	SessionID string
}

// StaffActor builds an actor from validated staff claims.
func StaffActor(c *auth.Claims) Actor {
	return Actor{ID: c.Subject, Username: c.Username, Role: c.Role}
}

// UserActor builds an actor from a staff user record.
func UserActor(u *models.StaffUser) Actor {
	return Actor{ID: u.ID, Username: u.Username, Role: u.Role}
}

// GuestActor is the end user holding the guest token for sessionID.
func GuestActor(sessionID string) Actor {
	return Actor{ID: "guest:" + sessionID, Username: "user", Role: roleGuest, SessionID: sessionID}
}

// SystemActor is used by background jobs.
func SystemActor() Actor {
	return Actor{ID: roleSystem, Username: roleSystem, Role: roleSystem}
}

func (a Actor) isStaff() bool {
	return a.Role == models.RoleStaff || a.Role == models.RoleAdmin
}

func (a Actor) isElevated() bool {
	return a.Role == models.RoleAdmin
}

func (a Actor) isGuest() bool {
	return a.Role == roleGuest
}

// authorize checks the actor against the session before any state rule.
func authorize(a Actor, s *models.Session, op Operation) error {
	if _, ok := op.(Submit); ok {
		if a.isGuest() && a.SessionID == s.ID {
			return nil
		}
		return &PermissionError{Actor: a.Username, Op: op.Name()}
	}
	return authorizeStaff(a, s, op.Name(), elevatedOnly(op))
}

func authorizeStaff(a Actor, s *models.Session, op string, elevated bool) error {
	if !a.isStaff() {
		return &PermissionError{Actor: a.Username, Op: op}
	}
	if elevated && !a.isElevated() {
		return &PermissionError{Actor: a.Username, Op: op, Elevated: true}
	}
	if !a.isElevated() && s.AgentID != a.ID {
		return &PermissionError{Actor: a.Username, Op: op}
	}
	return nil
}
