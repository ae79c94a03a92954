package dispatcher

import (
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/stage"
)

// Operation is one mutation of an existing session. The set is closed; Apply
// switches over the concrete types below.
type Operation interface {
	// Name identifies the operation in logs, metrics and permission errors.
	Name() string
	operation()
}

// Submit stores end-user data for the session's current stage.
type Submit struct {
	Stage models.Stage
	Data  map[string]any
}

// Accept approves the pending submission for Stage and moves forward.
type Accept struct {
	Stage models.Stage
}

// Reject drops the pending submission for Stage. An empty Reason selects the
// stage default.
type Reject struct {
	Stage  models.Stage
	Reason string
}

// Navigate moves the session along the transition table.
type Navigate struct {
	Target models.Stage
	Clear  stage.ClearMode
	Reason string
}

// ForceComplete jumps straight to completed. The status is only changed when
// CloseSession is set.
type ForceComplete struct {
	Reason       string
	CloseSession bool
}

// MarkUnsuccessful closes the session as failed.
type MarkUnsuccessful struct {
	Reason  string
	Comment string
}

// End terminates the session from whatever stage it is in.
type End struct {
	Reason string
}

// SaveNotes replaces the agent notes.
type SaveNotes struct {
	Notes string
}

// UpdateDetails edits contact details. Nil fields are left unchanged.
type UpdateDetails struct {
	UserName  *string
	UserEmail *string
	Notes     *string
}

func (Submit) Name() string           { return "submit" }
func (Accept) Name() string           { return "accept" }
func (Reject) Name() string           { return "reject" }
func (Navigate) Name() string         { return "navigate" }
func (ForceComplete) Name() string    { return "force_complete" }
func (MarkUnsuccessful) Name() string { return "mark_unsuccessful" }
func (End) Name() string              { return "end" }
func (SaveNotes) Name() string        { return "save_notes" }
func (UpdateDetails) Name() string    { return "update_details" }

func (Submit) operation()           {}
func (Accept) operation()           {}
func (Reject) operation()           {}
func (Navigate) operation()         {}
func (ForceComplete) operation()    {}
func (MarkUnsuccessful) operation() {}
func (End) operation()              {}
func (SaveNotes) operation()        {}
func (UpdateDetails) operation()    {}

// elevatedOnly reports whether op needs the admin role regardless of who
// owns the session.
func elevatedOnly(op Operation) bool {
	switch o := op.(type) {
	case ForceComplete, MarkUnsuccessful:
		return true
	case Navigate:
		return o.Clear == stage.ClearAll
	}
	return false
}
