package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Stage is a position in the verification pipeline.
type Stage string

// Verification stages in pipeline order.
const (
	StageCaseID      Stage = "case_id"
	StageCredentials Stage = "credentials"
	StageSecretKey   Stage = "secret_key"
	StageKYC         Stage = "kyc"
	StageCompleted   Stage = "completed"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageCaseID, StageCredentials, StageSecretKey, StageKYC, StageCompleted}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a session, orthogonal to its stage.
type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusTerminated:
		return true
	}
	return false
}

// Session is one verification case.
type Session struct {
	ID             string     `json:"uuid" db:"id"`
	CaseID         string     `json:"case_id" db:"case_id"`
	AgentID        string     `json:"agent_id" db:"agent_id"`
	Stage          Stage      `json:"stage" db:"stage"`
	Status         Status     `json:"status" db:"status"`
	UserOnline     bool       `json:"user_online" db:"user_online"`
	UserName       string     `json:"user_name" db:"user_name"`
	UserEmail      string     `json:"user_email" db:"user_email"`
	Notes          string     `json:"notes" db:"notes"`
	UserData       UserData   `json:"user_data" db:"user_data"`
	Version        int64      `json:"version" db:"version"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the session still accepts mutations.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.UserData = s.UserData.Clone()
	if s.LastActivityAt != nil {
		t := *s.LastActivityAt
		cp.LastActivityAt = &t
	}
	return &cp
}

// Submission is end-user input awaiting an agent decision.
type Submission struct {
	Stage       Stage          `json:"stage"`
	Data        map[string]any `json:"data"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// VerifiedEntry is an accepted payload plus its audit stamp.
type VerifiedEntry struct {
	Data       map[string]any `json:"data"`
	VerifiedAt time.Time      `json:"verified_at"`
	VerifiedBy string         `json:"verified_by"`
}

// Resolution kinds recorded when a session is closed out of band.
const (
	ResolutionForceComplete = "force_complete"
	ResolutionUnsuccessful  = "unsuccessful"
	ResolutionEnded         = "ended"
	ResolutionExpired       = "expired"
)

// Resolution records how and why a session was closed.
type Resolution struct {
	Kind    string    `json:"kind"`
	Reason  string    `json:"reason,omitempty"`
	Comment string    `json:"comment,omitempty"`
	By      string    `json:"by"`
	At      time.Time `json:"at"`
}

// UserData is the structured payload persisted as JSON in sessions.user_data.
type UserData struct {
	CurrentSubmission *Submission              `json:"current_submission"`
	VerifiedData      map[Stage]*VerifiedEntry `json:"verified_data"`
	Resolution        *Resolution              `json:"resolution,omitempty"`
}

// Clone deep-copies the payload.
func (u UserData) Clone() UserData {
	var cp UserData
	if u.CurrentSubmission != nil {
		sub := *u.CurrentSubmission
		sub.Data = cloneMap(u.CurrentSubmission.Data)
		cp.CurrentSubmission = &sub
	}
	if u.VerifiedData != nil {
		cp.VerifiedData = make(map[Stage]*VerifiedEntry, len(u.VerifiedData))
		for k, v := range u.VerifiedData {
			if v == nil {
				continue
			}
			entry := *v
			entry.Data = cloneMap(v.Data)
			cp.VerifiedData[k] = &entry
		}
	}
	if u.Resolution != nil {
		res := *u.Resolution
		cp.Resolution = &res
	}
	return cp
}

// Value implements driver.Valuer.
func (u UserData) Value() (driver.Value, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (u *UserData) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*u = UserData{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported user_data column type")
	}
	if len(raw) == 0 {
		*u = UserData{}
		return nil
	}
	var out UserData
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	*u = out
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SessionFilter narrows a session listing. Empty fields match everything.
type SessionFilter struct {
	Status  Status
	Stage   Stage
	AgentID string
}
