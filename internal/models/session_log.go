package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LogType classifies an audit entry.
type LogType string

const (
	LogInfo           LogType = "info"
	LogUserInput      LogType = "user_input"
	LogAgentAction    LogType = "agent_action"
	LogDeviceMetadata LogType = "device_metadata"
	LogUserActivity   LogType = "user_activity"
	LogPageView       LogType = "page_view"
	LogSessionStart   LogType = "session_start"
	LogUserConnection LogType = "user_connection"
	LogSystem         LogType = "system"
)

// Log categories accepted by the log listing endpoint.
const (
	LogCategoryAll    = "all"
	LogCategoryUser   = "user"
	LogCategoryAgent  = "agent"
	LogCategorySystem = "system"
)

// LogTypesForCategory maps a listing category to the log types it covers.
// A nil result means no filtering.
func LogTypesForCategory(category string) []LogType {
	switch category {
	case LogCategoryUser:
		return []LogType{LogUserInput, LogDeviceMetadata, LogUserActivity, LogPageView, LogSessionStart, LogUserConnection}
	case LogCategoryAgent:
		return []LogType{LogAgentAction}
	case LogCategorySystem:
		return []LogType{LogInfo, LogSystem}
	}
	return nil
}

// SessionLog is one audit entry for a session.
type SessionLog struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	LogType   LogType   `json:"log_type" db:"log_type"`
	Actor     string    `json:"actor" db:"actor"`
	Message   string    `json:"message" db:"message"`
	ExtraData ExtraData `json:"extra_data" db:"extra_data"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExtraData is a free-form JSON object attached to a log entry.
type ExtraData map[string]any

// Value implements driver.Valuer.
func (e ExtraData) Value() (driver.Value, error) {
	if e == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(e))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra data: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (e *ExtraData) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported extra_data column type")
	}
	if len(raw) == 0 {
		*e = nil
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to unmarshal extra data: %w", err)
	}
	*e = out
	return nil
}
