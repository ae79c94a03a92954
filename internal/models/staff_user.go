package models

import "time"

// Staff roles. RoleAdmin is the elevated tier.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// StaffUser is an agent or administrator who operates the control room.
type StaffUser struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// IsElevated reports whether the user holds the admin role.
func (u *StaffUser) IsElevated() bool {
	return u != nil && u.Role == RoleAdmin
}
