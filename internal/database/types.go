package database

import (
	"fmt"
	"strings"
	"time"
)

// Role distinguishes the two kinds of people the system tracks.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// ParseRole parses a role case-insensitively ("Student", "TEACHER", ...).
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleTeacher:
		return RoleTeacher, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// Title returns the capitalized role for display.
func (r Role) Title() string {
	if r == "" {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

// Identity is an enrolled person. ID is immutable once enrolled.
type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        Role   `json:"role"`
	Branch      string `json:"branch,omitempty"`      // students only, empty if unset
	Designation string `json:"designation,omitempty"` // teachers only, empty if unset
}

// Affiliation returns the branch for students and the designation for teachers,
// falling back to whichever is set.
func (i Identity) Affiliation() string {
	if i.Role == RoleTeacher && i.Designation != "" {
		return i.Designation
	}
	if i.Branch != "" {
		return i.Branch
	}
	return i.Designation
}

// EnrolledIdentity pairs an identity with its current face embedding.
// Embedding is nil when the identity exists but has no enrolled face.
type EnrolledIdentity struct {
	Identity  Identity
	Embedding []float32
	UpdatedAt time.Time
}

// AttendanceRecord is an append-only attendance event.
type AttendanceRecord struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	Name        string    `json:"name"`
	Role        Role      `json:"role"`
	Branch      string    `json:"branch,omitempty"`
	Designation string    `json:"designation,omitempty"`
	Date        string    `json:"date"`        // YYYY-MM-DD
	TimeOfDay   string    `json:"time_of_day"` // HH:MM:SS
	Timestamp   time.Time `json:"timestamp"`
}

// Date and time layouts used for AttendanceRecord.Date and TimeOfDay.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// AttendanceFilter narrows a history query. Zero-valued fields are ignored;
// set fields are combined with AND.
type AttendanceFilter struct {
	IdentityID string
	Date       string // YYYY-MM-DD
	Role       Role
	Limit      int // 0 means no limit
}

// Matches reports whether rec satisfies every set field of f.
// Limit is not considered.
func (f AttendanceFilter) Matches(rec AttendanceRecord) bool {
	if f.IdentityID != "" && rec.IdentityID != f.IdentityID {
		return false
	}
	if f.Date != "" && rec.Date != f.Date {
		return false
	}
	if f.Role != "" && rec.Role != f.Role {
		return false
	}
	return true
}

// Validate checks that the filter fields are well formed.
func (f AttendanceFilter) Validate() error {
	if f.Date != "" {
		if _, err := time.Parse(DateLayout, f.Date); err != nil {
			return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", f.Date)
		}
	}
	if f.Role != "" && !f.Role.Valid() {
		return fmt.Errorf("invalid role %q", f.Role)
	}
	if f.Limit < 0 {
		return fmt.Errorf("invalid limit %d", f.Limit)
	}
	return nil
}
