// Package identity handles user accounts, credential checks and bearer
// tokens. Authorization decisions live in the gateway package; identity
// only establishes who is calling.
package identity

import (
	"time"

	"github.com/google/uuid"
)

const (
	// MaxFailedLogins is the number of consecutive bad passwords
	// before an account is locked.
	MaxFailedLogins = 5
	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration = 30 * time.Minute

	MinPasswordLength = 8
)

// User is a stored account, password hash included. It never crosses
// the HTTP boundary; handlers convert to shared.Principal or a response
// struct first.
type User struct {
	ID                  uuid.UUID
	Username            string
	Email               string
	PasswordHash        string
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	Roles               []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account is locked at the given instant.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
