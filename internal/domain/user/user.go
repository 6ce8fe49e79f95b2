package user

import (
	"fmt"
	"regexp"
	"time"
)

// MaxUsernameLen matches the users.username column.
const MaxUsernameLen = 50

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// User owns posts. Authentication lives outside this service.
type User struct {
	id        int64
	username  string
	createdAt time.Time
}

// New validates a username and creates an unsaved User.
func New(username string) (User, error) {
	if username == "" {
		return User{}, fmt.Errorf("username is required")
	}
	if len(username) > MaxUsernameLen {
		return User{}, fmt.Errorf("username too long (max %d)", MaxUsernameLen)
	}
	if !usernameRegex.MatchString(username) {
		return User{}, fmt.Errorf("username may contain letters, digits, '_', '.' and '-' only")
	}
	return User{username: username}, nil
}

// Reconstruct creates a User from storage without validation.
func Reconstruct(id int64, username string, createdAt time.Time) User {
	return User{id: id, username: username, createdAt: createdAt}
}

// ID returns the user identifier.
func (u *User) ID() int64 { return u.id }

// Username returns the unique handle.
func (u *User) Username() string { return u.username }

// CreatedAt returns the registration time.
func (u *User) CreatedAt() time.Time { return u.createdAt }
